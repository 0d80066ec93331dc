package clearsky

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 11, 21, 13, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"rfc3339", "2024-11-21T13:00:00Z"},
		{"millis", "2024-11-21T13:00:00.000Z"},
		{"offset", "2024-11-21T14:00:00+01:00"},
		{"space", "2024-11-21 13:00:00"},
		{"no seconds", "2024-11-21 13:00"},
		{"dotted", "21.11.2024 13:00:00"},
		{"padded", "  2024-11-21T13:00:00Z "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input, nil)
			require.NoError(t, err)
			assert.True(t, want.Equal(ts), "got %s", ts)
		})
	}
}

func TestParseTimestamp_Location(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	ts, err := ParseTimestamp("2018-03-01 12:00:00", cet)
	require.NoError(t, err)
	assert.Equal(t, 12, ts.Hour())
	assert.Equal(t, 11, ts.UTC().Hour())
}

func TestParseTimestamp_Malformed(t *testing.T) {
	_, err := ParseTimestamp("yesterday noon", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedSample)
	assert.Contains(t, err.Error(), "timestamp")
}

func TestParseEpoch(t *testing.T) {
	ts, err := ParseEpoch("1732186800.5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 21, 11, 0, 0, 500000000, time.UTC), ts)

	_, err = ParseEpoch("soon")
	assert.ErrorIs(t, err, ErrMalformedSample)
	_, err = ParseEpoch("NaN")
	assert.ErrorIs(t, err, ErrMalformedSample)
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(" 759.59 ")
	require.NoError(t, err)
	assert.InDelta(t, 759.59, v, 1e-9)

	for _, in := range []string{"unavailable", "", "NaN", "+Inf", "12,5"} {
		_, err := ParseValue(in)
		assert.ErrorIs(t, err, ErrMalformedSample, "input %q", in)
	}
}

func TestParseSample(t *testing.T) {
	s, err := ParseSample("sensor.pv", "2018-03-14 12:15:00", "512.4", nil)
	require.NoError(t, err)
	assert.Equal(t, "sensor.pv", s.Series)
	assert.Equal(t, 12, s.Timestamp.Hour())
	assert.Equal(t, 15, s.Timestamp.Minute())
	assert.InDelta(t, 512.4, s.Value, 1e-9)

	_, err = ParseSample("sensor.pv", "2018-03-14 12:15:00", "n/a", nil)
	assert.ErrorIs(t, err, ErrMalformedSample)
}

func TestAtLine(t *testing.T) {
	_, err := ParseValue("unknown")
	err = AtLine(err, 17)

	var se *SampleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 17, se.Line)
	assert.Contains(t, err.Error(), "line 17")
	assert.Contains(t, err.Error(), `"unknown"`)

	assert.Nil(t, AtLine(nil, 3))
}
