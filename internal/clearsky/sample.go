package clearsky

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"pv_clearsky/internal/model"
)

// TimestampLayouts are tried in order by ParseTimestamp.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

var errNotFinite = errors.New("value is not finite")

// ParseTimestamp parses s with the first matching layout. Layouts without a
// zone are interpreted in loc (UTC when nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)

	var firstErr error
	for _, layout := range TimestampLayouts {
		ts, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return ts, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, &SampleError{Field: "timestamp", Input: s, Err: firstErr}
}

// ParseEpoch parses fractional unix seconds such as "1770896300.6877737".
func ParseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, &SampleError{Field: "timestamp", Input: s, Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, &SampleError{Field: "timestamp", Input: s, Err: errNotFinite}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// ParseValue coerces a power reading. Non-numeric states such as
// "unavailable" and non-finite numbers are malformed.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &SampleError{Field: "value", Input: s, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &SampleError{Field: "value", Input: s, Err: errNotFinite}
	}
	return v, nil
}

// ParseSample builds a sample from textual timestamp and value fields.
func ParseSample(series, timestamp, value string, loc *time.Location) (model.Sample, error) {
	ts, err := ParseTimestamp(timestamp, loc)
	if err != nil {
		return model.Sample{}, err
	}
	v, err := ParseValue(value)
	if err != nil {
		return model.Sample{}, err
	}
	return model.Sample{Series: series, Timestamp: ts, Value: v}, nil
}

// AtLine stamps a SampleError with its source line and passes other errors
// through unchanged.
func AtLine(err error, line int) error {
	var se *SampleError
	if errors.As(err, &se) {
		se.Line = line
	}
	return err
}
