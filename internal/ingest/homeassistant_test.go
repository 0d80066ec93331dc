package ingest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomeAssistantParser_Parse(t *testing.T) {
	input := `entity_id,state,last_changed
sensor.pv_power,-368.85,2024-11-21T12:00:00.000Z
sensor.pv_power,759.59,2024-11-21T13:00:00.000Z
sensor.pv_power,562.78,2024-11-21T14:00:00.000Z`

	parser := NewHomeAssistantParser()
	batch, err := parser.Parse(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, batch.Samples, 3)
	assert.Zero(t, batch.Malformed)

	assert.Equal(t, "sensor.pv_power", batch.Samples[0].Series)
	assert.InDelta(t, -368.85, batch.Samples[0].Value, 0.001)
	assert.Equal(t, time.Date(2024, 11, 21, 12, 0, 0, 0, time.UTC), batch.Samples[0].Timestamp)

	assert.InDelta(t, 759.59, batch.Samples[1].Value, 0.001)
	assert.Equal(t, time.Date(2024, 11, 21, 13, 0, 0, 0, time.UTC), batch.Samples[1].Timestamp)
}

func TestHomeAssistantParser_CountsUnavailable(t *testing.T) {
	input := `entity_id,state,last_changed
sensor.pv_power,759.59,2024-11-21T13:00:00.000Z
sensor.pv_power,unavailable,2024-11-21T14:00:00.000Z
sensor.pv_power,562.78,not-a-time
sensor.pv_power,562.78,2024-11-21T15:00:00.000Z`

	batch, err := NewHomeAssistantParser().Parse(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, batch.Samples, 2)
	assert.Equal(t, 2, batch.Malformed)
	assert.InDelta(t, 759.59, batch.Samples[0].Value, 0.001)
	assert.InDelta(t, 562.78, batch.Samples[1].Value, 0.001)
}

func TestHomeAssistantParser_ShortRowIsMalformed(t *testing.T) {
	input := `entity_id,state,last_changed
sensor.pv_power,759.59
sensor.pv_power,562.78,2024-11-21T15:00:00.000Z`

	batch, err := NewHomeAssistantParser().Parse(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	assert.Len(t, batch.Samples, 1)
	assert.Equal(t, 1, batch.Malformed)
}

func TestHomeAssistantParser_FiltersEntities(t *testing.T) {
	input := `entity_id,state,last_changed
sensor.pv_power,100,2024-11-21T13:00:00.000Z
sensor.grid_power,-50,2024-11-21T13:00:00.000Z
sensor.pv_power,200,2024-11-21T14:00:00.000Z`

	batch, err := NewHomeAssistantParser("sensor.pv_power").Parse(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, batch.Samples, 2)
	assert.Zero(t, batch.Malformed, "filtered entities are not malformed")
	for _, s := range batch.Samples {
		assert.Equal(t, "sensor.pv_power", s.Series)
	}
}

func TestHomeAssistantParser_LocationForNaiveTimestamps(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	input := `entity_id,state,last_changed
sensor.pv_power,100,2024-11-21 13:00:00
sensor.pv_power,200,2024-11-21T13:00:00.000Z`

	parser := &HomeAssistantParser{Location: loc}
	batch, err := parser.Parse(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, batch.Samples, 2)
	assert.Equal(t, 13, batch.Samples[0].Timestamp.Hour())
	assert.Equal(t, loc, batch.Samples[0].Timestamp.Location())
	assert.Equal(t, time.UTC, batch.Samples[1].Timestamp.Location())
}

func TestHomeAssistantParser_InvalidHeader(t *testing.T) {
	input := `wrong_col,state,last_changed
sensor.pv_power,759.59,2024-11-21T13:00:00.000Z`

	_, err := NewHomeAssistantParser().Parse(context.Background(), strings.NewReader(input))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "entity_id")
}

func TestHomeAssistantParser_EmptyInput(t *testing.T) {
	_, err := NewHomeAssistantParser().Parse(context.Background(), strings.NewReader(""))

	assert.Error(t, err)
}

func TestHomeAssistantParser_SampleFile(t *testing.T) {
	f, err := os.Open("testdata/pv_power_sample.csv")
	require.NoError(t, err)
	defer f.Close()

	batch, err := NewHomeAssistantParser().Parse(context.Background(), f)

	require.NoError(t, err)
	require.Len(t, batch.Samples, 11)
	assert.Equal(t, 1, batch.Malformed)

	assert.InDelta(t, 0.0, batch.Samples[0].Value, 0.001)
	assert.InDelta(t, 45.5, batch.Samples[len(batch.Samples)-1].Value, 0.001)
	for _, s := range batch.Samples {
		assert.Equal(t, "sensor.pv_power", s.Series)
	}
}

func TestHomeAssistantParser_RFC3339Nano(t *testing.T) {
	input := `entity_id,state,last_changed
sensor.pv_power,321,2026-02-11T18:49:18.424Z`

	batch, err := NewHomeAssistantParser().Parse(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, batch.Samples, 1)
	assert.InDelta(t, 321.0, batch.Samples[0].Value, 0.001)
	assert.Equal(t, 2026, batch.Samples[0].Timestamp.Year())
}
