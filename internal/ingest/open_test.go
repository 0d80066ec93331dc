package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeSnappy(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := snappy.NewBufferedWriter(f)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestOpen_Compressed(t *testing.T) {
	dir := t.TempDir()
	want := []byte("entity_id,state,last_changed\n")
	path := filepath.Join(dir, "pv.csv.sz")
	writeSnappy(t, path, want)

	rc, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestParserFor(t *testing.T) {
	opts := Options{Year: 2024, Month: time.June, StatsColumn: StatsMax, Entities: []string{"sensor.pv_power"}}

	tests := []struct {
		name      string
		path      string
		firstLine string
		want      any
	}{
		{"home assistant", "a.csv", "entity_id,state,last_changed", &HomeAssistantParser{}},
		{"bom header", "a.csv", "\ufeffentity_id,state,last_changed\r", &HomeAssistantParser{}},
		{"recent", "a.csv", "sensor_id,value,updated_ts", &RecentParser{}},
		{"stats", "a.csv.sz", "sensor_id,start_time,avg,min_val,max_val", &StatsParser{}},
		{"day columns", "a.csv", "Plant report", &DayColumnsParser{}},
		{"workbook", "a.XLSX", "", &XLSXParser{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParserFor(tt.path, tt.firstLine, opts)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}

	t.Run("options carried", func(t *testing.T) {
		p, err := ParserFor("dir/june.csv", "x", opts)
		require.NoError(t, err)
		days := p.(*DayColumnsParser)
		assert.Equal(t, "june", days.Series)
		assert.Equal(t, time.June, days.Month)

		p, err = ParserFor("a.csv", "sensor_id,start_time", opts)
		require.NoError(t, err)
		stats := p.(*StatsParser)
		assert.Equal(t, StatsMax, stats.Column)
		assert.True(t, stats.Entities["sensor.pv_power"])
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := ParserFor("a.json", "", opts)
		assert.ErrorContains(t, err, "unsupported")
	})
}

func TestLoad(t *testing.T) {
	batch, err := Load(context.Background(), "testdata/pv_power_sample.csv", Options{})

	require.NoError(t, err)
	assert.Len(t, batch.Samples, 11)
	assert.Equal(t, 1, batch.Malformed)
}

func TestLoad_CompressedDayColumns(t *testing.T) {
	data, err := os.ReadFile("testdata/pv_month.csv")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "inv.csv.sz")
	writeSnappy(t, path, data)

	batch, err := Load(context.Background(), path, Options{SkipRows: DefaultSkipRows, Year: 2024, Month: time.February})

	require.NoError(t, err)
	assert.Len(t, batch.Samples, 13)
	assert.Equal(t, 2, batch.Malformed)
	assert.Equal(t, "inv", batch.Samples[0].Series)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.csv"), []byte("sensor_id,value,updated_ts\nsensor.pv_power,10,1770896300\n"))
	writeFile(t, filepath.Join(dir, "a.csv"), []byte("entity_id,state,last_changed\nsensor.pv_power,20,2024-06-21T12:00:00Z\nsensor.pv_power,x,2024-06-21T12:15:00Z\n"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	batch, err := LoadDir(context.Background(), dir, Options{})

	require.NoError(t, err)
	require.Len(t, batch.Samples, 2)
	assert.Equal(t, 1, batch.Malformed)
	assert.InDelta(t, 20.0, batch.Samples[0].Value, 0.001, "files load in name order")
	assert.InDelta(t, 10.0, batch.Samples[1].Value, 0.001)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.ErrorContains(t, err, "reading input directory")
}

func TestIsInput(t *testing.T) {
	assert.True(t, IsInput("a.csv"))
	assert.True(t, IsInput("a.csv.sz"))
	assert.True(t, IsInput("a.xlsx"))
	assert.False(t, IsInput("a.txt"))
	assert.False(t, IsInput("a.sz"))
}
