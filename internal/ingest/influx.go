package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
)

// InfluxSource reads power samples from an InfluxDB v2 bucket.
type InfluxSource struct {
	Client      influxdb2.Client
	Org         string
	Bucket      string
	Measurement string
	Field       string
	// Tags narrows the query with exact tag matches.
	Tags map[string]string
}

// Query builds the Flux query for tr. Stop is exclusive.
func (s *InfluxSource) Query(tr model.TimeRange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", s.Bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", tr.Start.UTC().Format(time.RFC3339), tr.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r._field == %q)\n", s.Measurement, s.Field)

	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r[%q] == %q)\n", k, s.Tags[k])
	}
	b.WriteString(`  |> keep(columns: ["_time", "_value"])` + "\n")
	b.WriteString(`  |> sort(columns: ["_time"])`)
	return b.String()
}

// Series names the samples produced by Fetch.
func (s *InfluxSource) Series() string {
	return s.Measurement + "." + s.Field
}

// Fetch runs the query and converts every row into a sample.
func (s *InfluxSource) Fetch(ctx context.Context, tr model.TimeRange) (Batch, error) {
	result, err := s.Client.QueryAPI(s.Org).Query(ctx, s.Query(tr))
	if err != nil {
		return Batch{}, fmt.Errorf("querying influx: %w", err)
	}
	defer result.Close()

	var batch Batch
	series := s.Series()
	row := 0
	for result.Next() {
		row++
		rec := result.Record()
		value, err := influxValue(rec.Value())
		if err != nil {
			batch.reject(ctx, clearsky.AtLine(err, row))
			continue
		}
		batch.Samples = append(batch.Samples, model.Sample{
			Series:    series,
			Timestamp: rec.Time(),
			Value:     value,
		})
	}
	if err := result.Err(); err != nil {
		return Batch{}, fmt.Errorf("reading influx result: %w", err)
	}
	return batch, nil
}

// influxValue coerces a Flux _value cell.
func influxValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, &clearsky.SampleError{Field: "value", Input: fmt.Sprint(x), Err: errors.New("value is not finite")}
		}
		return x, nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		return clearsky.ParseValue(x)
	default:
		return 0, &clearsky.SampleError{Field: "value", Input: fmt.Sprint(v), Err: fmt.Errorf("unsupported type %T", v)}
	}
}
