package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
)

// StatsColumn selects which aggregate of a statistics row becomes the sample
// value.
type StatsColumn string

const (
	StatsAvg StatsColumn = "avg"
	StatsMax StatsColumn = "max_val"
)

// StatsParser parses Home Assistant long-term statistics CSV exports.
//
// Expected format:
//
//	sensor_id,start_time,avg,min_val,max_val
//	sensor.xxx_power,1732186800.0,-368.85,-810.0,-162.0
type StatsParser struct {
	Entities map[string]bool
	// Column defaults to StatsAvg. The hourly maximum is the better
	// clear-sky input when available.
	Column StatsColumn
}

func (p *StatsParser) Parse(ctx context.Context, r io.Reader) (Batch, error) {
	if _, err := p.columnIndex(); err != nil {
		return Batch{}, err
	}
	return parseCSV(ctx, r, []string{"sensor_id", "start_time", "avg", "min_val", "max_val"}, p.parseRecord)
}

func (p *StatsParser) columnIndex() (int, error) {
	switch p.Column {
	case "", StatsAvg:
		return 2, nil
	case StatsMax:
		return 4, nil
	default:
		return 0, fmt.Errorf("unknown stats column %q", p.Column)
	}
}

func (p *StatsParser) parseRecord(record []string, lineNum int) (model.Sample, error) {
	if len(record) < 5 {
		return model.Sample{}, fieldCountError(lineNum, 5, len(record))
	}

	entityID := strings.TrimSpace(record[0])
	if !accepts(p.Entities, entityID) {
		return model.Sample{}, errSkip
	}

	ts, err := clearsky.ParseEpoch(record[1])
	if err != nil {
		return model.Sample{}, clearsky.AtLine(err, lineNum)
	}

	col, _ := p.columnIndex()
	value, err := clearsky.ParseValue(record[col])
	if err != nil {
		return model.Sample{}, clearsky.AtLine(err, lineNum)
	}

	return model.Sample{Series: entityID, Timestamp: ts, Value: value}, nil
}
