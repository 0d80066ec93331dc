package ingest

import (
	"context"
	"io"
	"strings"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
)

// RecentParser parses Home Assistant recent measurements CSV exports, as
// written by cmd/ha-fetch-history.
//
// Expected format:
//
//	sensor_id,value,updated_ts
//	sensor.xxx_power,-341,1770896300.6877737
type RecentParser struct {
	Entities map[string]bool
}

func (p *RecentParser) Parse(ctx context.Context, r io.Reader) (Batch, error) {
	return parseCSV(ctx, r, []string{"sensor_id", "value", "updated_ts"}, p.parseRecord)
}

func (p *RecentParser) parseRecord(record []string, lineNum int) (model.Sample, error) {
	if len(record) < 3 {
		return model.Sample{}, fieldCountError(lineNum, 3, len(record))
	}

	entityID := strings.TrimSpace(record[0])
	if !accepts(p.Entities, entityID) {
		return model.Sample{}, errSkip
	}

	value, err := clearsky.ParseValue(record[1])
	if err != nil {
		return model.Sample{}, clearsky.AtLine(err, lineNum)
	}

	ts, err := clearsky.ParseEpoch(record[2])
	if err != nil {
		return model.Sample{}, clearsky.AtLine(err, lineNum)
	}

	return model.Sample{Series: entityID, Timestamp: ts, Value: value}, nil
}
