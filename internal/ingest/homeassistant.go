package ingest

import (
	"context"
	"io"
	"strings"
	"time"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
)

// HomeAssistantParser parses Home Assistant CSV history exports.
//
// Expected format:
//
//	entity_id,state,last_changed
//	sensor.xxx_power,759.59,2024-11-21T13:00:00.000Z
type HomeAssistantParser struct {
	// Entities restricts the parsed entities; empty accepts all.
	Entities map[string]bool
	// Location is used for timestamps without a zone.
	Location *time.Location
}

func NewHomeAssistantParser(entities ...string) *HomeAssistantParser {
	return &HomeAssistantParser{Entities: entitySet(entities)}
}

func (p *HomeAssistantParser) Parse(ctx context.Context, r io.Reader) (Batch, error) {
	return parseCSV(ctx, r, []string{"entity_id", "state", "last_changed"}, p.parseRecord)
}

func (p *HomeAssistantParser) parseRecord(record []string, lineNum int) (model.Sample, error) {
	if len(record) < 3 {
		return model.Sample{}, fieldCountError(lineNum, 3, len(record))
	}

	entityID := strings.TrimSpace(record[0])
	if !accepts(p.Entities, entityID) {
		return model.Sample{}, errSkip
	}

	// "unavailable" and "unknown" states end up here as malformed values.
	s, err := clearsky.ParseSample(entityID, record[2], record[1], p.Location)
	if err != nil {
		return model.Sample{}, clearsky.AtLine(err, lineNum)
	}
	return s, nil
}

func entitySet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return set
}
