package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
)

// DefaultSkipRows is the length of the metadata preamble written by the
// plant monitoring exports this layout comes from.
const DefaultSkipRows = 8

var timeOfDayLayouts = []string{"15:04:05", "15:04", "3:04:05 PM", "3:04 PM"}

// DayColumnsParser reads the wide monthly export layout: a preamble, a header
// row, then one row per time of day whose first cell is the time ("12:15:00")
// and whose remaining cells are the readings of day 1, 2, ... of the month.
//
//	<SkipRows preamble lines>
//	Time,1,2,3,...
//	00:00:00,0,0,0,...
//	00:15:00,0,0,0,...
//
// SkipRows counts raw preamble lines, blank ones included. Day columns are
// numbered by position, not by header text. The header fixes
// the number of days: a short row yields one malformed record per missing
// cell, and cells beyond the header are dropped and counted the same way.
type DayColumnsParser struct {
	SkipRows int
	Year     int
	Month    time.Month
	Series   string
	Location *time.Location
}

func NewDayColumnsParser(series string, year int, month time.Month) *DayColumnsParser {
	return &DayColumnsParser{
		SkipRows: DefaultSkipRows,
		Year:     year,
		Month:    month,
		Series:   series,
	}
}

func (p *DayColumnsParser) Parse(ctx context.Context, r io.Reader) (Batch, error) {
	br := bufio.NewReader(r)
	for i := 0; i < p.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return Batch{}, fmt.Errorf("expected a header after %d preamble rows, got %d rows", p.SkipRows, i)
			}
			return Batch{}, fmt.Errorf("reading preamble line %d: %w", i+1, err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var rows [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("reading CSV line %d: %w", p.SkipRows+len(rows)+1, err)
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return Batch{}, fmt.Errorf("expected a header after %d preamble rows, got %d rows", p.SkipRows, p.SkipRows)
	}
	return p.melt(ctx, rows, p.SkipRows+1)
}

// Melt converts already split rows, preamble included, into samples. Here
// SkipRows counts rows, as sheet readers keep blank rows.
func (p *DayColumnsParser) Melt(ctx context.Context, rows [][]string) (Batch, error) {
	if len(rows) <= p.SkipRows {
		return Batch{}, fmt.Errorf("expected a header after %d preamble rows, got %d rows", p.SkipRows, len(rows))
	}
	return p.melt(ctx, rows[p.SkipRows:], p.SkipRows+1)
}

// melt reads rows starting at the header, which sits on line headerLine.
func (p *DayColumnsParser) melt(ctx context.Context, rows [][]string, headerLine int) (Batch, error) {
	if p.Month < time.January || p.Month > time.December {
		return Batch{}, fmt.Errorf("invalid month %d", p.Month)
	}

	header := rows[0]
	days := len(header) - 1
	if days < 1 {
		return Batch{}, fmt.Errorf("header has no day columns")
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	var batch Batch
	for i, row := range rows[1:] {
		lineNum := headerLine + i + 1
		if blankRow(row) {
			continue
		}

		tod, err := parseTimeOfDay(row[0])
		if err != nil {
			// Every reading on the row lacks a time.
			for d := 0; d < days; d++ {
				batch.reject(ctx, clearsky.AtLine(err, lineNum))
			}
			continue
		}

		for d := 1; d <= days; d++ {
			if d >= len(row) {
				batch.reject(ctx, fmt.Errorf("line %d: %w: missing cell for day %d", lineNum, clearsky.ErrMalformedSample, d))
				continue
			}
			ts := time.Date(p.Year, p.Month, d, tod.Hour(), tod.Minute(), tod.Second(), 0, loc)
			if ts.Month() != p.Month {
				batch.reject(ctx, fmt.Errorf("line %d: %w: day %d does not exist in %s %d", lineNum, clearsky.ErrMalformedSample, d, p.Month, p.Year))
				continue
			}
			value, err := clearsky.ParseValue(row[d])
			if err != nil {
				batch.reject(ctx, clearsky.AtLine(err, lineNum))
				continue
			}
			batch.Samples = append(batch.Samples, model.Sample{Series: p.Series, Timestamp: ts, Value: value})
		}

		for extra := days + 1; extra < len(row); extra++ {
			batch.reject(ctx, fmt.Errorf("line %d: %w: cell %d beyond the %d day columns", lineNum, clearsky.ErrMalformedSample, extra+1, days))
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "melted day columns",
		slog.String("series", p.Series),
		slog.Int("days", days),
		slog.Int("samples", len(batch.Samples)),
		slog.Int("malformed", batch.Malformed),
	)
	return batch, nil
}

func parseTimeOfDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &clearsky.SampleError{
		Field: "time of day",
		Input: s,
		Err:   errors.New("expected HH:MM[:SS]"),
	}
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
