package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
)

// Parser reads power samples from a source.
type Parser interface {
	Parse(ctx context.Context, r io.Reader) (Batch, error)
}

// Batch holds the samples parsed from one source. Records that could not be
// turned into a sample are dropped and counted in Malformed.
type Batch struct {
	Samples   []model.Sample
	Malformed int
}

func (b *Batch) reject(ctx context.Context, err error) {
	b.Malformed++
	log.Ctx(ctx).DebugContext(ctx, "dropping malformed record", slog.Any("error", err))
}

// Merge appends the contents of o.
func (b *Batch) Merge(o Batch) {
	b.Samples = append(b.Samples, o.Samples...)
	b.Malformed += o.Malformed
}

// errSkip marks a well-formed record that is intentionally ignored, such as
// an entity outside the filter.
var errSkip = errors.New("skip record")

type rowFunc func(record []string, lineNum int) (model.Sample, error)

// parseCSV validates the header against expected and feeds every following
// record to row.
func parseCSV(ctx context.Context, r io.Reader, expected []string, row rowFunc) (Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return Batch{}, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateHeader(header, expected); err != nil {
		return Batch{}, err
	}

	var batch Batch
	lineNum := 1 // header was line 1

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		sample, err := row(record, lineNum)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			batch.reject(ctx, err)
			continue
		}
		batch.Samples = append(batch.Samples, sample)
	}

	if batch.Malformed > 0 {
		log.Ctx(ctx).InfoContext(ctx, "dropped malformed records",
			slog.Int("malformed", batch.Malformed),
			slog.Int("samples", len(batch.Samples)),
		)
	}
	return batch, nil
}

func validateHeader(header []string, expected []string) error {
	if len(header) < len(expected) {
		return fmt.Errorf("expected at least %d columns, got %d", len(expected), len(header))
	}

	for i, col := range expected {
		if strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("expected column %d to be %q, got %q", i, col, header[i])
		}
	}

	return nil
}

func fieldCountError(lineNum, want, got int) error {
	return fmt.Errorf("line %d: %w: expected %d fields, got %d", lineNum, clearsky.ErrMalformedSample, want, got)
}

// accepts reports whether entity passes an optional allow list.
func accepts(entities map[string]bool, entity string) bool {
	return len(entities) == 0 || entities[entity]
}
