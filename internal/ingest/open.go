package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"

	"pv_clearsky/internal/log"
)

// CompressedExt marks inputs written as snappy framed streams.
const CompressedExt = ".sz"

// Options carries the settings needed to pick and configure a parser for a
// file whose layout is detected at load time.
type Options struct {
	// Entities restricts the multi-entity layouts; empty accepts all.
	Entities []string
	// StatsColumn selects the statistics aggregate.
	StatsColumn StatsColumn
	// SkipRows, Year and Month describe the day-columns layout.
	SkipRows int
	Year     int
	Month    time.Month
	// Series names day-columns samples; defaults to the file base name.
	Series string
	// Sheet selects the workbook sheet for .xlsx inputs.
	Sheet    string
	Location *time.Location
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Open opens path for reading, decompressing it when it ends in .sz.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if strings.HasSuffix(path, CompressedExt) {
		return readCloser{Reader: snappy.NewReader(f), Closer: f}, nil
	}
	return f, nil
}

// baseExt returns the extension of path ignoring a trailing .sz.
func baseExt(path string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSuffix(path, CompressedExt)))
}

// seriesName derives a series id from a file name.
func seriesName(path string) string {
	base := filepath.Base(strings.TrimSuffix(path, CompressedExt))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParserFor picks a parser for path. CSV layouts are told apart by their
// first line; anything unrecognised is read as day columns.
func ParserFor(path string, firstLine string, opts Options) (Parser, error) {
	series := opts.Series
	if series == "" {
		series = seriesName(path)
	}
	days := DayColumnsParser{
		SkipRows: opts.SkipRows,
		Year:     opts.Year,
		Month:    opts.Month,
		Series:   series,
		Location: opts.Location,
	}

	switch baseExt(path) {
	case ".xlsx":
		return &XLSXParser{DayColumnsParser: days, Sheet: opts.Sheet}, nil
	case ".csv":
	default:
		return nil, fmt.Errorf("unsupported input %s", path)
	}

	entities := entitySet(opts.Entities)
	header := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(firstLine, "\ufeff")))
	switch {
	case strings.HasPrefix(header, "entity_id,state,last_changed"):
		return &HomeAssistantParser{Entities: entities, Location: opts.Location}, nil
	case strings.HasPrefix(header, "sensor_id,value,updated_ts"):
		return &RecentParser{Entities: entities}, nil
	case strings.HasPrefix(header, "sensor_id,start_time"):
		return &StatsParser{Entities: entities, Column: opts.StatsColumn}, nil
	default:
		return &days, nil
	}
}

// Load detects the layout of path and parses it.
func Load(ctx context.Context, path string, opts Options) (Batch, error) {
	rc, err := Open(path)
	if err != nil {
		return Batch{}, err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	// Peek returns what it has together with io.EOF on short files.
	head, _ := br.Peek(4096)
	firstLine, _, _ := bytes.Cut(head, []byte("\n"))

	p, err := ParserFor(path, string(firstLine), opts)
	if err != nil {
		return Batch{}, err
	}

	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("path", path)))
	batch, err := p.Parse(ctx, br)
	if err != nil {
		return Batch{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return batch, nil
}

// IsInput reports whether name looks like a loadable input file.
func IsInput(name string) bool {
	switch baseExt(name) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// LoadDir loads every input file directly inside dir in name order.
func LoadDir(ctx context.Context, dir string, opts Options) (Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Batch{}, fmt.Errorf("reading input directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsInput(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var all Batch
	for _, name := range names {
		path := filepath.Join(dir, name)
		batch, err := Load(ctx, path, opts)
		if err != nil {
			return Batch{}, err
		}
		log.Ctx(ctx).InfoContext(ctx, "loaded input",
			slog.String("path", path),
			slog.Int("samples", len(batch.Samples)),
			slog.Int("malformed", batch.Malformed),
		)
		all.Merge(batch)
	}
	return all, nil
}
