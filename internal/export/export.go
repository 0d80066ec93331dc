// Package export writes clear-sky results as tables with one row per slot:
// hour, minute, the raw slot mean and the smoothed value.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/xuri/excelize/v2"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
)

// Header is the column layout shared by every format.
var Header = []string{"hour", "minute", "mean", "sgf"}

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "clearsky"

// Row is one slot of a result table.
type Row struct {
	Slot     model.Slot
	Mean     float64
	Smoothed float64
}

// Table is a slot-ordered result table.
type Table []Row

// NewTable zips slots with the raw and smoothed curves.
func NewTable(slots []model.Slot, raw, smoothed model.Curve) (Table, error) {
	if len(raw) != len(slots) || len(smoothed) != len(slots) {
		return nil, fmt.Errorf("curve lengths %d and %d do not match %d slots", len(raw), len(smoothed), len(slots))
	}
	t := make(Table, len(slots))
	for i, s := range slots {
		t[i] = Row{Slot: s, Mean: raw[i], Smoothed: smoothed[i]}
	}
	return t, nil
}

// FromResult builds the table of a pipeline run.
func FromResult(res clearsky.Result) (Table, error) {
	return NewTable(res.Slots, res.Raw, res.Smoothed)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes t with a header row.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}

	for _, r := range t {
		if err := cw.Write([]string{
			strconv.Itoa(r.Slot.Hour),
			strconv.Itoa(r.Slot.Minute),
			formatFloat(r.Mean),
			formatFloat(r.Smoothed),
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCompressedCSV writes t as a snappy framed CSV stream.
func WriteCompressedCSV(w io.Writer, t Table) error {
	sw := snappy.NewBufferedWriter(w)
	if err := WriteCSV(sw, t); err != nil {
		sw.Close()
		return err
	}
	return sw.Close()
}

// WriteXLSX writes t as a single-sheet workbook.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range t {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.Slot.Hour, r.Slot.Minute, r.Mean, r.Smoothed}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Writer returns the table writer matching path's extension: .csv, .csv.sz
// or .xlsx.
func Writer(path string) (func(io.Writer, Table) error, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv.sz"):
		return WriteCompressedCSV, nil
	case strings.HasSuffix(lower, ".csv"):
		return WriteCSV, nil
	case strings.HasSuffix(lower, ".xlsx"):
		return WriteXLSX, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
}

// WriteFile writes t to path in the format implied by its extension. The
// table is written to a temporary file in the same directory and renamed
// into place, so readers never see a partial file.
func WriteFile(path string, t Table) (err error) {
	write, err := Writer(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp, t); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
