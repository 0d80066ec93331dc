package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads the day-columns layout from a spreadsheet workbook.
type XLSXParser struct {
	DayColumnsParser
	// Sheet defaults to the first sheet of the workbook.
	Sheet string
}

func (p *XLSXParser) Parse(ctx context.Context, r io.Reader) (Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Batch{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheet := p.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Batch{}, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Batch{}, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	return p.Melt(ctx, rows)
}
