// Package export renders extracted records into downstream sinks: XLSX
// workbooks for download and a Google Sheets append target.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"docketscan/internal/extract"
)

// Sink receives flattened records. Implementations append; they never
// rewrite rows already delivered.
type Sink interface {
	Append(ctx context.Context, records []extract.Record) error
}

// XLSX renders records into a single-sheet workbook with the fixed
// 14-column header row.
type XLSX struct {
	logger *slog.Logger
}

func NewXLSX(logger *slog.Logger) *XLSX {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSX{logger: logger}
}

// Render returns the workbook as bytes.
func (x *XLSX) Render(records []extract.Record) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Records"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	for i, h := range extract.ColumnHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for n, rec := range records {
		row := n + 2
		for col, v := range rec.Row() {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	// Widen the text-heavy columns
	_ = f.SetColWidth(sheet, "A", "B", 12) // date, time
	_ = f.SetColWidth(sheet, "C", "C", 24) // supplier
	_ = f.SetColWidth(sheet, "D", "D", 40) // product
	_ = f.SetColWidth(sheet, "F", "I", 16) // numbers, batch, use-by
	_ = f.SetColWidth(sheet, "M", "M", 40) // comments
	_ = f.SetColWidth(sheet, "N", "N", 20) // signature

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	x.logger.Info("export.xlsx.ok",
		"rows", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
