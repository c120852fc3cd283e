package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"docketscan/internal/extract"
)

// SheetsSink appends records to a Google Sheets spreadsheet using a service
// account. Rows go to the end of the configured range; the sheet is the
// system of record for delivered rows, so nothing is ever rewritten.
type SheetsSink struct {
	service       *sheets.Service
	spreadsheetID string
	writeRange    string
	logger        *slog.Logger
}

// NewSheetsSink reads service-account JSON credentials from credentialsFile.
func NewSheetsSink(ctx context.Context, credentialsFile, spreadsheetID, writeRange string, logger *slog.Logger) (*SheetsSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	if writeRange == "" {
		writeRange = "Sheet1!A:N"
	}

	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithTokenSource(jwtCfg.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: build service: %w", err)
	}

	return &SheetsSink{
		service:       svc,
		spreadsheetID: spreadsheetID,
		writeRange:    writeRange,
		logger:        logger,
	}, nil
}

// Append writes one row per record after the last populated row.
func (s *SheetsSink) Append(ctx context.Context, records []extract.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	values := make([][]any, 0, len(records))
	for _, rec := range records {
		values = append(values, rec.Row())
	}

	_, err := s.service.Spreadsheets.Values.
		Append(s.spreadsheetID, s.writeRange, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: append %d rows: %w", len(values), err)
	}

	s.logger.Info("export.sheets.ok",
		"rows", len(values),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
