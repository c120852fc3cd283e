package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists formats in a key→JSON table. Saves replace the
// whole table inside one transaction, matching the whole-map rewrite
// contract of the file backend.
type SQLiteBackend struct {
	conn *sql.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	schema := `
CREATE TABLE IF NOT EXISTS document_formats (
  key TEXT PRIMARY KEY,
  format TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &SQLiteBackend{conn: conn}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.conn.Close()
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[string]*DocumentFormat, error) {
	rows, err := b.conn.QueryContext(ctx, `SELECT key, format FROM document_formats`)
	if err != nil {
		return nil, fmt.Errorf("query document_formats: %w", err)
	}
	defer rows.Close()

	formats := make(map[string]*DocumentFormat)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var f DocumentFormat
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode format %s: %w", key, err)
		}
		formats[key] = &f
	}
	return formats, rows.Err()
}

func (b *SQLiteBackend) Save(ctx context.Context, formats map[string]*DocumentFormat) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_formats`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_formats(key, format, updatedAt) VALUES (?, ?, CURRENT_TIMESTAMP)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, f := range formats {
		raw, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode format %s: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, string(raw)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
