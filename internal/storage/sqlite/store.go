// Package sqlite implements storage.Store on an embedded SQLite database
// through the pure-Go modernc driver.
//
// SQLite has no timestamp type, so created_at is stored as TEXT in a fixed
// width UTC layout that sorts lexically in time order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tabprep/internal/storage"
)

const tableName = "tabprep_records"

// timeLayout is RFC3339 with fixed nanosecond width so string order equals
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func init() {
	storage.Register("sqlite", Open)
}

// Store is a SQLite-backed record store.
type Store struct {
	db *sql.DB
}

// Open opens the database at cfg.DSN and checks connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty DSN")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One writer at a time avoids SQLITE_BUSY on concurrent appends.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(table string) []string {
	t := sqlIdent(table)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  dataset_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  payload TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS ` + sqlIdent(table+"_kind_created") + ` ON ` + t + ` (kind, created_at)`,
	}
}

// EnsureSchema creates the records table and its index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildCreateSQL(tableName) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", tableName, err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("sqlite: %s payload is not valid JSON", rec.Kind)
	}
	q := `INSERT INTO ` + sqlIdent(tableName) + ` (id, kind, dataset_id, created_at, payload) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, rec.ID, string(rec.Kind), rec.DatasetID, formatSQLiteTime(rec.CreatedAt), string(rec.Payload))
	if err != nil {
		return fmt.Errorf("insert %s record: %w", rec.Kind, err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, kind storage.Kind, n int) ([]storage.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	q := `SELECT id, kind, dataset_id, created_at, payload FROM ` + sqlIdent(tableName) +
		` WHERE kind = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, string(kind), n)
	if err != nil {
		return nil, fmt.Errorf("select %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			rec              storage.Record
			k, created, body string
		)
		if err := rows.Scan(&rec.ID, &k, &rec.DatasetID, &created, &body); err != nil {
			return nil, err
		}
		ts, err := parseSQLiteTime(created)
		if err != nil {
			return nil, fmt.Errorf("record %s created_at: %w", rec.ID, err)
		}
		rec.Kind = storage.Kind(k)
		rec.CreatedAt = ts
		rec.Payload = json.RawMessage(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - the fixed-width layout we write
//   - RFC3339Nano and RFC3339
//   - "2006-01-02 15:04:05Z07:00" and its fractional form
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
