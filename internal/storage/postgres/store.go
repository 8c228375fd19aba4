// Package postgres implements storage.Store on PostgreSQL through a pgx
// connection pool. Payloads are stored as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabprep/internal/storage"
)

// DefaultTable is the schema-qualified records table.
const DefaultTable = "public.tabprep_records"

func init() {
	storage.Register("postgres", Open)
}

// pgxPool is the subset of *pgxpool.Pool the store uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store is a Postgres-backed record store.
type Store struct {
	pool  pgxPool
	table string
}

// Open creates a pool for cfg.DSN.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, table: DefaultTable}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// pgIdent quotes a possibly schema-qualified identifier part by part.
func pgIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgx.Identifier{p}.Sanitize()
	}
	return strings.Join(parts, ".")
}

// buildCreateSQL returns the schema, table and index DDL. schemaSQL is empty
// for an unqualified table name.
func buildCreateSQL(table string) (schemaSQL, tableSQL, indexSQL string, err error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return "", "", "", fmt.Errorf("table name is empty")
	}
	if schema, _, ok := strings.Cut(table, "."); ok {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema)
	}

	tableSQL = "CREATE TABLE IF NOT EXISTS " + pgIdent(table) + ` (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  dataset_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  payload JSONB NOT NULL
)`

	base := table
	if i := strings.LastIndex(table, "."); i >= 0 {
		base = table[i+1:]
	}
	indexSQL = "CREATE INDEX IF NOT EXISTS " + pgIdent(base+"_kind_created") +
		" ON " + pgIdent(table) + " (kind, created_at DESC)"
	return schemaSQL, tableSQL, indexSQL, nil
}

func buildInsertSQL(table string) string {
	return "INSERT INTO " + pgIdent(table) +
		" (id, kind, dataset_id, created_at, payload) VALUES ($1, $2, $3, $4, $5::jsonb)"
}

func buildLatestSQL(table string) string {
	return "SELECT id, kind, dataset_id, created_at, payload::text FROM " + pgIdent(table) +
		" WHERE kind = $1 ORDER BY created_at DESC, id DESC LIMIT $2"
}

// EnsureSchema creates the schema, table and index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schemaSQL, tableSQL, indexSQL, err := buildCreateSQL(s.table)
	if err != nil {
		return err
	}
	for _, stmt := range []string{schemaSQL, tableSQL, indexSQL} {
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("postgres: %s payload is not valid JSON", rec.Kind)
	}
	_, err := s.pool.Exec(ctx, buildInsertSQL(s.table),
		rec.ID, string(rec.Kind), rec.DatasetID, rec.CreatedAt.UTC(), string(rec.Payload))
	if err != nil {
		return fmt.Errorf("insert %s record: %w", rec.Kind, err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, kind storage.Kind, n int) ([]storage.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, buildLatestSQL(s.table), string(kind), n)
	if err != nil {
		return nil, fmt.Errorf("select %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			rec     storage.Record
			k, body string
		)
		if err := rows.Scan(&rec.ID, &k, &rec.DatasetID, &rec.CreatedAt, &body); err != nil {
			return nil, err
		}
		rec.Kind = storage.Kind(k)
		rec.Payload = json.RawMessage(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}
