// Package mssql implements storage.Store on Microsoft SQL Server through
// database/sql and the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"tabprep/internal/storage"
)

// DefaultTable is the schema-qualified records table.
const DefaultTable = "dbo.tabprep_records"

func init() {
	storage.Register("mssql", Open)
}

// Store is a SQL Server backed record store.
type Store struct {
	db    dbConn
	table string
}

// Open opens a "sqlserver" connection and checks connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Store{db: &sqlDB{db: raw}, table: DefaultTable}, nil
}

// Close releases database resources held by this store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// buildCreateSQL returns guarded DDL for the table and its index. SQL Server
// has no CREATE TABLE IF NOT EXISTS, so both statements check the catalog.
func buildCreateSQL(table string) (tableSQL, indexSQL string, err error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	defs := strings.Join([]string{
		"id NVARCHAR(64) NOT NULL PRIMARY KEY",
		"kind NVARCHAR(32) NOT NULL",
		"dataset_id NVARCHAR(64) NOT NULL DEFAULT ''",
		"created_at DATETIME2(7) NOT NULL",
		"payload NVARCHAR(MAX) NOT NULL",
	}, ", ")
	tableSQL = fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		table, mssqlTableIdent(table), defs,
	)

	base := table
	if i := strings.LastIndex(table, "."); i >= 0 {
		base = table[i+1:]
	}
	index := base + "_kind_created"
	indexSQL = fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) "+
			"CREATE INDEX %s ON %s (kind, created_at DESC);",
		index, table, mssqlIdent(index), mssqlTableIdent(table),
	)
	return tableSQL, indexSQL, nil
}

func buildInsertSQL(table string) string {
	return "INSERT INTO " + mssqlTableIdent(table) +
		" (id, kind, dataset_id, created_at, payload) VALUES (@p1, @p2, @p3, @p4, @p5)"
}

func buildLatestSQL(table string) string {
	return "SELECT TOP (@p1) id, kind, dataset_id, created_at, payload FROM " + mssqlTableIdent(table) +
		" WHERE kind = @p2 ORDER BY created_at DESC, id DESC"
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tableSQL, indexSQL, err := buildCreateSQL(s.table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("create index on %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("mssql: %s payload is not valid JSON", rec.Kind)
	}
	_, err := s.db.ExecContext(ctx, buildInsertSQL(s.table),
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
	rows, err := s.db.QueryContext(ctx, buildLatestSQL(s.table), n, string(kind))
	if err != nil {
		return nil, fmt.Errorf("select %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			rec     storage.Record
			k, body string
			created time.Time
		)
		if err := rows.Scan(&rec.ID, &k, &rec.DatasetID, &created, &body); err != nil {
			return nil, err
		}
		rec.Kind = storage.Kind(k)
		rec.CreatedAt = created.UTC()
		rec.Payload = json.RawMessage(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// mssqlIdent bracket-quotes a single identifier.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.records" -> [dbo].[records]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// dbConn is a small interface over *sql.DB used for testability.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error)
	Close() error
}

// rowsScanner is the subset of *sql.Rows the store reads.
type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) Close() error { return s.db.Close() }
