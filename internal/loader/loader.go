// Package loader reads a tabular file into a frame.Table.
//
// Supported inputs are delimited text (delimiter sniffed), XLSX (first
// sheet), JSON arrays, objects and JSON Lines (nested objects flattened with
// "__"), ZIP archives (first supported member) and HTML (first <table>).
// Every format goes through the same kind inference, so identical cells give
// identical tables regardless of the file format.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"tabprep/internal/frame"
	"tabprep/internal/metrics"
)

var (
	// ErrNotFound is returned when the input path does not exist.
	ErrNotFound = errors.New("input file not found")
	// ErrUnsupportedFormat is returned for an unknown file extension.
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrNoTable is returned when a container (ZIP, HTML) holds no table.
	ErrNoTable = errors.New("no table found in input")
)

// Extensions lists the supported file extensions.
var Extensions = []string{".csv", ".tsv", ".txt", ".xlsx", ".xls", ".json", ".jsonl", ".zip", ".html", ".htm"}

// Report describes how a file was read.
type Report struct {
	Format         string   `json:"format"`
	Member         string   `json:"member,omitempty"`
	Delimiter      string   `json:"delimiter,omitempty"`
	Latin1         bool     `json:"latin1,omitempty"`
	SkippedRows    int      `json:"skipped_rows"`
	DroppedColumns []string `json:"dropped_columns,omitempty"`
	Rows           int      `json:"rows"`
	Columns        int      `json:"columns"`
}

// Loader reads files into tables.
type Loader struct {
	log *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.log = l
		}
	}
}

// New builds a Loader.
func New(opts ...Option) *Loader {
	ld := &Loader{log: zap.NewNop()}
	for _, o := range opts {
		o(ld)
	}
	return ld
}

// Load reads path with a default Loader.
func Load(ctx context.Context, path string) (*frame.Table, error) {
	t, _, err := New().Load(ctx, path)
	return t, err
}

// Load reads path and reports how it was parsed.
func (ld *Loader) Load(ctx context.Context, path string) (*frame.Table, Report, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(path))
	if !supported(ext) {
		return nil, Report{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Report{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, Report{}, fmt.Errorf("loader: read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}

	t, rep, err := loadBytes(ctx, ext, data)
	if err != nil {
		metrics.RecordStep("load", "error", time.Since(start))
		return nil, rep, fmt.Errorf("loader: %s: %w", filepath.Base(path), err)
	}
	rep.Rows, rep.Columns = t.NumRows(), t.NumCols()

	metrics.RecordStep("load", "ok", time.Since(start))
	metrics.RecordRows("loaded", rep.Rows)
	metrics.RecordRows("skipped", rep.SkippedRows)
	ld.log.Info("table loaded",
		zap.String("path", path),
		zap.String("format", rep.Format),
		zap.Int("rows", rep.Rows),
		zap.Int("columns", rep.Columns),
		zap.Int("skipped_rows", rep.SkippedRows),
		zap.Strings("dropped_columns", rep.DroppedColumns),
	)
	return t, rep, nil
}

func supported(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// loadBytes parses data according to ext.
func loadBytes(ctx context.Context, ext string, data []byte) (*frame.Table, Report, error) {
	switch ext {
	case ".csv", ".txt":
		return loadDelimited(data, 0)
	case ".tsv":
		return loadDelimited(data, '\t')
	case ".xlsx", ".xls":
		rt, err := readXLSX(bytes.NewReader(data))
		if err != nil {
			return nil, Report{Format: "xlsx"}, err
		}
		t, err := buildTable(rt)
		return t, Report{Format: "xlsx"}, err
	case ".json", ".jsonl":
		rt, err := readJSON(data)
		if err != nil {
			return nil, Report{Format: "json"}, err
		}
		t, err := buildTable(rt)
		return t, Report{Format: "json"}, err
	case ".html", ".htm":
		rt, err := readHTML(bytes.NewReader(data))
		if err != nil {
			return nil, Report{Format: "html"}, err
		}
		t, err := buildTable(rt)
		return t, Report{Format: "html"}, err
	case ".zip":
		return loadZip(ctx, data)
	default:
		return nil, Report{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func loadDelimited(data []byte, delim rune) (*frame.Table, Report, error) {
	text, latin1 := decodeText(data)
	if delim == 0 {
		delim = sniffDelimiter(text)
	}
	rt, skipped, err := readDelimited(text, delim)
	if err != nil {
		return nil, Report{Format: "csv"}, err
	}
	rep := Report{Format: "csv", Delimiter: string(delim), Latin1: latin1, SkippedRows: skipped}
	rt, rep.DroppedColumns = dropEmptyColumns(rt)
	t, err := buildTable(rt)
	return t, rep, err
}
