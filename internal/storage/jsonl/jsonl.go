// Package jsonl stores records as append-only JSON Lines files, one file per
// record kind, inside a directory.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"tabprep/internal/storage"
)

func init() {
	storage.Register("jsonl", Open)
}

// FileNames maps each record kind to its file inside the store directory.
var FileNames = map[storage.Kind]string{
	storage.KindMetadata:       "metadata_records.jsonl",
	storage.KindAudit:          "audit_records.jsonl",
	storage.KindClassification: "data_classification.jsonl",
	storage.KindUserInputs:     "user_inputs.jsonl",
}

// Store writes each record payload as one line. Only the payload is kept;
// ID and CreatedAt are not persisted.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open returns a Store rooted at cfg.DSN (a directory, "." when empty).
func Open(_ context.Context, cfg storage.Config) (storage.Store, error) {
	dir := cfg.DSN
	if dir == "" {
		dir = "."
	}
	return &Store{dir: dir}, nil
}

// Path returns the file that holds records of kind.
func (s *Store) Path(kind storage.Kind) string {
	return filepath.Join(s.dir, FileNames[kind])
}

func (s *Store) EnsureSchema(context.Context) error {
	return os.MkdirAll(s.dir, 0o755)
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, ok := FileNames[rec.Kind]
	if !ok {
		return fmt.Errorf("jsonl: unknown record kind %q", rec.Kind)
	}

	var line bytes.Buffer
	if err := json.Compact(&line, rec.Payload); err != nil {
		return fmt.Errorf("jsonl: %s payload is not valid JSON: %w", rec.Kind, err)
	}
	line.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) Latest(ctx context.Context, kind storage.Kind, n int) ([]storage.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	name, ok := FileNames[kind]
	if !ok {
		return nil, fmt.Errorf("jsonl: unknown record kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Ring of the last n lines.
	ring := make([][]byte, 0, n)
	next := 0
	r := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if len(ring) < n {
				ring = append(ring, line)
			} else {
				ring[next] = line
				next = (next + 1) % n
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	out := make([]storage.Record, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		line := ring[(next+i)%len(ring)]
		var head struct {
			DatasetID string `json:"dataset_id"`
		}
		_ = json.Unmarshal(line, &head)
		out = append(out, storage.Record{Kind: kind, DatasetID: head.DatasetID, Payload: json.RawMessage(line)})
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
