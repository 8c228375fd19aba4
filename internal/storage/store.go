package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a record stream. Every backend keeps the streams apart.
type Kind string

const (
	KindMetadata       Kind = "metadata"
	KindAudit          Kind = "audit"
	KindClassification Kind = "classification"
	KindUserInputs     Kind = "user_inputs"
)

// Kinds lists every record stream in a stable order.
func Kinds() []Kind {
	return []Kind{KindMetadata, KindAudit, KindClassification, KindUserInputs}
}

// Valid reports whether k is one of the known streams.
func (k Kind) Valid() bool {
	for _, v := range Kinds() {
		if v == k {
			return true
		}
	}
	return false
}

// Record is one appended artifact. Payload is the JSON document exactly as
// it was produced by the caller.
type Record struct {
	ID        string
	Kind      Kind
	DatasetID string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// NewRecord marshals payload into a Record with a fresh ID and a UTC
// timestamp.
func NewRecord(kind Kind, datasetID string, payload any) (Record, error) {
	if !kind.Valid() {
		return Record{}, fmt.Errorf("storage: unknown record kind %q", kind)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("storage: marshal %s payload: %w", kind, err)
	}
	return Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		DatasetID: datasetID,
		CreatedAt: time.Now().UTC(),
		Payload:   b,
	}, nil
}

// Config selects and configures a backend.
//
// Kind must match a registered backend ("jsonl", "sqlite", "postgres",
// "mssql"). DSN is interpreted by the backend: a directory for jsonl, a
// database/sql DSN for the SQL backends.
type Config struct {
	Kind string
	DSN  string
}

// Store is an append-only artifact store.
//
// Implementations must be safe for concurrent use. Close is called once at
// shutdown.
type Store interface {
	// EnsureSchema creates tables, files or directories as needed. It is
	// idempotent.
	EnsureSchema(ctx context.Context) error

	// Append persists one record.
	Append(ctx context.Context, rec Record) error

	// Latest returns up to n records of a kind, newest first.
	Latest(ctx context.Context, kind Kind, n int) ([]Record, error)

	Close() error
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Call it from an init
// function in the backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Backends returns the registered backend kinds, sorted.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the store for cfg.Kind and ensures its schema.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing store kind")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported store kind %q (registered: %s)", cfg.Kind, strings.Join(Backends(), ", "))
	}

	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("storage: ensure %s schema: %w", cfg.Kind, err)
	}
	return s, nil
}

// Put marshals payload and appends it as a record of kind.
func Put(ctx context.Context, s Store, kind Kind, datasetID string, payload any) error {
	rec, err := NewRecord(kind, datasetID, payload)
	if err != nil {
		return err
	}
	return s.Append(ctx, rec)
}

// LatestMetadata returns the payloads of the n newest metadata records.
func LatestMetadata(ctx context.Context, s Store, n int) ([]json.RawMessage, error) {
	recs, err := s.Latest(ctx, KindMetadata, n)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(recs))
	for i, r := range recs {
		out[i] = r.Payload
	}
	return out, nil
}
