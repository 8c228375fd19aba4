// Package audit records the step-by-step trail of a pipeline run.
//
// A Recorder stamps each event and hands it to a Sink. Sinks fan out to the
// JSONL audit file, the record store and Kafka. Sink failures are logged and
// never fail the run.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tabprep/internal/storage"
)

// FileName is the audit file written inside the data directory.
const FileName = "cleaning_audit.jsonl"

// Record is one audit event.
type Record struct {
	Time      time.Time      `json:"time"`
	RunID     string         `json:"run_id,omitempty"`
	DatasetID string         `json:"dataset_id"`
	Step      string         `json:"step"`
	Details   map[string]any `json:"details"`
}

// MarshalJSON writes Time as UTC RFC3339Nano and never emits a null
// details object.
func (r Record) MarshalJSON() ([]byte, error) {
	type wire struct {
		Time      string         `json:"time"`
		RunID     string         `json:"run_id,omitempty"`
		DatasetID string         `json:"dataset_id"`
		Step      string         `json:"step"`
		Details   map[string]any `json:"details"`
	}
	d := r.Details
	if d == nil {
		d = map[string]any{}
	}
	return json.Marshal(wire{
		Time:      r.Time.UTC().Format(time.RFC3339Nano),
		RunID:     r.RunID,
		DatasetID: r.DatasetID,
		Step:      r.Step,
		Details:   Sanitize(d).(map[string]any),
	})
}

// Sanitize returns v with non-finite floats replaced by nil so it can be
// encoded as JSON. Maps and slices are copied, other values pass through.
func Sanitize(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Sanitize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Sanitize(e)
		}
		return out
	case map[string]float64:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Sanitize(e)
		}
		return out
	default:
		return v
	}
}

// Sink receives audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// FileSink appends records to a JSONL file. Safe for concurrent use.
type FileSink struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileSink returns a sink appending to path. The file and its directory
// are created on the first write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Write(_ context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", rec.Step, err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		s.f = f
	}
	_, err = s.f.Write(b)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// StoreSink appends records to a record store as audit records.
type StoreSink struct {
	store storage.Store
}

func NewStoreSink(st storage.Store) *StoreSink { return &StoreSink{store: st} }

func (s *StoreSink) Write(ctx context.Context, rec Record) error {
	return storage.Put(ctx, s.store, storage.KindAudit, rec.DatasetID, rec)
}

// Close does not close the store; the owner of the store does.
func (s *StoreSink) Close() error { return nil }

type multi []Sink

// Multi fans a record out to every sink. All sinks are attempted; errors are
// combined.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Write(ctx context.Context, rec Record) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(ctx, rec))
	}
	return err
}

func (m multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Recorder stamps events with the run ID and current time and writes them to
// a sink.
type Recorder struct {
	sink  Sink
	runID string
	log   *zap.Logger
	now   func() time.Time
}

// NewRecorder builds a Recorder. A nil sink discards records; a nil logger
// logs nothing.
func NewRecorder(sink Sink, runID string, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, runID: runID, log: log, now: time.Now}
}

// RunID returns the run identifier stamped on every record.
func (r *Recorder) RunID() string { return r.runID }

// Record writes one event. A sink failure is logged and otherwise ignored.
func (r *Recorder) Record(ctx context.Context, datasetID, step string, details map[string]any) {
	if r == nil || r.sink == nil {
		return
	}
	rec := Record{
		Time:      r.now().UTC(),
		RunID:     r.runID,
		DatasetID: datasetID,
		Step:      step,
		Details:   details,
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		r.log.Warn("audit write failed",
			zap.String("step", step),
			zap.String("dataset_id", datasetID),
			zap.Error(err),
		)
	}
}

// Close closes the underlying sink.
func (r *Recorder) Close() error {
	if r == nil || r.sink == nil {
		return nil
	}
	return r.sink.Close()
}
