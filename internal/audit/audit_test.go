package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memSink struct {
	mu     sync.Mutex
	recs   []Record
	err    error
	closed bool
}

func (m *memSink) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func (m *memSink) Close() error { m.closed = true; return m.err }

func TestRecordJSONShape(t *testing.T) {
	rec := Record{
		Time:      time.Date(2026, 5, 1, 12, 0, 0, 500, time.FixedZone("X", 7200)),
		RunID:     "run-1",
		DatasetID: "abcd1234",
		Step:      "post_clean_completed",
		Details:   map[string]any{"mean_variance": math.NaN(), "n_features": 3},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal err=%v", err)
	}
	want := `{"time":"2026-05-01T10:00:00.0000005Z","run_id":"run-1","dataset_id":"abcd1234","step":"post_clean_completed","details":{"mean_variance":null,"n_features":3}}`
	if string(b) != want {
		t.Fatalf("got=%s\nwant=%s", b, want)
	}

	b, _ = json.Marshal(Record{Step: "final_missing_sweep_completed"})
	if !strings.Contains(string(b), `"details":{}`) {
		t.Fatalf("nil details should encode as {}: %s", b)
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize(map[string]any{
		"a": math.Inf(1),
		"b": []any{1.0, math.NaN()},
		"c": map[string]float64{"x": math.Inf(-1), "y": 2},
	}).(map[string]any)
	if got["a"] != nil || got["b"].([]any)[1] != nil || got["c"].(map[string]any)["x"] != nil || got["c"].(map[string]any)["y"] != 2.0 {
		t.Fatalf("got=%v", got)
	}
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	sink := NewFileSink(path)
	rec := NewRecorder(sink, "run-7", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(context.Background(), "ds", "clean_action", map[string]any{"column": "a", "action": "drop_feature"})
		}()
	}
	wg.Wait()
	if err := rec.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile err=%v", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("lines=%d want 20", len(lines))
	}
	for _, l := range lines {
		var got map[string]any
		if err := json.Unmarshal([]byte(l), &got); err != nil {
			t.Fatalf("line %q is not JSON: %v", l, err)
		}
		if got["run_id"] != "run-7" || got["step"] != "clean_action" {
			t.Fatalf("line=%v", got)
		}
	}
}

func TestMultiWritesEverySinkAndCombinesErrors(t *testing.T) {
	ok := &memSink{}
	bad1 := &memSink{err: errors.New("first")}
	bad2 := &memSink{err: errors.New("second")}
	m := Multi(ok, nil, bad1, bad2)

	err := m.Write(context.Background(), Record{Step: "dataset_loaded"})
	if err == nil || !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Fatalf("err=%v", err)
	}
	if len(ok.recs) != 1 || len(bad2.recs) != 1 {
		t.Fatalf("not every sink written")
	}
	_ = m.Close()
	if !ok.closed || !bad1.closed {
		t.Fatalf("not every sink closed")
	}
}

func TestRecorderLogsSinkFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &memSink{err: errors.New("broker down")}
	rec := NewRecorder(sink, "run", zap.New(core))
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	rec.Record(context.Background(), "ds", "metadata_saved", map[string]any{"path": "x"})

	if logs.Len() != 1 || logs.All()[0].Message != "audit write failed" {
		t.Fatalf("logs=%v", logs.All())
	}
	if !sink.recs[0].Time.Equal(fixed) || sink.recs[0].RunID != "run" {
		t.Fatalf("record=%+v", sink.recs[0])
	}

	var nilRec *Recorder
	nilRec.Record(context.Background(), "ds", "noop", nil)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestKafkaSinkKeysByDataset(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{w: w, topic: "tabprep.audit"}
	if err := s.Write(context.Background(), Record{DatasetID: "ds01", Step: "clean_action", RunID: "r"}); err != nil {
		t.Fatalf("Write err=%v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "ds01" {
		t.Fatalf("msgs=%+v", w.msgs)
	}
	if w.msgs[0].Headers[0].Key != "step" || string(w.msgs[0].Headers[0].Value) != "clean_action" {
		t.Fatalf("headers=%+v", w.msgs[0].Headers)
	}
	_ = s.Close()
	if !w.closed {
		t.Fatalf("writer not closed")
	}
}

func TestNewKafkaSinkValidates(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatalf("missing brokers err=nil")
	}
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("missing topic err=nil")
	}
	s, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	if err != nil || s == nil {
		t.Fatalf("NewKafkaSink err=%v", err)
	}
}
