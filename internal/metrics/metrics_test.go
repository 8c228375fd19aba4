package metrics

import (
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string][]float64
	flushes  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hists: map[string][]float64{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["step"]+labels["status"]+labels["kind"]+labels["detector"]+labels["action"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name] = append(r.hists[name], value)
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func TestDefaultBackendIsNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(StepTotal, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
}

func TestHelpersForwardToBackend(t *testing.T) {
	rb := newRecordingBackend()
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("load", "ok", 1500*time.Millisecond)
	RecordDetectorFailure("near_constant")
	RecordAction("drop_feature", "ok")
	RecordRows("loaded", 10)
	RecordRows("dropped", 0)

	if got := rb.counters[StepTotal+"|loadok"]; got != 1 {
		t.Fatalf("step counter=%v want 1", got)
	}
	if got := rb.hists[StepDurationSeconds]; len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("duration samples=%v want [1.5]", got)
	}
	if got := rb.counters[DetectorFailures+"|near_constant"]; got != 1 {
		t.Fatalf("detector failures=%v want 1", got)
	}
	if got := rb.counters[ActionsTotal+"|okdrop_feature"]; got != 1 {
		t.Fatalf("actions=%v want 1", got)
	}
	if got := rb.counters[RowsTotal+"|loaded"]; got != 10 {
		t.Fatalf("rows=%v want 10", got)
	}
	if _, ok := rb.counters[RowsTotal+"|dropped"]; ok {
		t.Fatalf("zero row count should not be recorded")
	}

	if err := Flush(); err != nil || rb.flushes != 1 {
		t.Fatalf("Flush() err=%v flushes=%d", err, rb.flushes)
	}
}
