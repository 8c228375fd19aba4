// Package metrics is the backend-neutral metrics facade used by the pipeline.
//
// Core code records through the package-level helpers; the process picks a
// concrete backend once at startup with SetBackend. Until then every call goes
// to a no-op backend, so tests and library callers never need to configure
// anything.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline.
const (
	StepTotal           = "tabprep_step_total"
	StepDurationSeconds = "tabprep_step_duration_seconds"
	DetectorFailures    = "tabprep_detector_failures_total"
	ActionsTotal        = "tabprep_actions_total"
	ResolverCalls       = "tabprep_resolver_calls_total"
	RowsTotal           = "tabprep_rows_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. A nil b restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one pipeline step and its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordDetectorFailure counts a detector that errored or panicked.
func RecordDetectorFailure(detector string) {
	IncCounter(DetectorFailures, 1, Labels{"detector": detector})
}

// RecordAction counts one cleaning step outcome.
func RecordAction(action, status string) {
	IncCounter(ActionsTotal, 1, Labels{"action": action, "status": status})
}

// RecordResolverCall counts one resolver call by outcome.
func RecordResolverCall(status string) {
	IncCounter(ResolverCalls, 1, Labels{"status": status})
}

// RecordRows counts rows of a given kind (loaded, dropped, written).
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}
