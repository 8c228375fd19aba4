package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabprep/internal/frame"
	"tabprep/internal/metrics"
)

// Report is the unified diagnostics output. Each list keeps registration
// order of the detectors that produced it.
type Report struct {
	AutoFixable    []Result `json:"auto_fixable"`
	PolicyRequired []Result `json:"policy_required"`
	Informational  []Result `json:"informational"`
}

// Runner executes a registry against a table.
type Runner struct {
	reg     *Registry
	log     *zap.Logger
	workers int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for detector failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithWorkers bounds how many detectors of one bucket run at once.
// Values < 1 mean sequential execution.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// NewRunner builds a runner over reg. A nil reg uses NewRegistry.
func NewRunner(reg *Registry, opts ...Option) *Runner {
	if reg == nil {
		reg = NewRegistry()
	}
	r := &Runner{reg: reg, log: zap.NewNop(), workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// Run executes the canonical registry with default settings.
func Run(ctx context.Context, t *frame.Table, target string) Report {
	return NewRunner(nil).Run(ctx, t, target)
}

// Run executes every bucket in order auto, policy, informational. Detector
// failures are logged and counted but never reach the caller. A target that
// is not a column of t is treated as no target. Detectors not yet started
// when ctx is done are skipped.
func (r *Runner) Run(ctx context.Context, t *frame.Table, target string) Report {
	if target != "" && !t.Has(target) {
		r.log.Debug("target not in table", zap.String("target", target))
		target = ""
	}

	start := time.Now()
	rep := Report{
		AutoFixable:    r.runBucket(ctx, AutoFixable, t, target),
		PolicyRequired: r.runBucket(ctx, PolicyRequired, t, target),
		Informational:  r.runBucket(ctx, InformationalBucket, t, target),
	}
	r.log.Debug("diagnostics completed",
		zap.Int("auto_fixable", len(rep.AutoFixable)),
		zap.Int("policy_required", len(rep.PolicyRequired)),
		zap.Int("informational", len(rep.Informational)),
		zap.Duration("took", time.Since(start)),
	)
	return rep
}

func (r *Runner) runBucket(ctx context.Context, b Bucket, t *frame.Table, target string) []Result {
	ds := r.reg.Bucket(b)
	slots := make([][]Result, len(ds))

	jobs := make(chan int)
	workers := r.workers
	if workers > len(ds) {
		workers = len(ds)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				slots[i] = r.detect(ds[i], t, target)
			}
		}()
	}
	for i := range ds {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := []Result{}
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}

// detect runs one detector and converts an error or panic into an empty
// contribution.
func (r *Runner) detect(d Detector, t *frame.Table, target string) (res []Result) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(d, fmt.Errorf("panic: %v", p))
			res = nil
		}
	}()

	res, err := d.Detect(t, target)
	if err != nil {
		r.fail(d, err)
		return nil
	}
	return res
}

func (r *Runner) fail(d Detector, err error) {
	metrics.RecordDetectorFailure(d.Name)
	r.log.Warn("detector failed",
		zap.String("detector", d.Name),
		zap.String("bucket", d.Bucket.String()),
		zap.Error(err),
	)
}

// Counts returns the number of findings per bucket.
func (rep Report) Counts() (auto, policy, info int) {
	return len(rep.AutoFixable), len(rep.PolicyRequired), len(rep.Informational)
}
