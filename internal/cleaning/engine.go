package cleaning

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tabprep/internal/diagnostics"
	"tabprep/internal/frame"
	"tabprep/internal/metrics"
)

// ErrUnknownAction is returned when a step names an action the registry does
// not hold.
var ErrUnknownAction = errors.New("unknown cleaning action")

// SkipColumnMissing is the skip reason for a step whose column was removed
// by an earlier step.
const SkipColumnMissing = "column_missing_after_previous_transform"

// Audit steps written by the engine.
const (
	AuditApplied = "clean_action"
	AuditSkipped = "action_skipped"
	AuditFailed  = "action_failed"
)

// Step is one planned action. An empty Column means the action applies to
// the whole table.
type Step struct {
	Column string `json:"column,omitempty"`
	Action string `json:"action"`
}

// Status is the result of one executed step.
type Status string

const (
	Applied Status = "applied"
	Skipped Status = "skipped"
	Failed  Status = "failed"
)

// Outcome records what happened to a step.
type Outcome struct {
	Step   Step   `json:"step"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Recorder receives audit events. *audit.Recorder satisfies it.
type Recorder interface {
	Record(ctx context.Context, datasetID, step string, details map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, map[string]any) {}

// Engine applies steps in order using a Registry.
type Engine struct {
	reg Registry
	rec Recorder
	log *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine builds an engine over reg. A nil reg uses the canonical
// registry.
func NewEngine(reg Registry, opts ...EngineOption) *Engine {
	if reg == nil {
		reg = NewRegistry(DefaultOptions())
	}
	e := &Engine{reg: reg, rec: nopRecorder{}, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute applies steps to t in order; each step sees the previous step's
// output. A step whose column is gone is skipped. An action that errors or
// panics is recorded and the table passes through unchanged. An unknown
// action name stops execution with ErrUnknownAction. Cancellation is checked
// between steps.
func (e *Engine) Execute(ctx context.Context, t *frame.Table, datasetID string, steps []Step) (*frame.Table, []Outcome, error) {
	cur := t
	outcomes := make([]Outcome, 0, len(steps))

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return cur, outcomes, err
		}

		if s.Column != "" && !cur.Has(s.Column) {
			e.rec.Record(ctx, datasetID, AuditSkipped, map[string]any{
				"reason": SkipColumnMissing,
				"column": s.Column,
				"action": s.Action,
			})
			metrics.RecordAction(s.Action, string(Skipped))
			outcomes = append(outcomes, Outcome{Step: s, Status: Skipped, Reason: SkipColumnMissing})
			continue
		}

		act, ok := e.reg[s.Action]
		if !ok {
			return cur, outcomes, fmt.Errorf("%w: %q", ErrUnknownAction, s.Action)
		}

		next, err := apply(act, cur, s.Column)
		if err != nil {
			e.log.Warn("action failed",
				zap.String("action", s.Action),
				zap.String("column", s.Column),
				zap.Error(err),
			)
			e.rec.Record(ctx, datasetID, AuditFailed, map[string]any{
				"column": columnValue(s.Column),
				"action": s.Action,
				"error":  err.Error(),
			})
			metrics.RecordAction(s.Action, string(Failed))
			outcomes = append(outcomes, Outcome{Step: s, Status: Failed, Error: err.Error()})
			continue
		}

		cur = next
		e.rec.Record(ctx, datasetID, AuditApplied, map[string]any{
			"column": columnValue(s.Column),
			"action": s.Action,
		})
		metrics.RecordAction(s.Action, string(Applied))
		outcomes = append(outcomes, Outcome{Step: s, Status: Applied})
	}
	return cur, outcomes, nil
}

// apply runs one action, converting a panic into an error.
func apply(act Action, t *frame.Table, column string) (out *frame.Table, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	out, err = act(t, column)
	if err == nil && out == nil {
		err = errors.New("action returned no table")
	}
	return out, err
}

// columnValue renders a table-wide step's column as JSON null.
func columnValue(column string) any {
	if column == "" {
		return nil
	}
	return column
}

// StepsFromDiagnostics turns auto-fixable findings that carry an action into
// steps, keeping report order. Table-level findings become table-wide steps.
func StepsFromDiagnostics(rep diagnostics.Report) []Step {
	var steps []Step
	for _, r := range rep.AutoFixable {
		if r.Action() == "" {
			continue
		}
		steps = append(steps, Step{Column: r.ColumnName(), Action: r.Action()})
	}
	return steps
}
