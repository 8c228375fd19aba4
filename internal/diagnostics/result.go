// Package diagnostics holds the detector registry and the unified runner that
// sorts dataset problems into auto-fixable, policy-required and informational
// buckets.
//
// Detectors are pure functions of a table (and optionally the target column
// name). They never modify the table they are given. The runner isolates
// failures: a detector that errors or panics contributes nothing and is
// logged, the rest of the report is unaffected.
package diagnostics

import (
	"fmt"
)

// Severity is an advisory, ordered label: Info < Moderate < High.
type Severity uint8

const (
	Info Severity = iota
	Moderate
	High
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Moderate:
		return "moderate"
	case High:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// MarshalText renders the string label so JSON artifacts carry "high" etc.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a label written by MarshalText.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = Info
	case "moderate":
		*s = Moderate
	case "high":
		*s = High
	default:
		return fmt.Errorf("diagnostics: unknown severity %q", string(b))
	}
	return nil
}

// Result is one finding produced by a detector.
//
// AutoFixable and PolicyRequired are never both true; build results through
// AutoFix, Policy and Informational to keep it that way.
type Result struct {
	Detector          string   `json:"detector"`
	Column            *string  `json:"column"`
	Value             any      `json:"value"`
	Severity          Severity `json:"severity"`
	AutoFixable       bool     `json:"auto_fixable"`
	PolicyRequired    bool     `json:"policy_required"`
	RecommendedAction *string  `json:"recommended_action"`
}

// AutoFix builds an auto-fixable finding with its remediation action.
func AutoFix(detector, column string, value any, sev Severity, action string) Result {
	return Result{
		Detector:          detector,
		Column:            strPtr(column),
		Value:             value,
		Severity:          sev,
		AutoFixable:       true,
		RecommendedAction: strPtr(action),
	}
}

// Policy builds a finding that needs a human decision.
func Policy(detector, column string, value any, sev Severity) Result {
	return Result{
		Detector:       detector,
		Column:         strPtr(column),
		Value:          value,
		Severity:       sev,
		PolicyRequired: true,
	}
}

// Informational builds a visibility-only finding at Info severity.
func Informational(detector, column string, value any) Result {
	return Result{
		Detector: detector,
		Column:   strPtr(column),
		Value:    value,
		Severity: Info,
	}
}

// ColumnName returns the target column or "" for a dataset-level finding.
func (r Result) ColumnName() string {
	if r.Column == nil {
		return ""
	}
	return *r.Column
}

// Action returns the recommended action or "".
func (r Result) Action() string {
	if r.RecommendedAction == nil {
		return ""
	}
	return *r.RecommendedAction
}

// strPtr maps "" to nil so dataset-level findings serialize column as null.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
