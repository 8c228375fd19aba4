package fingerprint

import "encoding/json"

// Assessment is everything derived from one fingerprint.
type Assessment struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	TaskType    string      `json:"task_type"`
	Risks       []string    `json:"risks"`
	Problem     Problem     `json:"problem"`
	CleanedPath string      `json:"cleaned_dataset_path,omitempty"`
}

// AssessOptions carries the inputs that do not live in a fingerprint.
type AssessOptions struct {
	Target               string
	TargetMissingRatio   float64
	ArbitrationBias      float64
	CorrelationThreshold float64

	// LLMProblem and LLMConfidence hold an optional second opinion.
	LLMProblem    Problem
	LLMConfidence float64
}

// Assess derives the task type, risks and arbitrated problem of fp. The
// target's semantic type comes from the fingerprint's task type.
func Assess(fp Fingerprint, opts AssessOptions) Assessment {
	task := InferTaskType(fp)

	var cols []ColumnSemantic
	if opts.Target != "" {
		sem := ""
		switch task {
		case TaskClassification:
			sem = "categorical_nominal"
		case TaskRegression:
			sem = "numeric_continuous"
		}
		cols = append(cols, ColumnSemantic{Column: opts.Target, SemanticType: sem})
	}
	rule, ruleConf := DetectProblemType(opts.Target, cols)
	semi, _ := DetectSemiSupervised(opts.Target, opts.TargetMissingRatio)

	return Assessment{
		Fingerprint: fp,
		TaskType:    task,
		Risks:       DetectRisks(fp, opts.CorrelationThreshold),
		Problem:     ResolveProblem(rule, ruleConf, opts.LLMProblem, opts.LLMConfidence, semi, opts.ArbitrationBias),
	}
}

// TargetColumn returns the target named by a metadata record of any
// layout, or "".
func TargetColumn(data []byte) string {
	var r struct {
		TargetColumn *string `json:"target_column"`
		Target       *string `json:"target"`
	}
	if json.Unmarshal(data, &r) != nil {
		return ""
	}
	switch {
	case r.TargetColumn != nil:
		return *r.TargetColumn
	case r.Target != nil:
		return *r.Target
	}
	return ""
}
