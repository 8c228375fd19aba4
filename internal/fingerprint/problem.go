package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Defaults for problem arbitration and risk detection.
const (
	DefaultArbitrationBias      = 0.25
	DefaultCorrelationThreshold = 0.85
	SemiSupervisedMissingRatio  = 0.4
	smallDatasetRows            = 1000
	highMissingRatio            = 0.3
	severeImbalanceRatio        = 0.2
)

// ErrCleanedDatasetNotFound is returned when no cleaned file carries an id.
var ErrCleanedDatasetNotFound = errors.New("cleaned dataset not found")

// Task types.
const (
	TaskClassification = "classification"
	TaskRegression     = "regression"
	TaskClustering     = "clustering"
)

// InferTaskType maps a free-form target type to a task. Unrecognized types
// are treated as classification.
func InferTaskType(fp Fingerprint) string {
	t := strings.ToLower(fp.TargetType)
	switch {
	case containsAny(t, "class", "binary", "multiclass"):
		return TaskClassification
	case containsAny(t, "regress", "continuous", "numeric"):
		return TaskRegression
	case containsAny(t, "cluster", "unsupervised", "none"):
		return TaskClustering
	default:
		return TaskClassification
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DetectRisks lists the statistical risks of a dataset.
func DetectRisks(fp Fingerprint, corrThreshold float64) []string {
	risks := []string{}
	if fp.FeatureCorrelation > corrThreshold {
		risks = append(risks, "high_multicollinearity")
	}
	if fp.ClassBalance != nil && *fp.ClassBalance < severeImbalanceRatio {
		risks = append(risks, "severe_class_imbalance")
	}
	if fp.NFeatures > fp.NRows {
		risks = append(risks, "high_dimensionality")
	}
	if fp.NRows < smallDatasetRows {
		risks = append(risks, "small_dataset")
	}
	if fp.MissingRatio > highMissingRatio {
		risks = append(risks, "high_missingness")
	}
	return risks
}

// Problem is a canonical learning problem.
type Problem string

const (
	Classification Problem = "classification"
	Regression     Problem = "regression"
	Unsupervised   Problem = "unsupervised"
	SemiSupervised Problem = "semi_supervised"
	UnknownProblem Problem = "unknown"
)

var problemAliases = map[string]Problem{
	"binary_classification":      Classification,
	"multiclass_classification":  Classification,
	"multi_class_classification": Classification,
	"classification":             Classification,
	"clustering":                 Unsupervised,
	"cluster_analysis":           Unsupervised,
	"unsupervised_learning":      Unsupervised,
	"unsupervised":               Unsupervised,
	"regression":                 Regression,
	"semi_supervised_learning":   SemiSupervised,
	"semi_supervised":            SemiSupervised,
}

// CanonicalProblem normalizes a problem description.
func CanonicalProblem(s string) Problem {
	if p, ok := problemAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p
	}
	return UnknownProblem
}

// ColumnSemantic is a column and its semantic type.
type ColumnSemantic struct {
	Column       string `json:"column_name"`
	SemanticType string `json:"semantic_type"`
}

// DetectProblemType is the rule-based problem guess and its confidence.
func DetectProblemType(target string, cols []ColumnSemantic) (Problem, float64) {
	if target == "" {
		return Unsupervised, 1.0
	}
	for _, c := range cols {
		if c.Column != target {
			continue
		}
		switch {
		case strings.HasPrefix(c.SemanticType, "categorical"):
			return Classification, 0.95
		case c.SemanticType == "numeric_continuous":
			return Regression, 0.95
		}
	}
	return UnknownProblem, 0.3
}

// DetectSemiSupervised flags a target with too many missing labels.
func DetectSemiSupervised(target string, targetMissingRatio float64) (bool, float64) {
	if target == "" {
		return false, 0
	}
	if targetMissingRatio > SemiSupervisedMissingRatio {
		return true, 0.9
	}
	return false, 0
}

// ResolveProblem arbitrates between the rule and an LLM opinion. The LLM
// wins only when its confidence beats the rule's by more than bias.
func ResolveProblem(rule Problem, ruleConf float64, llm Problem, llmConf float64, semi bool, bias float64) Problem {
	switch {
	case rule == Unsupervised:
		return Unsupervised
	case semi:
		return SemiSupervised
	case llm != "" && llmConf > ruleConf+bias:
		return llm
	default:
		return rule
	}
}

// cleanedExtensions are searched in order.
var cleanedExtensions = []string{"csv", "xlsx", "xls"}

// ResolveCleanedDatasetPath finds the cleaned file of a dataset in dir.
func ResolveCleanedDatasetPath(dir, datasetID string) (string, error) {
	if datasetID == "" {
		return "", fmt.Errorf("%w: empty dataset id", ErrCleanedDatasetNotFound)
	}
	for _, ext := range cleanedExtensions {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+datasetID+"."+ext))
		if err != nil {
			return "", err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
				return m, nil
			}
		}
	}
	return "", fmt.Errorf("%w: id=%s in %s", ErrCleanedDatasetNotFound, datasetID, dir)
}
