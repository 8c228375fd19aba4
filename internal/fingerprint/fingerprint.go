// Package fingerprint reduces a dataset metadata record to a versioned
// Fingerprint and derives the learning problem from it.
//
// Metadata records were written under several key-sets over time. Each
// key-set has its own translator; Translate picks one by the keys present.
package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Version is the current Fingerprint layout.
const Version = 2

// ErrMissingDatasetID is returned for records without a dataset_id.
var ErrMissingDatasetID = errors.New("metadata record has no dataset_id")

// Fingerprint is the model-selection view of a dataset.
type Fingerprint struct {
	SchemaVersion      int      `json:"schema_version"`
	DatasetID          string   `json:"dataset_id"`
	NRows              int      `json:"n_rows"`
	NFeatures          int      `json:"n_features"`
	NumericRatio       float64  `json:"numeric_ratio"`
	CategoricalRatio   float64  `json:"categorical_ratio"`
	MissingRatio       float64  `json:"missing_ratio"`
	TargetType         string   `json:"target_type"`
	ClassBalance       *float64 `json:"class_balance"`
	FeatureCorrelation float64  `json:"feature_correlation"`
	ComplexityScore    float64  `json:"complexity_score"`
}

// KeySet names a metadata layout.
type KeySet string

const (
	KeySetMetadata KeySet = "metadata"
	KeySetV0       KeySet = "v0"
	KeySetV1       KeySet = "v1"
	KeySetV2       KeySet = "v2"
)

// markers are keys that only one layout uses, checked in order.
var markers = []struct {
	set  KeySet
	keys []string
}{
	{KeySetMetadata, []string{"numeric_columns", "categorical_columns", "dataset_complexity_score"}},
	{KeySetV1, []string{"num_numeric_features_ratio", "num_categorical_features_ratio", "missing_percentage", "problem_type", "minority_class_ratio", "avg_feature_correlation", "dataset_complexity"}},
	{KeySetV2, []string{"numeric_feature_ratio", "categorical_feature_ratio", "task_type"}},
}

// DetectKeySet reports which layout raw was written with. Records without
// any marker are read as v0.
func DetectKeySet(raw map[string]json.RawMessage) KeySet {
	for _, m := range markers {
		for _, k := range m.keys {
			if _, ok := raw[k]; ok {
				return m.set
			}
		}
	}
	return KeySetV0
}

// Translate decodes one metadata record of any known layout.
func Translate(data []byte) (Fingerprint, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Fingerprint{}, fmt.Errorf("decode metadata record: %w", err)
	}

	var (
		fp  Fingerprint
		err error
	)
	switch DetectKeySet(raw) {
	case KeySetMetadata:
		fp, err = FromMetadata(data)
	case KeySetV1:
		fp, err = FromLegacyV1(data)
	case KeySetV2:
		fp, err = FromLegacyV2(data)
	default:
		fp, err = FromLegacyV0(data)
	}
	if err != nil {
		return Fingerprint{}, err
	}
	if fp.DatasetID == "" {
		return Fingerprint{}, ErrMissingDatasetID
	}
	return normalize(fp), nil
}

// normalize fills the version and splits features evenly when a record
// gives no type ratios at all.
func normalize(fp Fingerprint) Fingerprint {
	fp.SchemaVersion = Version
	if fp.NumericRatio == 0 && fp.CategoricalRatio == 0 && fp.NFeatures > 0 {
		fp.NumericRatio, fp.CategoricalRatio = 0.5, 0.5
	}
	if fp.TargetType == "" {
		fp.TargetType = "unknown"
	}
	return fp
}

type common struct {
	DatasetID string `json:"dataset_id"`
	NRows     int    `json:"n_rows"`
	NFeatures int    `json:"n_features"`
}

// FromLegacyV0 reads the original key-set: numeric_ratio, missing_ratio,
// class_balance, feature_correlation, complexity_score.
func FromLegacyV0(data []byte) (Fingerprint, error) {
	var r struct {
		common
		NumericRatio       float64  `json:"numeric_ratio"`
		CategoricalRatio   float64  `json:"categorical_ratio"`
		MissingRatio       float64  `json:"missing_ratio"`
		TargetType         string   `json:"target_type"`
		LearningType       string   `json:"learning_type"`
		ClassBalance       *float64 `json:"class_balance"`
		FeatureCorrelation float64  `json:"feature_correlation"`
		ComplexityScore    float64  `json:"complexity_score"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Fingerprint{}, fmt.Errorf("decode v0 metadata: %w", err)
	}
	return Fingerprint{
		DatasetID:          r.DatasetID,
		NRows:              r.NRows,
		NFeatures:          r.NFeatures,
		NumericRatio:       r.NumericRatio,
		CategoricalRatio:   r.CategoricalRatio,
		MissingRatio:       r.MissingRatio,
		TargetType:         firstNonEmpty(r.TargetType, r.LearningType),
		ClassBalance:       r.ClassBalance,
		FeatureCorrelation: r.FeatureCorrelation,
		ComplexityScore:    r.ComplexityScore,
	}, nil
}

// FromLegacyV1 reads the num_*_features_ratio / problem_type key-set.
func FromLegacyV1(data []byte) (Fingerprint, error) {
	var r struct {
		common
		NumericRatio          float64  `json:"num_numeric_features_ratio"`
		CategoricalRatio      float64  `json:"num_categorical_features_ratio"`
		MissingPercentage     float64  `json:"missing_percentage"`
		ProblemType           string   `json:"problem_type"`
		MinorityClassRatio    *float64 `json:"minority_class_ratio"`
		AvgFeatureCorrelation float64  `json:"avg_feature_correlation"`
		DatasetComplexity     float64  `json:"dataset_complexity"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Fingerprint{}, fmt.Errorf("decode v1 metadata: %w", err)
	}
	return Fingerprint{
		DatasetID:          r.DatasetID,
		NRows:              r.NRows,
		NFeatures:          r.NFeatures,
		NumericRatio:       r.NumericRatio,
		CategoricalRatio:   r.CategoricalRatio,
		MissingRatio:       r.MissingPercentage,
		TargetType:         r.ProblemType,
		ClassBalance:       r.MinorityClassRatio,
		FeatureCorrelation: r.AvgFeatureCorrelation,
		ComplexityScore:    r.DatasetComplexity,
	}, nil
}

// FromLegacyV2 reads the *_feature_ratio / task_type key-set. The remaining
// fields use the v0 names.
func FromLegacyV2(data []byte) (Fingerprint, error) {
	var r struct {
		common
		NumericRatio       float64  `json:"numeric_feature_ratio"`
		CategoricalRatio   float64  `json:"categorical_feature_ratio"`
		MissingRatio       float64  `json:"missing_ratio"`
		TaskType           string   `json:"task_type"`
		ClassBalance       *float64 `json:"class_balance"`
		FeatureCorrelation float64  `json:"feature_correlation"`
		ComplexityScore    float64  `json:"complexity_score"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Fingerprint{}, fmt.Errorf("decode v2 metadata: %w", err)
	}
	return Fingerprint{
		DatasetID:          r.DatasetID,
		NRows:              r.NRows,
		NFeatures:          r.NFeatures,
		NumericRatio:       r.NumericRatio,
		CategoricalRatio:   r.CategoricalRatio,
		MissingRatio:       r.MissingRatio,
		TargetType:         r.TaskType,
		ClassBalance:       r.ClassBalance,
		FeatureCorrelation: r.FeatureCorrelation,
		ComplexityScore:    r.ComplexityScore,
	}, nil
}

// FromMetadata reads a record written by the metadata package. Ratios are
// derived from the column lists, class balance is the minority class share
// and the record carries no missing ratio because cleaned tables have none.
func FromMetadata(data []byte) (Fingerprint, error) {
	var r struct {
		common
		LearningType          string             `json:"learning_type"`
		TargetType            *string            `json:"target_type"`
		NumericColumns        []string           `json:"numeric_columns"`
		CategoricalColumns    []string           `json:"categorical_columns"`
		ClassDistribution     map[string]float64 `json:"class_distribution"`
		MaxFeatureCorrelation *float64           `json:"max_feature_correlation"`
		ComplexityScore       float64            `json:"dataset_complexity_score"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Fingerprint{}, fmt.Errorf("decode metadata: %w", err)
	}
	fp := Fingerprint{
		DatasetID:       r.DatasetID,
		NRows:           r.NRows,
		NFeatures:       r.NFeatures,
		TargetType:      r.LearningType,
		ComplexityScore: r.ComplexityScore,
	}
	if r.TargetType != nil && *r.TargetType != "" {
		fp.TargetType = *r.TargetType
	}
	if r.NFeatures > 0 {
		fp.NumericRatio = float64(len(r.NumericColumns)) / float64(r.NFeatures)
		fp.CategoricalRatio = float64(len(r.CategoricalColumns)) / float64(r.NFeatures)
	}
	if r.MaxFeatureCorrelation != nil {
		fp.FeatureCorrelation = *r.MaxFeatureCorrelation
	}
	if len(r.ClassDistribution) > 0 {
		minShare := math.Inf(1)
		for _, v := range r.ClassDistribution {
			minShare = math.Min(minShare, v)
		}
		fp.ClassBalance = &minShare
	}
	return fp, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
