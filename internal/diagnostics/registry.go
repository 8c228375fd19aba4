package diagnostics

import (
	"fmt"

	"tabprep/internal/frame"
)

// Bucket is the report section a detector writes to.
type Bucket uint8

const (
	AutoFixable Bucket = iota
	PolicyRequired
	InformationalBucket
)

func (b Bucket) String() string {
	switch b {
	case AutoFixable:
		return "auto_fixable"
	case PolicyRequired:
		return "policy_required"
	case InformationalBucket:
		return "informational"
	default:
		return "unknown"
	}
}

// Arity declares whether a detector needs the target column name.
type Arity uint8

const (
	TableOnly Arity = iota
	TakesTarget
)

// TableFunc inspects a table.
type TableFunc func(t *frame.Table) ([]Result, error)

// TargetFunc inspects a table given the target column name ("" for none).
type TargetFunc func(t *frame.Table, target string) ([]Result, error)

// Detector is a named, bucketed detection rule.
type Detector struct {
	Name   string
	Bucket Bucket
	Arity  Arity

	table  TableFunc
	target TargetFunc
}

// OnTable declares a TableOnly detector.
func OnTable(name string, b Bucket, fn TableFunc) Detector {
	return Detector{Name: name, Bucket: b, Arity: TableOnly, table: fn}
}

// OnTarget declares a TakesTarget detector.
func OnTarget(name string, b Bucket, fn TargetFunc) Detector {
	return Detector{Name: name, Bucket: b, Arity: TakesTarget, target: fn}
}

// Detect runs the detector with the argument list its arity declares.
func (d Detector) Detect(t *frame.Table, target string) ([]Result, error) {
	switch d.Arity {
	case TakesTarget:
		if d.target == nil {
			return nil, fmt.Errorf("detector %q: no target function", d.Name)
		}
		return d.target(t, target)
	default:
		if d.table == nil {
			return nil, fmt.Errorf("detector %q: no table function", d.Name)
		}
		return d.table(t)
	}
}

// Registry is an ordered detector list per bucket. Order within a bucket is
// registration order and is preserved in reports.
type Registry struct {
	buckets [3][]Detector
	names   map[string]struct{}
}

// Register appends d to its bucket. Names are unique across buckets.
func (r *Registry) Register(d Detector) error {
	if d.Name == "" {
		return fmt.Errorf("diagnostics: detector without name")
	}
	if d.Bucket > InformationalBucket {
		return fmt.Errorf("diagnostics: detector %q has unknown bucket %d", d.Name, d.Bucket)
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	if _, dup := r.names[d.Name]; dup {
		return fmt.Errorf("diagnostics: duplicate detector %q", d.Name)
	}
	r.names[d.Name] = struct{}{}
	r.buckets[d.Bucket] = append(r.buckets[d.Bucket], d)
	return nil
}

// Bucket returns the detectors of b in registration order.
func (r *Registry) Bucket(b Bucket) []Detector {
	if int(b) >= len(r.buckets) {
		return nil
	}
	return append([]Detector(nil), r.buckets[b]...)
}

// Names returns every registered detector name in bucket, then registration
// order.
func (r *Registry) Names() []string {
	var out []string
	for _, ds := range r.buckets {
		for _, d := range ds {
			out = append(out, d.Name)
		}
	}
	return out
}

func mustRegister(r *Registry, ds ...Detector) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// NewRegistry returns the canonical detector set.
func NewRegistry() *Registry {
	r := &Registry{}
	mustRegister(r,
		OnTable("duplicate_columns", AutoFixable, detectDuplicateColumns),
		OnTable("duplicate_rows", AutoFixable, detectDuplicateRows),
		OnTable("near_constant", AutoFixable, detectNearConstant),
		OnTable("extreme_kurtosis", AutoFixable, detectExtremeKurtosis),
		OnTable("impossible_values", AutoFixable, detectImpossibleValues),

		OnTarget("class_imbalance", PolicyRequired, detectClassImbalance),
		OnTable("high_feature_to_sample_ratio", PolicyRequired, detectHighFeatureToSampleRatio),

		OnTable("text_column", InformationalBucket, detectTextColumns),
		OnTable("boolean_column", InformationalBucket, detectBooleanColumns),
		OnTable("ordinal_feature", InformationalBucket, detectOrdinalFeature),
		OnTable("small_sample", InformationalBucket, detectSmallSample),
		OnTable("timestamp_column", InformationalBucket, detectTimestampColumns),
	)
	return r
}

// ExtendedRegistry returns the canonical set followed by the extended
// detectors in each bucket.
func ExtendedRegistry() *Registry {
	r := NewRegistry()
	mustRegister(r,
		OnTable("text_missing", AutoFixable, detectTextMissing),
		OnTable("heavy_tail", AutoFixable, detectHeavyTail),
		OnTable("zero_inflation", AutoFixable, detectZeroInflation),
		OnTable("encoding_inconsistency", AutoFixable, detectEncodingInconsistency),
		OnTable("rare_categories", AutoFixable, detectRareCategories),
		OnTable("high_cardinality", AutoFixable, detectHighCardinality),
		OnTable("outlier_clusters", AutoFixable, detectOutlierClusters),

		OnTable("multicollinearity_index", PolicyRequired, detectMulticollinearity),
		OnTable("correlation_groups", PolicyRequired, detectCorrelationGroups),
		OnTable("feature_redundancy", PolicyRequired, detectFeatureRedundancy),
		OnTable("multimodality", PolicyRequired, detectMultimodality),
		OnTable("heteroscedasticity", PolicyRequired, detectHeteroscedasticity),
		OnTarget("target_separability", PolicyRequired, detectTargetSeparability),
		OnTable("seasonality_presence", PolicyRequired, detectSeasonalityPresence),
		OnTable("time_frequency_irregularity", PolicyRequired, detectTimeFrequencyIrregularity),

		OnTable("sampling_bias", InformationalBucket, detectSamplingBias),
		OnTable("block_missingness", InformationalBucket, detectBlockMissingness),
		OnTable("missing_pattern", InformationalBucket, detectMissingPattern),
		OnTable("feature_noise", InformationalBucket, detectFeatureNoise),
		OnTable("distribution_shift", InformationalBucket, detectDistributionShift),
		OnTable("scaling_needed", InformationalBucket, detectScalingNeeded),
		OnTable("nonlinearity", InformationalBucket, detectNonlinearity),
		OnTable("interaction_strength", InformationalBucket, detectInteractionStrength),
		OnTable("variance_instability", InformationalBucket, detectVarianceInstability),
	)
	return r
}

// RegistryFor maps a profile name to a registry: "extended" or anything
// else for the canonical set.
func RegistryFor(profile string) *Registry {
	if profile == "extended" {
		return ExtendedRegistry()
	}
	return NewRegistry()
}
