// Package metadata summarizes a cleaned table for downstream model
// selection: target, learning type, feature roles and a few dataset-level
// statistics.
package metadata

import (
	"math"
	"strings"

	"tabprep/internal/dates"
	"tabprep/internal/diagnostics"
	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

// SchemaVersion is written into every metadata record.
const SchemaVersion = 1

// Learning and target types.
const (
	Supervised   = "supervised"
	Unsupervised = "unsupervised"

	BinaryClassification     = "binary_classification"
	MulticlassClassification = "multiclass_classification"
	Regression               = "regression"
)

const (
	classificationMaxUnique = 20
	encodedCategoricalMax   = 50
	encodedCategoricalRatio = 0.05
	datetimeMinRatio        = 0.8
	leakageMinCorrelation   = 0.95
)

// commonTargetNames are lower-cased column names taken as the target when
// the user gives none.
var commonTargetNames = map[string]struct{}{
	"target": {}, "label": {}, "y": {}, "class": {}, "outcome": {},
	"response": {}, "churn": {}, "price": {}, "salary": {},
}

// Metadata is one dataset record.
type Metadata struct {
	DatasetID              string               `json:"dataset_id"`
	NRows                  int                  `json:"n_rows"`
	NFeatures              int                  `json:"n_features"`
	LearningType           string               `json:"learning_type"`
	TargetColumn           *string              `json:"target_column"`
	TargetType             *string              `json:"target_type"`
	NumericColumns         []string             `json:"numeric_columns"`
	CategoricalColumns     []string             `json:"categorical_columns"`
	DatetimeColumns        []string             `json:"datetime_columns"`
	IDColumns              []string             `json:"id_columns"`
	ConstantColumns        []string             `json:"constant_columns"`
	FeatureColumns         []string             `json:"feature_columns"`
	ClassDistribution      map[string]float64   `json:"class_distribution"`
	MaxFeatureCorrelation  *float64             `json:"max_feature_correlation"`
	DatasetComplexityScore float64              `json:"dataset_complexity_score"`
	LeakageCandidates      []string             `json:"leakage_candidates"`
	AutoFixesApplied       []diagnostics.Result `json:"auto_fixes_applied"`
	PolicyDecisions        []diagnostics.Result `json:"policy_decisions_required"`
	Informational          []diagnostics.Result `json:"informational_diagnostics"`
	SchemaVersion          int                  `json:"schema_version"`
}

// Roles is the feature split shared with later stages.
type Roles struct {
	Target      string   `json:"target,omitempty"`
	Numeric     []string `json:"numeric"`
	Categorical []string `json:"categorical"`
	Datetime    []string `json:"datetime"`
	ID          []string `json:"id"`
	Constant    []string `json:"constant"`
}

// Generate builds the metadata of t. userTarget wins when it names a
// column; otherwise a conventional target name is looked up.
func Generate(t *frame.Table, datasetID, userTarget string) *Metadata {
	roles := FeatureRoles(t, userTarget)
	md := &Metadata{
		DatasetID:          datasetID,
		NRows:              t.NumRows(),
		NFeatures:          t.NumCols(),
		LearningType:       Unsupervised,
		NumericColumns:     roles.Numeric,
		CategoricalColumns: roles.Categorical,
		DatetimeColumns:    roles.Datetime,
		IDColumns:          roles.ID,
		ConstantColumns:    roles.Constant,
		FeatureColumns:     []string{},
		LeakageCandidates:  []string{},
		AutoFixesApplied:   []diagnostics.Result{},
		PolicyDecisions:    []diagnostics.Result{},
		Informational:      []diagnostics.Result{},
		SchemaVersion:      SchemaVersion,
	}
	for _, name := range t.Names() {
		if name != roles.Target {
			md.FeatureColumns = append(md.FeatureColumns, name)
		}
	}

	if roles.Target != "" {
		target, _ := t.Column(roles.Target)
		tt := targetType(target)
		md.LearningType = Supervised
		md.TargetColumn = &roles.Target
		md.TargetType = &tt
		if tt != Regression {
			md.ClassDistribution = distribution(target)
		}
		md.LeakageCandidates = leakageCandidates(t, target)
	}

	numeric := numberColumns(t)
	md.MaxFeatureCorrelation = maxCorrelation(numeric)
	md.DatasetComplexityScore = complexity(t, numeric)
	return md
}

// Attach copies the diagnostics buckets into md.
func (md *Metadata) Attach(rep diagnostics.Report) {
	md.AutoFixesApplied = nonNil(rep.AutoFixable)
	md.PolicyDecisions = nonNil(rep.PolicyRequired)
	md.Informational = nonNil(rep.Informational)
}

func nonNil(rs []diagnostics.Result) []diagnostics.Result {
	if rs == nil {
		return []diagnostics.Result{}
	}
	return rs
}

// FeatureRoles splits the columns of t. The target, datetime, identifier
// and constant columns are excluded from the numeric/categorical split.
func FeatureRoles(t *frame.Table, userTarget string) Roles {
	n := t.NumRows()
	r := Roles{
		Target:      inferTarget(t, userTarget),
		Numeric:     []string{},
		Categorical: []string{},
		Datetime:    []string{},
		ID:          []string{},
		Constant:    []string{},
	}

	skip := map[string]struct{}{}
	for _, c := range t.Columns() {
		if c.Kind() == frame.Text && datetimeRatio(c) > datetimeMinRatio {
			r.Datetime = append(r.Datetime, c.Name())
			skip[c.Name()] = struct{}{}
		}
	}
	for _, c := range t.Columns() {
		if c.NUnique(false) == n {
			r.ID = append(r.ID, c.Name())
			skip[c.Name()] = struct{}{}
		}
	}
	for _, c := range t.Columns() {
		if c.NUnique(false) <= 1 {
			r.Constant = append(r.Constant, c.Name())
			skip[c.Name()] = struct{}{}
		}
	}

	for _, c := range t.Columns() {
		name := c.Name()
		if _, ok := skip[name]; ok || name == r.Target {
			continue
		}
		switch {
		case c.Kind() == frame.Text:
			r.Categorical = append(r.Categorical, name)
		case encodedCategorical(c, n):
			r.Categorical = append(r.Categorical, name)
		default:
			r.Numeric = append(r.Numeric, name)
		}
	}
	return r
}

func inferTarget(t *frame.Table, user string) string {
	if user != "" && t.Has(user) {
		return user
	}
	for _, name := range t.Names() {
		if _, ok := commonTargetNames[strings.ToLower(name)]; ok {
			return name
		}
	}
	return ""
}

func targetType(c *frame.Column) string {
	nu := c.NUnique(true)
	if c.Kind() == frame.Text || nu <= classificationMaxUnique {
		if nu == 2 {
			return BinaryClassification
		}
		return MulticlassClassification
	}
	return Regression
}

// encodedCategorical reports a numeric column that behaves like a category:
// integral, few distinct values and a low distinct share.
func encodedCategorical(c *frame.Column, n int) bool {
	if !c.IsNumeric() || n == 0 {
		return false
	}
	nu := c.NUnique(true)
	return c.IntegerLike() && nu <= encodedCategoricalMax && float64(nu)/float64(n) < encodedCategoricalRatio
}

func datetimeRatio(c *frame.Column) float64 {
	cells := make([]string, c.Len())
	for i := range cells {
		cells[i] = c.Str(i)
	}
	return dates.ParseRatio(cells)
}

func distribution(c *frame.Column) map[string]float64 {
	counts := c.ValueCounts()
	total := 0
	for _, vc := range counts {
		total += vc.N
	}
	out := make(map[string]float64, len(counts))
	for _, vc := range counts {
		out[vc.Key] = float64(vc.N) / float64(total)
	}
	return out
}

type namedValues struct {
	name string
	vals []float64
}

// numberColumns returns Number columns only; Bool columns do not take part
// in correlations.
func numberColumns(t *frame.Table) []namedValues {
	var out []namedValues
	for _, c := range t.Columns() {
		if c.IsNumber() {
			out = append(out, namedValues{c.Name(), c.RawFloats()})
		}
	}
	return out
}

func maxCorrelation(cols []namedValues) *float64 {
	if len(cols) < 2 {
		return nil
	}
	vals := make([][]float64, len(cols))
	for i, c := range cols {
		vals[i] = c.vals
	}
	corrs := stats.UpperAbsCorrelations(vals)
	if len(corrs) == 0 {
		return nil
	}
	m := corrs[0]
	for _, v := range corrs[1:] {
		m = math.Max(m, v)
	}
	return &m
}

// redundancy averages, per column, the defined |corr| with earlier columns
// and then averages those column means.
func redundancy(cols []namedValues) float64 {
	var sum float64
	var n int
	for j := 1; j < len(cols); j++ {
		var colSum float64
		var colN int
		for i := 0; i < j; i++ {
			r := stats.Pearson(cols[i].vals, cols[j].vals)
			if math.IsNaN(r) {
				continue
			}
			colSum += math.Abs(r)
			colN++
		}
		if colN > 0 {
			sum += colSum / float64(colN)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// complexity is 0.4 missing + 0.3 redundancy + 0.3 dimensionality, clipped
// to [0, 1].
func complexity(t *frame.Table, numeric []namedValues) float64 {
	var missing float64
	if t.NumCols() > 0 {
		for _, c := range t.Columns() {
			missing += c.MissingRatio()
		}
		missing /= float64(t.NumCols())
	}
	rows := t.NumRows()
	if rows < 1 {
		rows = 1
	}
	dim := float64(t.NumCols()) / float64(rows)
	score := 0.4*missing + 0.3*redundancy(numeric) + 0.3*dim
	return math.Min(math.Max(score, 0), 1)
}

func leakageCandidates(t *frame.Table, target *frame.Column) []string {
	out := []string{}
	if !target.IsNumber() {
		return out
	}
	y := target.RawFloats()
	for _, c := range t.Columns() {
		if !c.IsNumber() || c.Name() == target.Name() {
			continue
		}
		if r := stats.Pearson(c.RawFloats(), y); !math.IsNaN(r) && math.Abs(r) > leakageMinCorrelation {
			out = append(out, c.Name())
		}
	}
	return out
}
