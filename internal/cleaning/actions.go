// Package cleaning holds the named table actions and the engine that applies
// them in order.
//
// Every action is idempotent and tolerates an absent column. Transforms that
// depend on column statistics (power transform, outlier clipping,
// cardinality reduction) mark the column so that applying them twice leaves
// the table unchanged.
package cleaning

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

// Canonical action names.
const (
	DropFeature         = "drop_feature"
	DropDuplicateRows   = "drop_duplicate_rows"
	ImputeNumericMedian = "impute_numeric_median"
	ImputeTextMissing   = "impute_text_missing"
	ApplyPowerTransform = "apply_power_transform"
	ClipOutliers        = "clip_outliers"
	ClipZero            = "clip_zero"
	NormalizeEncoding   = "normalize_encoding"
	GroupRareCategories = "group_rare_categories"
	ReduceCardinality   = "reduce_cardinality"
)

// Column marks.
const (
	MarkPowerTransformed   = "power_transformed"
	MarkOutliersClipped    = "outliers_clipped"
	MarkCardinalityReduced = "cardinality_reduced"
)

const (
	otherCategory          = "other"
	normalizeSampleSize    = 100
	normalizeMaxMeanLength = 50
)

// Action mutates a table for one column and returns the new table. The input
// table is never modified.
type Action func(t *frame.Table, column string) (*frame.Table, error)

// Options tunes the action set.
type Options struct {
	// FillTextMissing makes impute_text_missing replace missing text with "".
	FillTextMissing bool
	// NormalizeText makes normalize_encoding trim, lower-case and NFC-normalize.
	NormalizeText bool
	// Extended registers group_rare_categories and reduce_cardinality.
	Extended bool

	OutlierZ      float64
	RareThreshold float64
	MinCategories int
	MaxCategories int
}

// DefaultOptions returns the canonical configuration.
func DefaultOptions() Options {
	return Options{
		OutlierZ:      5,
		RareThreshold: 0.01,
		MinCategories: 10,
		MaxCategories: 100,
	}
}

// Registry maps action names to actions. Build one with NewRegistry and pass
// it to the engine.
type Registry map[string]Action

// NewRegistry builds the action set for opts. Zero numeric options take
// their defaults.
func NewRegistry(opts Options) Registry {
	def := DefaultOptions()
	if opts.OutlierZ <= 0 {
		opts.OutlierZ = def.OutlierZ
	}
	if opts.RareThreshold <= 0 {
		opts.RareThreshold = def.RareThreshold
	}
	if opts.MinCategories <= 0 {
		opts.MinCategories = def.MinCategories
	}
	if opts.MaxCategories <= 0 {
		opts.MaxCategories = def.MaxCategories
	}

	r := Registry{
		DropFeature:         dropFeature,
		DropDuplicateRows:   dropDuplicateRows,
		ImputeNumericMedian: imputeNumericMedian,
		ImputeTextMissing:   imputeTextMissing(opts.FillTextMissing),
		ApplyPowerTransform: applyPowerTransform,
		ClipOutliers:        clipOutliers(opts.OutlierZ),
		ClipZero:            clipZero,
		NormalizeEncoding:   normalizeEncoding(opts.NormalizeText),
	}
	if opts.Extended {
		r[GroupRareCategories] = groupRareCategories(opts.RareThreshold, opts.MinCategories)
		r[ReduceCardinality] = reduceCardinality(opts.MaxCategories)
	}
	return r
}

// Names returns the registered action names, sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dropFeature(t *frame.Table, column string) (*frame.Table, error) {
	return t.Drop(column), nil
}

// dropDuplicateRows keeps the first occurrence of every row. column is
// ignored.
func dropDuplicateRows(t *frame.Table, _ string) (*frame.Table, error) {
	seen := make(map[string]struct{}, t.NumRows())
	keep := make([]int, 0, t.NumRows())
	for r := 0; r < t.NumRows(); r++ {
		k := frame.RowKey(t, r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, r)
	}
	if len(keep) == t.NumRows() {
		return t.Clone(), nil
	}
	return t.Rows(keep), nil
}

// imputeNumericMedian fills a Number column with its median and a Bool
// column with its most frequent value. Text columns and all-missing columns
// are left alone.
func imputeNumericMedian(t *frame.Table, column string) (*frame.Table, error) {
	c, ok := t.Column(column)
	if !ok || !c.IsNumeric() || c.MissingCount() == 0 {
		return t.Clone(), nil
	}
	fill := stats.Median(c.RawFloats())
	if c.Kind() == frame.Bool {
		fill = boolMode(c)
	}
	if math.IsNaN(fill) {
		return t.Clone(), nil
	}
	return t.WithColumn(c.WithFloats(fillNaN(c.RawFloats(), fill))), nil
}

// boolMode returns 1 when true is strictly more frequent than false, 0 when
// false wins or ties, NaN when the column has no values.
func boolMode(c *frame.Column) float64 {
	var ones, zeros int
	for _, v := range c.Floats() {
		if v != 0 {
			ones++
		} else {
			zeros++
		}
	}
	switch {
	case ones+zeros == 0:
		return math.NaN()
	case ones > zeros:
		return 1
	default:
		return 0
	}
}

func fillNaN(xs []float64, fill float64) []float64 {
	for i, v := range xs {
		if math.IsNaN(v) {
			xs[i] = fill
		}
	}
	return xs
}

func imputeTextMissing(fill bool) Action {
	return func(t *frame.Table, column string) (*frame.Table, error) {
		c, ok := t.Column(column)
		if !fill || !ok || c.Kind() != frame.Text || c.MissingCount() == 0 {
			return t.Clone(), nil
		}
		vals, _ := c.RawStrings()
		for i := range vals {
			if c.IsMissing(i) {
				vals[i] = ""
			}
		}
		return t.WithColumn(c.WithStrings(vals, nil)), nil
	}
}

// applyPowerTransform replaces ±Inf with missing, fills missing with the
// median, then applies a fitted Yeo-Johnson transform and standardizes.
func applyPowerTransform(t *frame.Table, column string) (*frame.Table, error) {
	c, ok := t.Column(column)
	if !ok || !c.IsNumber() || c.HasMark(MarkPowerTransformed) {
		return t.Clone(), nil
	}
	xs := c.RawFloats()
	for i, v := range xs {
		if math.IsInf(v, 0) {
			xs[i] = math.NaN()
		}
	}
	med := stats.Median(xs)
	if math.IsNaN(med) {
		return t.Clone(), nil
	}
	xs = fillNaN(xs, med)

	out := c.WithFloats(xs)
	if v := stats.PopVariance(xs); v > 0 {
		out = out.WithFloats(powerTransform(xs))
	}
	return t.WithColumn(out.WithMark(MarkPowerTransformed)), nil
}

// clipOutliers clips to mean ± z·std using the sample standard deviation.
func clipOutliers(z float64) Action {
	return func(t *frame.Table, column string) (*frame.Table, error) {
		c, ok := t.Column(column)
		if !ok || !c.IsNumber() || c.HasMark(MarkOutliersClipped) {
			return t.Clone(), nil
		}
		xs := c.RawFloats()
		mean, std := stats.Mean(xs), stats.StdDev(xs)
		if math.IsNaN(mean) || math.IsNaN(std) || math.IsInf(mean, 0) || math.IsInf(std, 0) {
			return t.WithColumn(c.WithMark(MarkOutliersClipped)), nil
		}
		lo, hi := mean-z*std, mean+z*std
		for i, v := range xs {
			switch {
			case math.IsNaN(v):
			case v < lo:
				xs[i] = lo
			case v > hi:
				xs[i] = hi
			}
		}
		return t.WithColumn(c.WithFloats(xs).WithMark(MarkOutliersClipped)), nil
	}
}

func clipZero(t *frame.Table, column string) (*frame.Table, error) {
	c, ok := t.Column(column)
	if !ok || !c.IsNumber() {
		return t.Clone(), nil
	}
	xs := c.RawFloats()
	changed := false
	for i, v := range xs {
		if v < 0 {
			xs[i] = 0
			changed = true
		}
	}
	if !changed {
		return t.Clone(), nil
	}
	return t.WithColumn(c.WithFloats(xs)), nil
}

func normalizeEncoding(enabled bool) Action {
	return func(t *frame.Table, column string) (*frame.Table, error) {
		c, ok := t.Column(column)
		if !enabled || !ok || c.Kind() != frame.Text {
			return t.Clone(), nil
		}
		// Long free text is left as written.
		sample := c.NonMissingStrings()
		if len(sample) > normalizeSampleSize {
			sample = sample[:normalizeSampleSize]
		}
		if len(sample) > 0 {
			total := 0
			for _, s := range sample {
				total += len([]rune(s))
			}
			if float64(total)/float64(len(sample)) > normalizeMaxMeanLength {
				return t.Clone(), nil
			}
		}

		vals, null := c.RawStrings()
		for i, s := range vals {
			if !null[i] {
				vals[i] = norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
			}
		}
		return t.WithColumn(c.WithStrings(vals, null)), nil
	}
}

// groupRareCategories replaces text values whose share is below threshold
// with "other". Columns with fewer than minCategories distinct values are
// left alone.
func groupRareCategories(threshold float64, minCategories int) Action {
	return func(t *frame.Table, column string) (*frame.Table, error) {
		c, ok := t.Column(column)
		if !ok || c.Kind() != frame.Text || c.NUnique(true) < minCategories {
			return t.Clone(), nil
		}
		total := c.Len() - c.MissingCount()
		rare := map[string]bool{}
		for _, vc := range c.ValueCounts() {
			if float64(vc.N)/float64(total) < threshold {
				rare[vc.Key] = true
			}
		}
		if len(rare) == 0 {
			return t.Clone(), nil
		}
		vals, null := c.RawStrings()
		for i, s := range vals {
			if !null[i] && rare[s] {
				vals[i] = otherCategory
			}
		}
		return t.WithColumn(c.WithStrings(vals, null)), nil
	}
}

// reduceCardinality keeps the limit most frequent text values and maps the
// rest to "other".
func reduceCardinality(limit int) Action {
	return func(t *frame.Table, column string) (*frame.Table, error) {
		c, ok := t.Column(column)
		if !ok || c.Kind() != frame.Text || c.HasMark(MarkCardinalityReduced) {
			return t.Clone(), nil
		}
		counts := c.ValueCounts()
		if len(counts) <= limit {
			return t.Clone(), nil
		}
		keep := make(map[string]bool, limit)
		for _, vc := range counts[:limit] {
			keep[vc.Key] = true
		}
		vals, null := c.RawStrings()
		for i, s := range vals {
			if !null[i] && !keep[s] {
				vals[i] = otherCategory
			}
		}
		return t.WithColumn(c.WithStrings(vals, null).WithMark(MarkCardinalityReduced)), nil
	}
}
