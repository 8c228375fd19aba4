package cleaning

import (
	"math"

	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

const (
	dropMissingRatio = 0.40
	skewThreshold    = 2.0
)

// PreClean plans the second cleaning pass on a partially cleaned table.
//
// Every column with missing cells gets drop_feature at a ratio of 0.40 or
// more, otherwise impute_numeric_median when numeric. Then every Number
// column with |skew| > 2 gets apply_power_transform.
func PreClean(t *frame.Table) []Step {
	var steps []Step
	for _, c := range t.Columns() {
		ratio := c.MissingRatio()
		switch {
		case ratio == 0:
		case ratio >= dropMissingRatio:
			steps = append(steps, Step{Column: c.Name(), Action: DropFeature})
		case c.IsNumeric():
			steps = append(steps, Step{Column: c.Name(), Action: ImputeNumericMedian})
		}
	}
	for _, c := range t.Columns() {
		if !c.IsNumber() {
			continue
		}
		if sk := stats.Skew(c.RawFloats()); math.Abs(sk) > skewThreshold {
			steps = append(steps, Step{Column: c.Name(), Action: ApplyPowerTransform})
		}
	}
	return steps
}

// FinalSweep fills every remaining missing cell. Number columns take their
// median (0 when entirely missing), Bool columns their most frequent value
// (false when entirely missing), and Text columns "".
func FinalSweep(t *frame.Table) *frame.Table {
	out := t
	for _, c := range t.Columns() {
		if c.MissingCount() == 0 {
			continue
		}
		switch c.Kind() {
		case frame.Text:
			vals, _ := c.RawStrings()
			for i := range vals {
				if c.IsMissing(i) {
					vals[i] = ""
				}
			}
			out = out.WithColumn(c.WithStrings(vals, nil))
		case frame.Bool:
			fill := boolMode(c)
			if math.IsNaN(fill) {
				fill = 0
			}
			out = out.WithColumn(c.WithFloats(fillNaN(c.RawFloats(), fill)))
		default:
			fill := stats.Median(c.RawFloats())
			if math.IsNaN(fill) {
				fill = 0
			}
			out = out.WithColumn(c.WithFloats(fillNaN(c.RawFloats(), fill)))
		}
	}
	if out == t {
		return t.Clone()
	}
	return out
}

// PostCleanReport summarizes a cleaned table.
type PostCleanReport struct {
	RemainingMissing float64  `json:"remaining_missing"`
	NFeatures        int      `json:"n_features"`
	MeanVariance     *float64 `json:"mean_variance"`
}

// PostClean computes the mean per-column missing ratio, the column count and
// the mean sample variance of the Number columns (nil when there are none
// with a defined variance).
func PostClean(t *frame.Table) PostCleanReport {
	rep := PostCleanReport{NFeatures: t.NumCols()}
	if t.NumCols() > 0 {
		var sum float64
		for _, c := range t.Columns() {
			sum += c.MissingRatio()
		}
		rep.RemainingMissing = sum / float64(t.NumCols())
	}

	var vsum float64
	var n int
	for _, c := range t.Columns() {
		if !c.IsNumber() {
			continue
		}
		if v := stats.Variance(c.RawFloats()); !math.IsNaN(v) && !math.IsInf(v, 0) {
			vsum += v
			n++
		}
	}
	if n > 0 {
		mv := vsum / float64(n)
		rep.MeanVariance = &mv
	}
	return rep
}

// Details returns the report as audit details.
func (r PostCleanReport) Details() map[string]any {
	d := map[string]any{
		"remaining_missing": r.RemainingMissing,
		"n_features":        r.NFeatures,
		"mean_variance":     nil,
	}
	if r.MeanVariance != nil {
		d["mean_variance"] = *r.MeanVariance
	}
	return d
}
