// Package schema infers a semantic role for every column of a table.
//
// Roles come from deterministic rules over a column profile. Columns the
// rules are unsure about are sent to a Resolver, whose answer replaces the
// rule only when it is more confident.
package schema

import (
	"math"
	"regexp"

	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

const (
	sampleSize        = 10
	datetimeScanLimit = 500
)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
	regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`),
	regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`),
}

// Profile summarizes one column.
type Profile struct {
	Name          string   `json:"name"`
	Dtype         string   `json:"dtype"`
	N             int      `json:"n"`
	NUnique       int      `json:"n_unique"`
	UniqueRatio   float64  `json:"unique_ratio"`
	MissingRatio  float64  `json:"missing_ratio"`
	IsNumeric     bool     `json:"is_numeric"`
	IsIntegerLike bool     `json:"is_integer_like"`
	Mean          *float64 `json:"mean"`
	Std           *float64 `json:"std"`
	Min           any      `json:"min"`
	Max           any      `json:"max"`
	Sample        []string `json:"sample_values"`
	DatetimeRatio float64  `json:"parseable_datetime_ratio"`
}

// ProfileTable profiles every column in table order.
func ProfileTable(t *frame.Table) []Profile {
	out := make([]Profile, 0, t.NumCols())
	for _, c := range t.Columns() {
		out = append(out, ProfileColumn(c))
	}
	return out
}

// ProfileColumn computes the profile of c.
func ProfileColumn(c *frame.Column) Profile {
	n := c.Len()
	p := Profile{
		Name:         c.Name(),
		Dtype:        c.Dtype(),
		N:            n,
		NUnique:      c.NUnique(true),
		MissingRatio: c.MissingRatio(),
		IsNumeric:    c.IsNumeric(),
	}
	if n > 0 {
		p.UniqueRatio = float64(p.NUnique) / float64(n)
	}

	if p.IsNumeric {
		p.IsIntegerLike = c.IntegerLike()
		xs := c.Floats()
		if p.NUnique > 0 {
			p.Mean = finitePtr(stats.Mean(xs))
		}
		if p.NUnique > 1 {
			p.Std = finitePtr(stats.StdDev(xs))
		}
		p.Min, p.Max = numericRange(c, xs)
	} else {
		p.Min, p.Max = textRange(c)
	}

	p.Sample = sample(c)
	p.DatetimeRatio = datetimeRatio(c.NonMissingStrings())
	return p
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func numericRange(c *frame.Column, xs []float64) (any, any) {
	if len(xs) == 0 {
		return nil, nil
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if c.Kind() == frame.Bool {
		return lo != 0, hi != 0
	}
	return jsonFloat(lo), jsonFloat(hi)
}

// jsonFloat keeps infinities out of JSON payloads.
func jsonFloat(v float64) any {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return v
}

func textRange(c *frame.Column) (any, any) {
	vals := c.NonMissingStrings()
	if len(vals) == 0 {
		return nil, nil
	}
	lo, hi := vals[0], vals[0]
	for _, s := range vals[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

// sample returns the first distinct non-missing values as strings.
func sample(c *frame.Column) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for i := 0; i < c.Len() && len(out) < sampleSize; i++ {
		if c.IsMissing(i) {
			continue
		}
		s := c.Format(i)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// datetimeRatio is the share of the first values that fully match one of the
// date patterns, over min(len(vals), datetimeScanLimit).
func datetimeRatio(vals []string) float64 {
	if len(vals) == 0 {
		return 0
	}
	if len(vals) > datetimeScanLimit {
		vals = vals[:datetimeScanLimit]
	}
	hits := 0
	for _, s := range vals {
		for _, re := range datePatterns {
			if re.MatchString(s) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(vals))
}
