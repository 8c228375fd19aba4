package diagnostics

import (
	"math"
	"regexp"
	"strings"

	"tabprep/internal/dates"
	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

const (
	kurtosisLimit      = 10.0
	imbalanceShare     = 0.9
	featureSampleRatio = 0.5
	ordinalMaxDistinct = 20
	smallSampleRows    = 500

	timestampSampleSize   = 50
	timestampPatternShare = 0.3
	timestampParseShare   = 0.8
)

var datePattern = regexp.MustCompile(`\d{1,4}[-/]\d{1,2}[-/]\d{1,4}`)

func detectDuplicateColumns(t *frame.Table) ([]Result, error) {
	var out []Result
	seen := make(map[string]struct{}, t.NumCols())
	for _, c := range t.Columns() {
		k := frame.ColumnKey(c)
		if _, dup := seen[k]; dup {
			out = append(out, AutoFix("duplicate_columns", c.Name(), nil, High, "drop_feature"))
			continue
		}
		seen[k] = struct{}{}
	}
	return out, nil
}

func detectDuplicateRows(t *frame.Table) ([]Result, error) {
	seen := make(map[string]struct{}, t.NumRows())
	for r := 0; r < t.NumRows(); r++ {
		k := frame.RowKey(t, r)
		if _, dup := seen[k]; dup {
			return []Result{AutoFix("duplicate_rows", "", nil, High, "drop_duplicate_rows")}, nil
		}
		seen[k] = struct{}{}
	}
	return nil, nil
}

func detectNearConstant(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.NUnique(false) <= 1 {
			out = append(out, AutoFix("near_constant", c.Name(), nil, High, "drop_feature"))
		}
	}
	return out, nil
}

func detectExtremeKurtosis(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() {
			continue
		}
		k := stats.ExcessKurtosis(c.Floats())
		if math.Abs(k) > kurtosisLimit {
			out = append(out, AutoFix("extreme_kurtosis", c.Name(), k, Moderate, "apply_power_transform"))
		}
	}
	return out, nil
}

func detectImpossibleValues(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() || !strings.Contains(strings.ToLower(c.Name()), "age") {
			continue
		}
		for _, v := range c.Floats() {
			if v < 0 {
				out = append(out, AutoFix("impossible_values", c.Name(), nil, High, "clip_zero"))
				break
			}
		}
	}
	return out, nil
}

func detectClassImbalance(t *frame.Table, target string) ([]Result, error) {
	if target == "" {
		return nil, nil
	}
	c, ok := t.Column(target)
	if !ok {
		return nil, nil
	}
	dist, top := Distribution(c)
	if len(dist) == 0 || top <= imbalanceShare {
		return nil, nil
	}
	return []Result{Policy("class_imbalance", target, dist, High)}, nil
}

// Distribution returns the normalized value shares of the non-missing cells
// of c keyed by their rendered value, plus the largest share.
func Distribution(c *frame.Column) (map[string]float64, float64) {
	counts := c.ValueCounts()
	total := 0
	for _, vc := range counts {
		total += vc.N
	}
	if total == 0 {
		return nil, 0
	}
	dist := make(map[string]float64, len(counts))
	top := 0.0
	for _, vc := range counts {
		share := float64(vc.N) / float64(total)
		dist[vc.Key] = share
		if share > top {
			top = share
		}
	}
	return dist, top
}

func detectHighFeatureToSampleRatio(t *frame.Table) ([]Result, error) {
	rows := t.NumRows()
	if rows < 1 {
		rows = 1
	}
	ratio := float64(t.NumCols()) / float64(rows)
	if ratio > featureSampleRatio {
		return []Result{Policy("high_feature_to_sample_ratio", "", ratio, High)}, nil
	}
	return nil, nil
}

func detectTextColumns(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.Kind() == frame.Text {
			out = append(out, Informational("text_column", c.Name(), nil))
		}
	}
	return out, nil
}

// detectBooleanColumns flags columns whose non-missing cells are all 0/1 or
// true/false. Text cells never count as boolean, so a text column qualifies
// only when it has no values at all.
func detectBooleanColumns(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if isBooleanLike(c) {
			out = append(out, Informational("boolean_column", c.Name(), nil))
		}
	}
	return out, nil
}

func isBooleanLike(c *frame.Column) bool {
	switch c.Kind() {
	case frame.Bool:
		return true
	case frame.Text:
		return c.MissingCount() == c.Len()
	}
	for _, v := range c.Floats() {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

func detectOrdinalFeature(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.IsNumber() && c.NUnique(true) < ordinalMaxDistinct {
			out = append(out, Informational("ordinal_feature", c.Name(), nil))
		}
	}
	return out, nil
}

func detectSmallSample(t *frame.Table) ([]Result, error) {
	if t.NumRows() < smallSampleRows {
		return []Result{Informational("small_sample", "", t.NumRows())}, nil
	}
	return nil, nil
}

// detectTimestampColumns flags non-numeric columns that look like dates:
// enough of the first non-missing values contain a date-like token, and most
// of the column parses as a date or timestamp.
func detectTimestampColumns(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.IsNumeric() || c.Len() == 0 {
			continue
		}
		sample := firstNonMissing(c, timestampSampleSize)
		if len(sample) == 0 {
			continue
		}
		hits := 0
		for _, s := range sample {
			if datePattern.MatchString(s) {
				hits++
			}
		}
		if float64(hits)/float64(len(sample)) < timestampPatternShare {
			continue
		}
		parsed := 0
		for i := 0; i < c.Len(); i++ {
			if c.IsMissing(i) {
				continue
			}
			if _, ok := dates.Parse(c.Str(i)); ok {
				parsed++
			}
		}
		if float64(parsed)/float64(c.Len()) > timestampParseShare {
			out = append(out, Informational("timestamp_column", c.Name(), nil))
		}
	}
	return out, nil
}

func firstNonMissing(c *frame.Column, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < c.Len() && len(out) < n; i++ {
		if !c.IsMissing(i) {
			out = append(out, c.Format(i))
		}
	}
	return out
}
