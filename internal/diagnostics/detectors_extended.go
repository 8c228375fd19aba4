package diagnostics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"

	"tabprep/internal/dates"
	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

const (
	heavyTailSkew       = 2.0
	zeroInflationShare  = 0.7
	rareCategoryShare   = 0.01
	highCardinality     = 100
	outlierZ            = 5.0
	vifLimit            = 10.0
	correlationGroupCut = 0.95
	interactionCut      = 0.7
	redundantFeatures   = 50
	histogramBins       = 30
	multimodalPeaks     = 2
	heteroChunks        = 4
	heteroRatio         = 5.0
	blockMissingRun     = 10
	missingPatternMean  = 0.1
	noiseStd            = 1e-3
	scalingStd          = 100.0
	rollingWindow       = 50
	varianceInstability = 5.0
	separabilityMI      = 0.5
	separabilityK       = 3
	seasonalMinLen      = 50
	seasonalPeaks       = 3
	irregularMinStamps  = 20
	samplingQuartiles   = 4
	samplingShare       = 0.7
	shiftMinHalf        = 10
	shiftPValue         = 0.01
	nonlinearMinLen     = 20
	nonlinearGain       = 0.2
)

func detectTextMissing(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.Kind() == frame.Text && c.MissingCount() > 0 {
			out = append(out, AutoFix("text_missing", c.Name(), nil, Moderate, "impute_text_missing"))
		}
	}
	return out, nil
}

func detectHeavyTail(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.IsNumber() && math.Abs(stats.BiasedSkew(c.Floats())) > heavyTailSkew {
			out = append(out, AutoFix("heavy_tail", c.Name(), nil, Moderate, "apply_power_transform"))
		}
	}
	return out, nil
}

func detectZeroInflation(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() || c.Len() == 0 {
			continue
		}
		zeros := 0
		for _, v := range c.Floats() {
			if v == 0 {
				zeros++
			}
		}
		if float64(zeros)/float64(c.Len()) > zeroInflationShare {
			out = append(out, AutoFix("zero_inflation", c.Name(), nil, Moderate, "apply_power_transform"))
		}
	}
	return out, nil
}

func detectEncodingInconsistency(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.Kind() != frame.Text {
			continue
		}
		for _, v := range c.NonMissingStrings() {
			if strings.ToLower(strings.TrimSpace(v)) != v {
				out = append(out, AutoFix("encoding_inconsistency", c.Name(), nil, Moderate, "normalize_encoding"))
				break
			}
		}
	}
	return out, nil
}

func detectRareCategories(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.Kind() != frame.Text {
			continue
		}
		dist, _ := Distribution(c)
		for _, share := range dist {
			if share < rareCategoryShare {
				out = append(out, AutoFix("rare_categories", c.Name(), nil, Moderate, "group_rare_categories"))
				break
			}
		}
	}
	return out, nil
}

func detectHighCardinality(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.Kind() == frame.Text && c.NUnique(true) > highCardinality {
			out = append(out, AutoFix("high_cardinality", c.Name(), nil, Moderate, "reduce_cardinality"))
		}
	}
	return out, nil
}

func detectOutlierClusters(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() {
			continue
		}
		vals := c.Floats()
		mean, std := stats.Mean(vals), stats.StdDev(vals)
		if math.IsNaN(std) || std == 0 {
			continue
		}
		for _, v := range vals {
			if math.Abs((v-mean)/std) > outlierZ {
				out = append(out, AutoFix("outlier_clusters", c.Name(), nil, Moderate, "clip_outliers"))
				break
			}
		}
	}
	return out, nil
}

// detectMulticollinearity computes the variance inflation factor of every
// number column over the rows with no missing number cell. Each column is
// regressed on the others by least squares without an intercept, so the
// uncentered R² is used. A perfectly collinear column reports a null value.
func detectMulticollinearity(t *frame.Table) ([]Result, error) {
	cols := numberColumns(t)
	if len(cols) < 2 {
		return nil, nil
	}
	rows := completeRows(cols)
	n, k := len(rows), len(cols)
	if n == 0 {
		return nil, nil
	}

	var out []Result
	for i := 0; i < k; i++ {
		y := make([]float64, n)
		x := make([]float64, 0, n*(k-1))
		for r, row := range rows {
			y[r] = cols[i].Float(row)
			for j := 0; j < k; j++ {
				if j != i {
					x = append(x, cols[j].Float(row))
				}
			}
		}
		vif, err := solveVIF(mat.NewDense(n, k-1, x), y)
		if err != nil {
			return nil, fmt.Errorf("variance inflation of %s: %w", cols[i].Name(), err)
		}
		if vif > vifLimit {
			var v any = vif
			if math.IsInf(vif, 1) {
				v = nil
			}
			out = append(out, Policy("multicollinearity_index", cols[i].Name(), v, High))
		}
	}
	return out, nil
}

// collinearTolerance is the residual share of the total sum of squares below
// which a fit counts as exact.
const collinearTolerance = 1e-12

var solveVIF = varianceInflation

func varianceInflation(x *mat.Dense, y []float64) (float64, error) {
	yv := mat.NewVecDense(len(y), y)
	var beta mat.VecDense
	if err := beta.SolveVec(x, yv); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return math.Inf(1), nil
		}
		return 0, err
	}
	var fit mat.VecDense
	fit.MulVec(x, &beta)

	var ssr, sst float64
	for i, v := range y {
		d := v - fit.AtVec(i)
		ssr += d * d
		sst += v * v
	}
	if sst == 0 {
		return math.NaN(), nil
	}
	if ssr <= collinearTolerance*sst {
		return math.Inf(1), nil
	}
	r2 := 1 - ssr/sst
	return 1 / (1 - r2), nil
}

func detectCorrelationGroups(t *frame.Table) ([]Result, error) {
	if strongCorrelationCount(t, correlationGroupCut) > len(numberColumns(t)) {
		return []Result{Policy("correlation_groups", "", nil, Moderate)}, nil
	}
	return nil, nil
}

func detectFeatureRedundancy(t *frame.Table) ([]Result, error) {
	if t.NumCols() > redundantFeatures {
		return []Result{Policy("feature_redundancy", "", nil, Moderate)}, nil
	}
	return nil, nil
}

func detectMultimodality(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() {
			continue
		}
		peaks := countPeaks(histogram(stats.Finite(c.Floats()), histogramBins))
		if peaks > multimodalPeaks {
			out = append(out, Policy("multimodality", c.Name(), peaks, Moderate))
		}
	}
	return out, nil
}

func detectHeteroscedasticity(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() {
			continue
		}
		var vars []float64
		for _, part := range splitEven(c.Floats(), heteroChunks) {
			if len(part) > 0 {
				vars = append(vars, stats.PopVariance(part))
			}
		}
		if len(vars) < 2 {
			continue
		}
		lo, hi := vars[0], vars[0]
		for _, v := range vars[1:] {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		if hi/(lo+1e-6) > heteroRatio {
			out = append(out, Policy("heteroscedasticity", c.Name(), nil, Moderate))
		}
	}
	return out, nil
}

func detectBlockMissingness(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		run, longest := 0, 0
		for i := 0; i < c.Len(); i++ {
			if c.IsMissing(i) {
				run++
				if run > longest {
					longest = run
				}
				continue
			}
			run = 0
		}
		if longest > blockMissingRun {
			out = append(out, Informational("block_missingness", c.Name(), nil))
		}
	}
	return out, nil
}

func detectMissingPattern(t *frame.Table) ([]Result, error) {
	if t.NumCols() == 0 {
		return nil, nil
	}
	sum := 0.0
	for _, c := range t.Columns() {
		sum += c.MissingRatio()
	}
	if sum/float64(t.NumCols()) > missingPatternMean {
		return []Result{Informational("missing_pattern", "", nil)}, nil
	}
	return nil, nil
}

func detectFeatureNoise(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.IsNumber() && stats.StdDev(c.Floats()) < noiseStd {
			out = append(out, Informational("feature_noise", c.Name(), nil))
		}
	}
	return out, nil
}

func detectScalingNeeded(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.IsNumber() && stats.StdDev(c.Floats()) > scalingStd {
			out = append(out, Informational("scaling_needed", c.Name(), nil))
		}
	}
	return out, nil
}

func detectInteractionStrength(t *frame.Table) ([]Result, error) {
	if strongCorrelationCount(t, interactionCut) > len(numberColumns(t)) {
		return []Result{Informational("interaction_strength", "", nil)}, nil
	}
	return nil, nil
}

// detectVarianceInstability compares rolling variances over windows of
// consecutive cells. Windows containing a missing cell are skipped.
func detectVarianceInstability(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if !c.IsNumber() || c.Len() < rollingWindow {
			continue
		}
		raw := c.RawFloats()
		var vars []float64
		for end := rollingWindow; end <= len(raw); end++ {
			w := raw[end-rollingWindow : end]
			if len(stats.Clean(w)) != rollingWindow {
				continue
			}
			vars = append(vars, stats.Variance(w))
		}
		if len(vars) == 0 {
			continue
		}
		mean, hi := stats.Mean(vars), vars[0]
		for _, v := range vars {
			hi = math.Max(hi, v)
		}
		if hi > varianceInstability*mean {
			out = append(out, Informational("variance_instability", c.Name(), nil))
		}
	}
	return out, nil
}

// detectTargetSeparability estimates the mutual information between each
// number column and a discrete target with a k-nearest-neighbour estimator.
// Missing feature cells count as 0 and rows with a missing target are
// dropped. A number target must be integral to count as discrete.
func detectTargetSeparability(t *frame.Table, target string) ([]Result, error) {
	if target == "" {
		return nil, nil
	}
	y, ok := t.Column(target)
	if !ok || (y.IsNumber() && !y.IntegerLike()) {
		return nil, nil
	}
	var rows []int
	var labels []string
	for i := 0; i < y.Len(); i++ {
		if !y.IsMissing(i) {
			rows = append(rows, i)
			labels = append(labels, y.Format(i))
		}
	}

	var out []Result
	for _, c := range numberColumns(t) {
		if c.Name() == target {
			continue
		}
		x := make([]float64, len(rows))
		for j, r := range rows {
			if !c.IsMissing(r) {
				x[j] = c.Float(r)
			}
		}
		if mi := mutualInfoDiscrete(x, labels, separabilityK); mi > separabilityMI {
			out = append(out, Policy("target_separability", c.Name(), mi, Moderate))
		}
	}
	return out, nil
}

// mutualInfoDiscrete is the Kraskov-style estimate of the mutual information
// between continuous x and discrete labels. Labels seen once are ignored.
func mutualInfoDiscrete(x []float64, labels []string, k int) float64 {
	groups := make(map[string][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	keys := make([]string, 0, len(groups))
	for l := range groups {
		keys = append(keys, l)
	}
	sort.Strings(keys)

	kAll := make([]int, len(x))
	count := make([]int, len(x))
	radius := make([]float64, len(x))
	var keep []int
	for _, l := range keys {
		idx := groups[l]
		if len(idx) < 2 {
			continue
		}
		kk := min(k, len(idx)-1)
		vals := make([]float64, len(idx))
		for j, i := range idx {
			vals[j] = x[i]
		}
		sort.Float64s(vals)
		for _, i := range idx {
			radius[i] = math.Nextafter(kthNeighbour(vals, x[i], kk), 0)
			kAll[i], count[i] = kk, len(idx)
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return 0
	}

	all := make([]float64, len(keep))
	for j, i := range keep {
		all[j] = x[i]
	}
	sort.Float64s(all)
	var sum float64
	for _, i := range keep {
		m := withinRadius(all, x[i], radius[i])
		sum += mathext.Digamma(float64(kAll[i])) - mathext.Digamma(float64(count[i])) - mathext.Digamma(float64(m))
	}
	n := float64(len(keep))
	return math.Max(mathext.Digamma(n)+sum/n, 0)
}

// kthNeighbour returns the distance from v to its k-th nearest neighbour in
// sorted, skipping one occurrence of v itself.
func kthNeighbour(sorted []float64, v float64, k int) float64 {
	p := sort.SearchFloat64s(sorted, v)
	l, r := p-1, p+1
	d := 0.0
	for ; k > 0; k-- {
		switch {
		case l < 0:
			d = sorted[r] - v
			r++
		case r >= len(sorted):
			d = v - sorted[l]
			l--
		case v-sorted[l] <= sorted[r]-v:
			d = v - sorted[l]
			l--
		default:
			d = sorted[r] - v
			r++
		}
	}
	return d
}

// withinRadius counts the values of sorted within distance r of v.
func withinRadius(sorted []float64, v, r float64) int {
	lo := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v-r })
	hi := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v+r })
	return hi - lo
}

func detectSeasonalityPresence(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range numberColumns(t) {
		xs := stats.Finite(c.Floats())
		if len(xs) < seasonalMinLen {
			continue
		}
		if peaks := countPeaks(autocorrelation(xs)); peaks > seasonalPeaks {
			out = append(out, Policy("seasonality_presence", c.Name(), peaks, Moderate))
		}
	}
	return out, nil
}

// autocorrelation returns the unnormalized autocorrelation of the centered
// series at lags 0 through len(xs)-1. Values are snapped to a grid relative
// to the zero lag so transform round-off cannot form spurious peaks.
func autocorrelation(xs []float64) []float64 {
	n := len(xs)
	size := 1
	for size < 2*n {
		size <<= 1
	}
	mean := stats.Mean(xs)
	seq := make([]float64, size)
	for i, v := range xs {
		seq[i] = v - mean
	}
	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, seq)
	for i, z := range coeff {
		coeff[i] = complex(real(z)*real(z)+imag(z)*imag(z), 0)
	}
	full := fft.Sequence(nil, coeff)

	out := make([]float64, n)
	for i := range out {
		out[i] = full[i] / float64(size)
	}
	if grid := math.Abs(out[0]) * 1e-10; grid > 0 {
		for i, v := range out {
			out[i] = math.Round(v/grid) * grid
		}
	}
	return out
}

// detectTimeFrequencyIrregularity looks at the gaps between the sorted
// timestamps of each text column. Number columns are not read as epochs.
func detectTimeFrequencyIrregularity(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range t.Columns() {
		if c.Kind() != frame.Text {
			continue
		}
		var secs []float64
		for _, s := range c.NonMissingStrings() {
			if ts, ok := dates.Parse(s); ok {
				secs = append(secs, float64(ts.Unix())+float64(ts.Nanosecond())/1e9)
			}
		}
		if len(secs) <= irregularMinStamps {
			continue
		}
		sort.Float64s(secs)
		gaps := make([]float64, len(secs)-1)
		for i := range gaps {
			gaps[i] = secs[i+1] - secs[i]
		}
		if stats.StdDev(gaps) > stats.Mean(gaps) {
			out = append(out, Policy("time_frequency_irregularity", c.Name(), nil, Moderate))
		}
	}
	return out, nil
}

// detectSamplingBias bins each number column at its quartiles, merging equal
// edges, and flags a column when one bin holds most of the values.
func detectSamplingBias(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range numberColumns(t) {
		xs := stats.Finite(c.Floats())
		if len(xs) == 0 {
			continue
		}
		sort.Float64s(xs)
		edges := quantileEdges(xs, samplingQuartiles)
		if len(edges) < 2 {
			continue
		}
		counts := make([]int, len(edges)-1)
		for _, v := range xs {
			i := sort.SearchFloat64s(edges, v)
			if i == 0 {
				i = 1
			}
			counts[i-1]++
		}
		top := 0
		for _, n := range counts {
			top = max(top, n)
		}
		if float64(top)/float64(len(xs)) > samplingShare {
			out = append(out, Informational("sampling_bias", c.Name(), nil))
		}
	}
	return out, nil
}

// quantileEdges returns the distinct linearly interpolated quantiles of
// sorted at 0, 1/parts, ..., 1.
func quantileEdges(sorted []float64, parts int) []float64 {
	var edges []float64
	for i := 0; i <= parts; i++ {
		pos := float64(i) / float64(parts) * float64(len(sorted)-1)
		lo := int(pos)
		v := sorted[lo]
		if lo+1 < len(sorted) {
			v += (pos - float64(lo)) * (sorted[lo+1] - sorted[lo])
		}
		if len(edges) == 0 || v != edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

// detectDistributionShift compares the first and second half of each number
// column by row position with a two-sample Kolmogorov-Smirnov test.
func detectDistributionShift(t *frame.Table) ([]Result, error) {
	mid := t.NumRows() / 2
	var out []Result
	for _, c := range numberColumns(t) {
		raw := c.RawFloats()
		a, b := stats.Clean(raw[:mid]), stats.Clean(raw[mid:])
		if len(a) <= shiftMinHalf || len(b) <= shiftMinHalf {
			continue
		}
		sort.Float64s(a)
		sort.Float64s(b)
		d := stat.KolmogorovSmirnov(a, nil, b, nil)
		if ksPValue(d, len(a), len(b)) < shiftPValue {
			out = append(out, Informational("distribution_shift", c.Name(), nil))
		}
	}
	return out, nil
}

// ksPValue is the asymptotic two-sided p-value of the two-sample
// Kolmogorov-Smirnov statistic d.
func ksPValue(d float64, n1, n2 int) float64 {
	en := math.Sqrt(float64(n1) * float64(n2) / float64(n1+n2))
	lambda := (en + 0.12 + 0.11/en) * d
	if lambda < 0.2 {
		return 1
	}
	sum, sign := 0.0, 1.0
	for j := 1; j <= 100; j++ {
		term := sign * 2 * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	return math.Min(math.Max(sum, 0), 1)
}

// detectNonlinearity regresses row position on each number column and flags
// it when a quadratic fit explains much more than a straight line.
func detectNonlinearity(t *frame.Table) ([]Result, error) {
	var out []Result
	for _, c := range numberColumns(t) {
		xs := stats.Finite(c.Floats())
		if len(xs) < nonlinearMinLen {
			continue
		}
		lin, err := positionFit(xs, 1)
		if err != nil {
			continue
		}
		quad, err := positionFit(xs, 2)
		if err != nil {
			continue
		}
		if quad-lin > nonlinearGain {
			out = append(out, Informational("nonlinearity", c.Name(), nil))
		}
	}
	return out, nil
}

// positionFit fits 0..len(xs)-1 as a polynomial of the given degree in the
// standardized xs and returns the coefficient of determination.
func positionFit(xs []float64, degree int) (float64, error) {
	n := len(xs)
	mean, std := stats.Mean(xs), stats.StdDev(xs)
	if std == 0 || math.IsNaN(std) {
		return 0, errors.New("constant column")
	}
	design := mat.NewDense(n, degree+1, nil)
	y := mat.NewVecDense(n, nil)
	for i, v := range xs {
		z, p := (v-mean)/std, 1.0
		for d := 0; d <= degree; d++ {
			design.Set(i, d, p)
			p *= z
		}
		y.SetVec(i, float64(i))
	}
	var beta mat.VecDense
	if err := beta.SolveVec(design, y); err != nil {
		return 0, err
	}
	var fit mat.VecDense
	fit.MulVec(design, &beta)

	center := float64(n-1) / 2
	var ssr, sst float64
	for i := 0; i < n; i++ {
		r, d := float64(i)-fit.AtVec(i), float64(i)-center
		ssr += r * r
		sst += d * d
	}
	return 1 - ssr/sst, nil
}

func numberColumns(t *frame.Table) []*frame.Column {
	var out []*frame.Column
	for _, c := range t.Columns() {
		if c.IsNumber() {
			out = append(out, c)
		}
	}
	return out
}

func completeRows(cols []*frame.Column) []int {
	if len(cols) == 0 {
		return nil
	}
	var rows []int
	for r := 0; r < cols[0].Len(); r++ {
		ok := true
		for _, c := range cols {
			if c.IsMissing(r) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, r)
		}
	}
	return rows
}

// strongCorrelationCount counts cells of the full |correlation| matrix of the
// number columns that exceed cut. The diagonal counts for every column with a
// defined self-correlation.
func strongCorrelationCount(t *frame.Table, cut float64) int {
	cols := numberColumns(t)
	raw := make([][]float64, len(cols))
	for i, c := range cols {
		raw[i] = c.RawFloats()
	}
	n := 0
	for i := range raw {
		if r := stats.Pearson(raw[i], raw[i]); !math.IsNaN(r) && math.Abs(r) > cut {
			n++
		}
		for j := i + 1; j < len(raw); j++ {
			if r := stats.Pearson(raw[i], raw[j]); !math.IsNaN(r) && math.Abs(r) > cut {
				n += 2
			}
		}
	}
	return n
}

// histogram bins xs into equal-width bins over [min, max]; the last bin is
// closed. A constant input uses the range [v-0.5, v+0.5].
func histogram(xs []float64, bins int) []int {
	h := make([]int, bins)
	if len(xs) == 0 {
		return h
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	width := hi - lo
	for _, v := range xs {
		i := int((v - lo) / width * float64(bins))
		if i >= bins {
			i = bins - 1
		}
		h[i]++
	}
	return h
}

// countPeaks counts interior local maxima. A flat top counts once when both
// of its edges fall off.
func countPeaks[T int | float64](h []T) int {
	peaks := 0
	for i := 1; i < len(h)-1; i++ {
		if h[i-1] >= h[i] {
			continue
		}
		j := i
		for j+1 < len(h) && h[j+1] == h[i] {
			j++
		}
		if j+1 < len(h) && h[j+1] < h[i] {
			peaks++
		}
		i = j
	}
	return peaks
}

// splitEven splits xs into n consecutive parts whose sizes differ by at most
// one, larger parts first.
func splitEven(xs []float64, n int) [][]float64 {
	out := make([][]float64, 0, n)
	size, extra := len(xs)/n, len(xs)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		out = append(out, xs[start:end])
		start = end
	}
	return out
}
