// Package stats wraps gonum/stat with the missing-value conventions used by
// the diagnostics, cleaning and metadata packages.
//
// Inputs are plain float64 slices where NaN marks a missing cell. Every
// function drops NaN before computing unless stated otherwise. Results that
// are undefined for the input (too few values, zero variance) are NaN so
// threshold comparisons against them are always false.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Clean returns the non-NaN values of xs in order.
func Clean(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Finite returns the values of xs that are neither NaN nor ±Inf.
func Finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Mean returns the arithmetic mean, NaN for no values.
func Mean(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// Variance returns the sample (n-1) variance, NaN for fewer than 2 values.
func Variance(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) < 2 {
		return math.NaN()
	}
	return stat.Variance(xs, nil)
}

// StdDev returns the sample standard deviation.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// PopStdDev returns the population (n) standard deviation, NaN for no values.
func PopStdDev(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) == 0 {
		return math.NaN()
	}
	_, v := stat.PopMeanVariance(xs, nil)
	return math.Sqrt(v)
}

// Median returns the median, averaging the two middle values for an even
// count. NaN for no values.
func Median(xs []float64) float64 {
	xs = Clean(xs)
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

// Skew returns the adjusted Fisher-Pearson skewness (G1), the estimator used
// by dataframe libraries. Fewer than 3 values give NaN; zero variance gives 0.
func Skew(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) < 3 {
		return math.NaN()
	}
	if stat.Moment(2, xs, nil) == 0 {
		return 0
	}
	return stat.Skew(xs, nil)
}

// BiasedSkew returns the moment estimator g1 = m3/m2^1.5 without the small
// sample adjustment. No values or zero variance give NaN.
func BiasedSkew(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) == 0 {
		return math.NaN()
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return math.NaN()
	}
	return stat.Moment(3, xs, nil) / math.Pow(m2, 1.5)
}

// PopVariance returns the population (n) variance, NaN for no values.
func PopVariance(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) == 0 {
		return math.NaN()
	}
	_, v := stat.PopMeanVariance(xs, nil)
	return v
}

// ExcessKurtosis returns the biased Fisher excess kurtosis m4/m2² - 3.
// Zero variance or no values give NaN.
func ExcessKurtosis(xs []float64) float64 {
	xs = Clean(xs)
	if len(xs) == 0 {
		return math.NaN()
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return math.NaN()
	}
	return stat.Moment(4, xs, nil)/(m2*m2) - 3
}

// Pearson returns the correlation of x and y over the positions where both
// are present. Fewer than 2 complete pairs or a constant side give NaN.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(xs, ys, nil)
}

// UpperAbsCorrelations returns |Pearson| for every pair i<j of cols,
// skipping undefined pairs.
func UpperAbsCorrelations(cols [][]float64) []float64 {
	var out []float64
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			r := Pearson(cols[i], cols[j])
			if math.IsNaN(r) {
				continue
			}
			out = append(out, math.Abs(r))
		}
	}
	return out
}
