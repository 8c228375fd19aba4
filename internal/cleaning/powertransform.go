package cleaning

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// lambdaBound keeps the fitted Yeo-Johnson parameter in a range where the
// transform stays numerically stable.
const lambdaBound = 5.0

// yeoJohnson applies the Yeo-Johnson transform with parameter lambda to v.
func yeoJohnson(v, lambda float64) float64 {
	const eps = 1e-12
	if v >= 0 {
		if math.Abs(lambda) < eps {
			return math.Log1p(v)
		}
		return (math.Pow(v+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < eps {
		return -math.Log1p(-v)
	}
	return -(math.Pow(1-v, 2-lambda) - 1) / (2 - lambda)
}

// yeoJohnsonLogLikelihood is the profile log-likelihood of lambda under a
// normal model of the transformed values.
func yeoJohnsonLogLikelihood(xs []float64, lambda float64, buf []float64) float64 {
	var jac float64
	for i, v := range xs {
		buf[i] = yeoJohnson(v, lambda)
		jac += math.Copysign(math.Log1p(math.Abs(v)), v)
	}
	_, variance := stat.PopMeanVariance(buf, nil)
	if variance <= 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return math.Inf(-1)
	}
	n := float64(len(xs))
	return -n/2*math.Log(variance) + (lambda-1)*jac
}

// fitYeoJohnson finds the maximum likelihood lambda with Nelder-Mead,
// starting from the identity transform. It falls back to 1 when the
// optimizer fails to produce a finite answer.
func fitYeoJohnson(xs []float64) float64 {
	buf := make([]float64, len(xs))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			l := x[0]
			if l < -lambdaBound || l > lambdaBound {
				return math.MaxFloat64
			}
			ll := yeoJohnsonLogLikelihood(xs, l, buf)
			if math.IsInf(ll, 0) || math.IsNaN(ll) {
				return math.MaxFloat64
			}
			return -ll
		},
	}
	res, err := optimize.Minimize(problem, []float64{1}, nil, &optimize.NelderMead{})
	if res == nil || len(res.X) == 0 {
		return 1
	}
	l := res.X[0]
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return 1
	}
	if err != nil && res.F == math.MaxFloat64 {
		return 1
	}
	return l
}

// powerTransform fits lambda on xs, transforms and standardizes to mean 0
// and population std 1. xs must be finite and non-constant.
func powerTransform(xs []float64) []float64 {
	lambda := fitYeoJohnson(xs)
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = yeoJohnson(v, lambda)
	}
	mean, variance := stat.PopMeanVariance(out, nil)
	std := math.Sqrt(variance)
	if std == 0 || math.IsNaN(std) {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	for i := range out {
		out[i] = (out[i] - mean) / std
	}
	return out
}
