package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// minSigma is the smallest scale the objective functions accept. Below
	// it the density is not resolvable by the integrator.
	minSigma = 1e-9

	// constantTolerance is the spread, relative to max(1, |mean|), below
	// which a sample is treated as having no spread at all
	constantTolerance = 1e-9
)

// GaussianDensity is the normal probability density at x
func GaussianDensity(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5*z*z) / (math.Abs(sigma) * math.Sqrt(2*math.Pi))
}

// meanStdDev returns the mean and sample standard deviation, the latter
// being 0 for fewer than two values
func meanStdDev(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}

// nearlyConstant reports whether the spread of x is within rounding noise
// of its mean
func nearlyConstant(x []float64) bool {
	spread := floats.Max(x) - floats.Min(x)
	return spread <= constantTolerance*math.Max(1, math.Abs(stat.Mean(x, nil)))
}

// startValues returns the mean and a start sigma kept clear of the
// minSigma penalty, together with the options scaled to that sigma
func startValues(x []float64, opts Options) (mean, sigma float64, scaled Options) {
	mean, sigma = meanStdDev(x)
	sigma = math.Max(sigma, 10*minSigma)
	return mean, sigma, opts.scaled(sigma)
}

// FitGaussian fits a normal distribution to sample by least squares between
// the numerically integrated normal CDF and the empirical CDF. The search
// starts at the sample mean and standard deviation.
//
// A sample without spread has no finite optimum; its limit, the sample
// mean with sigma 0, is returned. Spread within 1e-9 of max(1, |mean|)
// counts as none.
func FitGaussian(sample []float64, opts Options) (Result, error) {
	if len(sample) == 0 {
		return Result{}, fmt.Errorf("%w: empty sample", ErrDegenerateInput)
	}
	if nearlyConstant(sample) {
		return Result{Mu: stat.Mean(sample, nil)}, nil
	}

	points := NewECDF(sample)
	penalty := float64(len(points)) + 1
	objective := func(x []float64) float64 {
		mu, sigma := x[0], math.Abs(x[1])
		if sigma < minSigma {
			return penalty
		}
		lower := math.Min(mu-10*sigma, points[0].X)
		return ecdfSquaredError(points, func(v float64) float64 {
			return GaussianDensity(v, mu, sigma)
		}, lower)
	}

	mean, std, opts := startValues(sample, opts)
	x, err := minimize(objective, []float64{mean, std}, opts)
	if err != nil {
		return Result{}, fmt.Errorf("gaussian fit: %w", err)
	}
	return Result{Mu: x[0], Sigma: math.Abs(x[1])}, nil
}
