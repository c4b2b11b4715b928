package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// logI0 returns the natural log of the modified Bessel function of the
// first kind, order zero, using the polynomial approximations of
// Abramowitz and Stegun 9.8.1 and 9.8.2. For large arguments the
// exponential factor is kept out of the polynomial so the result does not
// overflow.
func logI0(x float64) float64 {
	ax := math.Abs(x)
	if ax <= 3.75 {
		t := x / 3.75
		t *= t
		return math.Log(1 + t*(3.5156229+t*(3.0899424+t*(1.2067492+
			t*(0.2659732+t*(0.0360768+t*0.0045813))))))
	}
	t := 3.75 / ax
	p := 0.39894228 + t*(0.01328592+t*(0.00225319+t*(-0.00157565+
		t*(0.00916281+t*(-0.02057706+t*(0.02635537+t*(-0.01647633+t*0.00392377)))))))
	return ax + math.Log(p) - 0.5*math.Log(ax)
}

// P2DLogDensity is the log of the P2D density
//
//	p(r | mu, sigma) = r/sigma² · exp(-(mu² + r²)/(2 sigma²)) · I0(r mu / sigma²)
//
// the distribution of the distance between two points whose true
// separation is mu, each scattered by a 2D gaussian, sigma being the
// combined scatter. It is -Inf for r <= 0.
func P2DLogDensity(r, mu, sigma float64) float64 {
	if r <= 0 {
		return math.Inf(-1)
	}
	s2 := sigma * sigma
	return math.Log(r) - math.Log(s2) - (mu*mu+r*r)/(2*s2) + logI0(r*mu/s2)
}

// P2DDensity is the P2D density at r
func P2DDensity(r, mu, sigma float64) float64 {
	return math.Exp(P2DLogDensity(r, mu, sigma))
}

// P2DLogLikelihood sums the log density of every distance, each under its
// own sigma
func P2DLogLikelihood(distances, sigmas []float64, mu float64) (float64, error) {
	if err := checkP2DInput(distances, sigmas); err != nil {
		return 0, err
	}
	var ll float64
	for i, r := range distances {
		ll += P2DLogDensity(r, mu, sigmas[i])
	}
	return ll, nil
}

func checkP2DInput(distances, sigmas []float64) error {
	if len(distances) == 0 {
		return fmt.Errorf("%w: no distances", ErrDegenerateInput)
	}
	if len(distances) != len(sigmas) {
		return fmt.Errorf("%w: %d distances but %d sigmas", ErrDegenerateInput, len(distances), len(sigmas))
	}
	for _, s := range sigmas {
		if !(s > 0) {
			return fmt.Errorf("%w: sigma %v is not positive", ErrDegenerateInput, s)
		}
	}
	return nil
}

// FitP2D fits the P2D distribution to distances by least squares between
// the numerically integrated P2D CDF and the empirical CDF, over both mu
// and sigma. The search starts at the mean and standard deviation of the
// distances. Distances without spread, as judged for FitGaussian, return
// the limit mu = mean distance, sigma = 0.
func FitP2D(distances []float64, opts Options) (Result, error) {
	if len(distances) == 0 {
		return Result{}, fmt.Errorf("%w: no distances", ErrDegenerateInput)
	}
	if nearlyConstant(distances) {
		return Result{Mu: stat.Mean(distances, nil)}, nil
	}

	points := NewECDF(distances)
	penalty := float64(len(points)) + 1
	objective := func(x []float64) float64 {
		mu, sigma := math.Abs(x[0]), math.Abs(x[1])
		if sigma < minSigma {
			return penalty
		}
		// The density is negligible below mu - 10 sigma and zero below 0.
		lower := math.Max(0, math.Min(mu-10*sigma, points[0].X))
		return ecdfSquaredError(points, func(r float64) float64 {
			return P2DDensity(r, mu, sigma)
		}, lower)
	}

	mean, std, opts := startValues(distances, opts)
	x, err := minimize(objective, []float64{mean, std}, opts)
	if err != nil {
		return Result{}, fmt.Errorf("p2d fit: %w", err)
	}
	return Result{Mu: math.Abs(x[0]), Sigma: math.Abs(x[1])}, nil
}

// FitP2DMaxLikelihood estimates mu by maximizing the P2D likelihood of the
// distances, each distance under its own sigma. The search starts at
// muStart. The returned Sigma is zero; callers supply their own population
// estimate.
func FitP2DMaxLikelihood(distances, sigmas []float64, muStart float64, opts Options) (Result, error) {
	if err := checkP2DInput(distances, sigmas); err != nil {
		return Result{}, err
	}

	objective := func(x []float64) float64 {
		mu := math.Abs(x[0])
		var nll float64
		for i, r := range distances {
			nll -= P2DLogDensity(r, mu, sigmas[i])
		}
		return nll
	}

	x, err := minimize(objective, []float64{muStart}, opts.scaled(floats.Min(sigmas)))
	if err != nil {
		return Result{}, fmt.Errorf("p2d likelihood fit: %w", err)
	}
	return Result{Mu: math.Abs(x[0])}, nil
}
