package fitting

import (
	"fmt"
	"math"
)

// FisherDelta is the step used for the finite difference second derivative
const FisherDelta = 0.001

// FisherStdErr estimates the standard error of mu from the curvature of the
// log-likelihood ll around mu:
//
//	info   = |ll(mu+δ) + ll(mu-δ) - 2 ll(mu)| / δ²
//	stderr = 1 / sqrt(info)
func FisherStdErr(ll func(mu float64) float64, mu float64) (float64, error) {
	lo, mid, hi := ll(mu-FisherDelta), ll(mu), ll(mu+FisherDelta)
	info := math.Abs(hi+lo-2*mid) / (FisherDelta * FisherDelta)
	if info == 0 || math.IsNaN(info) || math.IsInf(info, 0) {
		return 0, fmt.Errorf("%w: fisher information is %v", ErrNoConvergence, info)
	}
	return 1 / math.Sqrt(info), nil
}
