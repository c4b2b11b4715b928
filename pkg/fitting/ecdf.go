package fitting

import (
	"sort"

	"gonum.org/v1/gonum/integrate/quad"
)

// ECDFPoint is one step of an empirical cumulative distribution
type ECDFPoint struct {
	X float64
	Y float64
}

// NewECDF returns the empirical cumulative distribution of sample: the
// sorted values, the i-th (0 based) carrying cumulative fraction (i+1)/n.
// Tied values each keep their own step. The sample is not modified.
func NewECDF(sample []float64) []ECDFPoint {
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	out := make([]ECDFPoint, len(sorted))
	for i, x := range sorted {
		out[i] = ECDFPoint{X: x, Y: float64(i+1) / n}
	}
	return out
}

// segmentNodes is the Gauss-Legendre order used per integration segment
const segmentNodes = 24

// ecdfSquaredError integrates pdf from lower up to every ECDF step and
// returns the summed squared difference between the integral and the step
// height. A repeated x contributes the squared difference between the
// integral reached so far and its own step height.
func ecdfSquaredError(points []ECDFPoint, pdf func(float64) float64, lower float64) float64 {
	var sum float64
	prevX := lower
	integral := 0.0
	for i, p := range points {
		if i > 0 && p.X <= prevX {
			d := integral - p.Y
			sum += d * d
			continue
		}
		if p.X > prevX {
			integral += quad.Fixed(pdf, prevX, p.X, segmentNodes, nil, 0)
		}
		prevX = p.X
		d := integral - p.Y
		sum += d * d
	}
	return sum
}
