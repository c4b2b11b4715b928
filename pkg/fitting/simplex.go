package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

const (
	// DefaultMaxEvaluations caps the objective evaluations of one fit
	DefaultMaxEvaluations = 5000

	// DefaultSimplexStep is the size of the initial Nelder-Mead simplex
	DefaultSimplexStep = 0.2
)

// Options tunes the simplex search. Zero values select the defaults.
type Options struct {
	MaxEvaluations int
	SimplexStep    float64
}

func (o Options) maxEvaluations() int {
	if o.MaxEvaluations <= 0 {
		return DefaultMaxEvaluations
	}
	return o.MaxEvaluations
}

func (o Options) simplexStep() float64 {
	if o.SimplexStep <= 0 {
		return DefaultSimplexStep
	}
	return o.SimplexStep
}

// scaled caps the simplex step at scale so the first simplex of a narrow
// sample does not leave the region its data covers
func (o Options) scaled(scale float64) Options {
	if scale > 0 && scale < o.simplexStep() {
		o.SimplexStep = scale
	}
	return o
}

// Result holds the fitted location and scale of a distribution
type Result struct {
	Mu    float64
	Sigma float64

	// StdErr is the Fisher information estimate of the standard error of Mu
	StdErr    float64
	HasStdErr bool

	// Bootstrap holds the mean and spread of Mu over resampled fits
	Bootstrap    BootstrapResult
	Bootstrapped bool
}

// minimize runs a Nelder-Mead search of f starting at x0
func minimize(f func(x []float64) float64, x0 []float64, opts Options) ([]float64, error) {
	settings := &optimize.Settings{
		FuncEvaluations: opts.maxEvaluations(),
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 100,
		},
	}
	method := &optimize.NelderMead{SimplexSize: opts.simplexStep()}

	res, err := optimize.Minimize(optimize.Problem{Func: f}, x0, settings, method)
	if res != nil && res.Status == optimize.FunctionEvaluationLimit {
		return nil, fmt.Errorf("%w: limit of %d reached", ErrTooManyEvaluations, opts.maxEvaluations())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return nil, fmt.Errorf("%w: objective is %v", ErrNoConvergence, res.F)
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: parameter is %v", ErrNoConvergence, v)
		}
	}
	return res.X, nil
}
