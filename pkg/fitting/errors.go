package fitting

import "errors"

var (
	// ErrDegenerateInput is returned for empty samples, mismatched sample and
	// uncertainty lengths, or uncertainties that are not positive
	ErrDegenerateInput = errors.New("fitting: degenerate input")

	// ErrNoConvergence is returned when the optimizer does not produce a
	// finite result
	ErrNoConvergence = errors.New("fitting: no finite solution")

	// ErrTooManyEvaluations is returned when the optimizer exhausts its
	// function evaluation budget
	ErrTooManyEvaluations = errors.New("fitting: too many evaluations")

	// ErrBootstrapAborted is returned when bootstrap resampling hits its
	// budget of consecutive failed fits
	ErrBootstrapAborted = errors.New("fitting: bootstrap aborted")
)
