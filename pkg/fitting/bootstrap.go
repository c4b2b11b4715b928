package fitting

import (
	"fmt"
	"log"

	"golang.org/x/exp/rand"
)

const (
	// DefaultBootstrapRuns is the number of successful resampled fits
	DefaultBootstrapRuns = 1000

	// DefaultBootstrapMaxErrors is the number of consecutive failed fits
	// after which resampling gives up
	DefaultBootstrapMaxErrors = 10
)

// ProgressCallback reports progress of long running fits
type ProgressCallback func(completed, total int, message string)

// BootstrapOptions configures Bootstrap
type BootstrapOptions struct {
	Runs      int
	MaxErrors int
	Seed      uint64

	// Progress, when set, is called every 25 successful runs
	Progress ProgressCallback
}

// BootstrapResult summarizes the mu estimates of the resampled fits
type BootstrapResult struct {
	Mean     float64
	StdDev   float64
	Runs     int
	Failures int
}

// FitFunc fits one sample and returns its estimate
type FitFunc func(sample []float64) (Result, error)

// Bootstrap resamples sample with replacement, fits every resample and
// reports the mean and standard deviation of the fitted mu values.
//
// Failed fits are not counted as runs. When MaxErrors fits fail in a row
// the resampling stops and ErrBootstrapAborted is returned, wrapping the
// last fit error.
func Bootstrap(sample []float64, fit FitFunc, opts BootstrapOptions) (BootstrapResult, error) {
	if len(sample) == 0 {
		return BootstrapResult{}, fmt.Errorf("%w: empty sample", ErrDegenerateInput)
	}
	runs := opts.Runs
	if runs <= 0 {
		runs = DefaultBootstrapRuns
	}
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = DefaultBootstrapMaxErrors
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	resample := make([]float64, len(sample))
	mus := make([]float64, 0, runs)
	var result BootstrapResult
	consecutive := 0

	for len(mus) < runs {
		for i := range resample {
			resample[i] = sample[rng.Intn(len(sample))]
		}
		r, err := fit(resample)
		if err != nil {
			result.Failures++
			consecutive++
			if consecutive >= maxErrors {
				log.Printf("[fitting] bootstrap stopped after %d consecutive failures (%d runs done)",
					consecutive, len(mus))
				return result, fmt.Errorf("%w after %d consecutive failures: %w",
					ErrBootstrapAborted, consecutive, err)
			}
			continue
		}
		consecutive = 0
		mus = append(mus, r.Mu)
		if opts.Progress != nil && len(mus)%25 == 0 {
			opts.Progress(len(mus), runs, "bootstrap")
		}
	}

	result.Runs = len(mus)
	result.Mean, result.StdDev = meanStdDev(mus)
	return result, nil
}
