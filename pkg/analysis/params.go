package analysis

import (
	"errors"
	"fmt"

	"spotpairs/pkg/filter"
	"spotpairs/pkg/fitting"
)

// ErrInvalidParams is returned when the analysis parameters are unusable
var ErrInvalidParams = errors.New("analysis: invalid parameters")

// ProgressCallback reports progress of an analysis run
type ProgressCallback func(completed, total int, message string)

// FilterParams enables the quadrant outlier filter ahead of pairing
type FilterParams struct {
	Enabled bool

	// DeviationMax is the accepted deviation from the quadrant mean distance,
	// in standard deviations
	DeviationMax float64

	// NrQuadrants must be the square of a positive integer
	NrQuadrants int
}

// Params holds the analysis configuration. These parameters control which
// tables are produced and how distances are fitted.
type Params struct {
	// MaxDistance is the largest separation (nm) between the spots of a pair,
	// and between the pairs of consecutive frames of a track
	MaxDistance float64

	// BridgeGaps lets a track skip frames without a continuation
	BridgeGaps bool

	// Filter configures the optional outlier filter
	Filter FilterParams

	// ListPairs adds one row per pair to the report
	ListPairs bool

	// XYRegistration fits the x and y offsets of all pairs per channel
	// combination to estimate the registration error
	XYRegistration bool

	// P2D enables the P2D distance fit
	P2D bool

	// P2DSingleFrames fits every single-frame distance with its own
	// uncertainty. When false the vector averaged track distances are
	// fitted over mu and sigma.
	P2DSingleFrames bool

	// RegistrationError (nm) is added in quadrature to every pair sigma
	RegistrationError float64

	// Bootstrap estimates the spread of mu by resampling. Only used for the
	// vector averaged fit.
	Bootstrap          bool
	BootstrapRuns      int
	BootstrapMaxErrors int

	// Seed seeds the bootstrap resampling
	Seed uint64

	// MaxEvaluations caps the objective evaluations of every fit
	MaxEvaluations int
}

// DefaultParams returns the parameters used when nothing is configured
func DefaultParams() Params {
	return Params{
		MaxDistance:        100,
		Filter:             FilterParams{DeviationMax: 3, NrQuadrants: 1},
		P2D:                true,
		BootstrapRuns:      fitting.DefaultBootstrapRuns,
		BootstrapMaxErrors: fitting.DefaultBootstrapMaxErrors,
		MaxEvaluations:     fitting.DefaultMaxEvaluations,
	}
}

// Validate checks the parameters before any data is touched
func (p Params) Validate() error {
	if !(p.MaxDistance > 0) {
		return fmt.Errorf("%w: max distance %v must be positive", ErrInvalidParams, p.MaxDistance)
	}
	if p.RegistrationError < 0 {
		return fmt.Errorf("%w: registration error %v must not be negative", ErrInvalidParams, p.RegistrationError)
	}
	if p.Filter.Enabled {
		if err := p.filterParams().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p Params) filterParams() filter.Params {
	return filter.Params{
		MaxDistance:  p.MaxDistance,
		DeviationMax: p.Filter.DeviationMax,
		NrQuadrants:  p.Filter.NrQuadrants,
	}
}

func (p Params) fitOptions() fitting.Options {
	return fitting.Options{MaxEvaluations: p.MaxEvaluations}
}
