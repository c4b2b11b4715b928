package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"spotpairs/internal/models"
	"spotpairs/pkg/filter"
	"spotpairs/pkg/fitting"
	"spotpairs/pkg/pairing"
	"spotpairs/pkg/spatial"
)

// minRegistrationPairs is the number of offsets needed before the x/y
// registration is fitted; at or below it no fit is attempted
const minRegistrationPairs = 4

// analyzeRow runs the pipeline over one dataset. Fit failures are recorded
// as advisories, the last one is kept in the row's fitErr. A returned error
// is fatal and ends the run.
func (a *Analyzer) analyzeRow(ctx context.Context, ds models.Dataset) (RowReport, error) {
	p := a.params
	row := RowReport{DatasetID: ds.ID, DatasetName: ds.Name}
	advise := func(adv models.Advisory) {
		adv.DatasetID = ds.ID
		row.Advisories = append(row.Advisories, adv)
	}

	// Step 1: optional outlier filter
	src := ds
	if p.Filter.Enabled {
		res, err := filter.Filter(ctx, ds, p.filterParams())
		if err != nil {
			return row, fmt.Errorf("filter: %w", err)
		}
		for _, adv := range res.Advisories {
			advise(adv)
		}
		a.metrics.FilteredOutSpots.Add(float64(len(ds.Spots) - len(res.Dataset.Spots)))
		src = res.Dataset
	}
	row.Analyzed = src

	// Steps 2 and 3: index and pair
	idx := pairing.IndexByPosition(src.Spots)
	pairs, advisories := pairing.Assemble(idx, src.NrChannels, src.NrFrames, p.MaxDistance)
	for _, adv := range advisories {
		advise(adv)
	}
	row.NrPairs = pairs.Len()
	a.metrics.Pairs.Add(float64(pairs.Len()))
	if p.ListPairs {
		row.Pairs = pairRows(pairs, idx)
	}

	// Step 4: tracks
	tracks := pairing.BuildTracks(pairs, idx, src.NrChannels, src.NrFrames, p.MaxDistance,
		pairing.TrackOptions{BridgeGaps: p.BridgeGaps})
	row.NrTracks = len(tracks)
	a.metrics.Tracks.Add(float64(len(tracks)))
	if len(tracks) == 0 {
		advise(models.Advisory{
			Kind:    models.NoPairs,
			Message: fmt.Sprintf("ID: %d, No Pairs found", ds.ID),
		})
	}

	// Step 5: summaries and registration offsets
	row.Tracks = pairing.SummarizeTracks(ds.ID, tracks, pairs, idx, p.RegistrationError)
	if p.XYRegistration {
		all := pairing.AllPossiblePairs(idx, src.NrChannels, src.NrFrames, p.MaxDistance)
		for _, cp := range pairing.ChannelPairs(src.NrChannels) {
			reg, ok, err := registration(cp, all[cp], p.fitOptions())
			if err != nil {
				a.metrics.FitFailures.WithLabelValues("registration", failureReason(err)).Inc()
				advise(models.Advisory{
					Kind:    models.FitFailure,
					Channel: cp.Channel2,
					Message: fmt.Sprintf("Failed to fit Gaussian to channel %d versus %d offsets, try decreasing the maximum distance: %v",
						cp.Channel1, cp.Channel2, err),
				})
				continue
			}
			if ok {
				row.Registrations = append(row.Registrations, reg)
			}
		}
	}

	if !p.P2D {
		return row, nil
	}

	// Step 6: distance fits
	stats := pairing.CollectTrackStats(tracks, pairs, idx, src.NrChannels, p.RegistrationError)
	for _, cp := range pairing.ChannelPairs(src.NrChannels) {
		ts := stats[cp]
		var (
			fit  FitRow
			err  error
			mode string
		)
		if p.P2DSingleFrames {
			mode = "single-frame"
			fit, err = a.fitSingleFrames(ts)
		} else {
			mode = "multi-frame"
			fit, err = a.fitVectorDistances(ts, func(adv models.Advisory) { advise(adv) })
		}
		if err != nil {
			a.metrics.FitFailures.WithLabelValues(mode, failureReason(err)).Inc()
			advise(models.Advisory{
				Kind:    models.FitFailure,
				Channel: cp.Channel2,
				Message: fmt.Sprintf("ID: %d, channel %d versus %d, %s", ds.ID, cp.Channel1, cp.Channel2, failureMessage(err)),
			})
			row.fitErr = fmt.Errorf("channel %d versus %d: %w", cp.Channel1, cp.Channel2, err)
			continue
		}
		fit.MaxDistance = p.MaxDistance
		fit.DatasetName = ds.Name
		fit.Channel1 = cp.Channel1
		fit.Channel2 = cp.Channel2
		fit.RegistrationError = p.RegistrationError
		fit.N = len(ts.Distances)
		fit.Frames = ds.NrFrames
		fit.Positions = ds.NrPositions
		row.Fits = append(row.Fits, fit)
	}
	return row, nil
}

// fitSingleFrames estimates mu from every single-frame distance, each with
// its own sigma. Sigma is reported as the population estimate derived from
// the spot uncertainties.
func (a *Analyzer) fitSingleFrames(ts *pairing.TrackStats) (FitRow, error) {
	d, sigmas := ts.Distances, ts.Sigmas
	if len(d) != len(sigmas) {
		return FitRow{}, fmt.Errorf("%w: %d distances but %d sigmas, data may lack spot uncertainties",
			fitting.ErrDegenerateInput, len(d), len(sigmas))
	}
	if len(d) == 0 {
		return FitRow{}, fmt.Errorf("%w: no distances", fitting.ErrDegenerateInput)
	}

	distMean := stat.Mean(d, nil)
	sigma := ts.PopulationSigma(a.params.RegistrationError)
	res, err := fitting.FitP2DMaxLikelihood(d, sigmas, distMean, a.params.fitOptions())
	if err != nil {
		return FitRow{}, err
	}
	stdErr, err := fitting.FisherStdErr(func(mu float64) float64 {
		ll, _ := fitting.P2DLogLikelihood(d, sigmas, mu)
		return ll
	}, res.Mu)
	if err != nil {
		return FitRow{}, err
	}

	return FitRow{
		SigmaFromData: true,
		Mu:            res.Mu,
		Sigma:         sigma,
		StdDev:        stdErr,
		HasStdDev:     true,
		GaussianMean:  distMean,
		Distances:     d,
	}, nil
}

// fitVectorDistances fits mu and sigma to the vector averaged track
// distances, optionally followed by a bootstrap estimate of mu
func (a *Analyzer) fitVectorDistances(ts *pairing.TrackStats, advise func(models.Advisory)) (FitRow, error) {
	opts := a.params.fitOptions()
	d := ts.VectorDistances
	res, err := fitting.FitP2D(d, opts)
	if err != nil {
		return FitRow{}, err
	}
	fit := FitRow{
		VectorDistances: true,
		FitSigma:        true,
		Mu:              res.Mu,
		Sigma:           res.Sigma,
		GaussianMean:    stat.Mean(d, nil),
		Distances:       d,
	}

	if a.params.Bootstrap {
		bs, err := fitting.Bootstrap(d, func(sample []float64) (fitting.Result, error) {
			return fitting.FitP2D(sample, opts)
		}, fitting.BootstrapOptions{
			Runs:      a.params.BootstrapRuns,
			MaxErrors: a.params.BootstrapMaxErrors,
			Seed:      a.params.Seed,
		})
		if err != nil {
			a.metrics.FitFailures.WithLabelValues("bootstrap", failureReason(err)).Inc()
			advise(models.Advisory{
				Kind:    models.BootstrapAborted,
				Message: fmt.Sprintf("Bootstrap analysis failed due to too many errors: %v", err),
			})
		} else {
			fit.BootstrapMu = bs.Mean
			fit.BootstrapStdDev = bs.StdDev
			fit.Bootstrapped = true
		}
	}
	return fit, nil
}

// registration fits gaussians to the x and y offsets of all pairs of one
// channel combination. The second result is false when there are too few
// pairs to fit.
func registration(cp pairing.ChannelPair, pairs []models.SpotPair, opts fitting.Options) (RegistrationRow, bool, error) {
	if len(pairs) <= minRegistrationPairs {
		return RegistrationRow{}, false, nil
	}
	dx, dy := pairing.Offsets(pairs)
	xFit, err := fitting.FitGaussian(dx, opts)
	if err != nil {
		return RegistrationRow{}, false, fmt.Errorf("x offsets: %w", err)
	}
	yFit, err := fitting.FitGaussian(dy, opts)
	if err != nil {
		return RegistrationRow{}, false, fmt.Errorf("y offsets: %w", err)
	}
	return RegistrationRow{
		Channel1:      cp.Channel1,
		Channel2:      cp.Channel2,
		N:             len(pairs),
		XError:        xFit.Mu,
		XSigma:        xFit.Sigma,
		YError:        yFit.Mu,
		YSigma:        yFit.Sigma,
		CombinedError: math.Hypot(xFit.Mu, yFit.Mu),
	}, true, nil
}

func pairRows(pairs *pairing.PairSet, idx *pairing.SpotsByPosition) []PairRow {
	rows := make([]PairRow, 0, pairs.Len())
	for _, key := range pairs.Keys() {
		for _, pi := range pairs.Bucket(key) {
			p := pairs.Pair(pi)
			first, second := idx.Spot(p.First), idx.Spot(p.Second)
			rows = append(rows, PairRow{
				Frame:       first.Frame,
				Slice:       first.Slice,
				Channel1:    p.Channel1,
				Channel2:    p.Channel2,
				Position:    p.Position,
				XPix1:       first.X,
				YPix1:       first.Y,
				X1:          p.FirstPoint.X,
				Y1:          p.FirstPoint.Y,
				X2:          p.SecondPoint.X,
				Y2:          p.SecondPoint.Y,
				Sigma1:      first.Sigma,
				Sigma2:      second.Sigma,
				HasSigma:    first.HasSigma && second.HasSigma,
				Distance:    pairing.PairDistance(p),
				Orientation: spatial.Orientation(p.FirstPoint, p.SecondPoint),
			})
		}
	}
	return rows
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, fitting.ErrTooManyEvaluations):
		return "evaluations"
	case errors.Is(err, fitting.ErrDegenerateInput):
		return "degenerate"
	case errors.Is(err, fitting.ErrBootstrapAborted):
		return "bootstrap"
	default:
		return "convergence"
	}
}

func failureMessage(err error) string {
	if errors.Is(err, fitting.ErrTooManyEvaluations) {
		return "Too many evaluations while fitting"
	}
	return fmt.Sprintf("Failed to fit p2d function: %v", err)
}
