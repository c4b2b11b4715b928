package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"spotpairs/pkg/analysis"
	"spotpairs/pkg/pairing"
)

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// optional renders v, or an empty cell when ok is false
func optional(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return ftoa(v)
}

func writeTable(w io.Writer, header []string, rows func(cw *csv.Writer) error) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	if err := rows(cw); err != nil {
		return fmt.Errorf("error writing row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// WritePairsCSV writes one line per spot pair
func WritePairsCSV(w io.Writer, pairs []analysis.PairRow) error {
	header := []string{
		"frame", "slice", "channel_1", "channel_2", "position",
		"x_pix", "y_pix", "x_1", "y_1", "x_2", "y_2",
		"sigma_1", "sigma_2", "distance", "orientation",
	}
	return writeTable(w, header, func(cw *csv.Writer) error {
		for _, p := range pairs {
			err := cw.Write([]string{
				strconv.Itoa(p.Frame),
				strconv.Itoa(p.Slice),
				strconv.Itoa(p.Channel1),
				strconv.Itoa(p.Channel2),
				strconv.Itoa(p.Position),
				strconv.Itoa(p.XPix1),
				strconv.Itoa(p.YPix1),
				ftoa(p.X1), ftoa(p.Y1),
				ftoa(p.X2), ftoa(p.Y2),
				optional(p.Sigma1, p.HasSigma),
				optional(p.Sigma2, p.HasSigma),
				ftoa(p.Distance),
				ftoa(p.Orientation),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTracksCSV writes the per-track summary table
func WriteTracksCSV(w io.Writer, tracks []pairing.TrackSummary) error {
	header := []string{
		"row_id", "track_id", "frame", "slice", "channel_1", "channel_2",
		"position", "x_pix", "y_pix", "n", "distance_avg", "distance_stddev",
		"distance_uncertainty", "vector_distance",
	}
	return writeTable(w, header, func(cw *csv.Writer) error {
		for _, t := range tracks {
			err := cw.Write([]string{
				strconv.Itoa(t.RowID),
				strconv.Itoa(t.TrackID),
				strconv.Itoa(t.Frame),
				strconv.Itoa(t.Slice),
				strconv.Itoa(t.Channel1),
				strconv.Itoa(t.Channel2),
				strconv.Itoa(t.Position),
				strconv.Itoa(t.XPix),
				strconv.Itoa(t.YPix),
				strconv.Itoa(t.N),
				ftoa(t.DistanceAvg),
				ftoa(t.DistanceStdDev),
				optional(t.DistanceUncertainty, t.HasUncertainty),
				ftoa(t.VectorDistance),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteRegistrationsCSV writes the x/y registration table
func WriteRegistrationsCSV(w io.Writer, regs []analysis.RegistrationRow) error {
	header := []string{
		"channel_1", "channel_2", "n",
		"x_error", "x_sigma", "y_error", "y_sigma", "combined_error",
	}
	return writeTable(w, header, func(cw *csv.Writer) error {
		for _, r := range regs {
			err := cw.Write([]string{
				strconv.Itoa(r.Channel1),
				strconv.Itoa(r.Channel2),
				strconv.Itoa(r.N),
				ftoa(r.XError), ftoa(r.XSigma),
				ftoa(r.YError), ftoa(r.YSigma),
				ftoa(r.CombinedError),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteFitsCSV writes one line per P2D fit
func WriteFitsCSV(w io.Writer, fits []analysis.FitRow) error {
	header := []string{
		"max_distance", "dataset", "channel_1", "channel_2", "mode",
		"sigma_source", "registration_error", "n", "frames", "positions",
		"mu", "sigma", "stddev", "gaussian_mean",
		"bootstrap_mu", "bootstrap_stddev",
	}
	return writeTable(w, header, func(cw *csv.Writer) error {
		for _, f := range fits {
			err := cw.Write([]string{
				ftoa(f.MaxDistance),
				f.DatasetName,
				strconv.Itoa(f.Channel1),
				strconv.Itoa(f.Channel2),
				fitMode(f),
				sigmaSource(f),
				ftoa(f.RegistrationError),
				strconv.Itoa(f.N),
				strconv.Itoa(f.Frames),
				strconv.Itoa(f.Positions),
				ftoa(f.Mu),
				ftoa(f.Sigma),
				optional(f.StdDev, f.HasStdDev),
				ftoa(f.GaussianMean),
				optional(f.BootstrapMu, f.Bootstrapped),
				optional(f.BootstrapStdDev, f.Bootstrapped),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func fitMode(f analysis.FitRow) string {
	if f.VectorDistances {
		return "multi-frame"
	}
	return "single-frame"
}

func sigmaSource(f analysis.FitRow) string {
	switch {
	case f.FitSigma:
		return "fit"
	case f.SigmaFromData:
		return "data"
	}
	return ""
}
