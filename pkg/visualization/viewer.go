// Package visualization renders fitted distance distributions: a histogram of
// the fitted distances normalized to unit area with the fitted P2D density
// drawn on top.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"spotpairs/pkg/analysis"
	"spotpairs/pkg/fitting"
)

// ErrNoDistances is returned for a fit without distances to plot
var ErrNoDistances = errors.New("visualization: no distances to plot")

const (
	minBins = 5
	maxBins = 50
)

// Viewer draws distance histograms of P2D fits
type Viewer struct {
	// width and height of the rendered plot
	width  vg.Length
	height vg.Length

	// bins overrides the automatic bin count when positive
	bins int
}

// NewViewer creates a viewer rendering plots of the given size
func NewViewer(width, height vg.Length) *Viewer {
	return &Viewer{width: width, height: height}
}

// SetBins fixes the number of histogram bins. Zero restores the automatic
// choice of sqrt(n) bins, clamped to [5, 50].
func (v *Viewer) SetBins(n int) {
	v.bins = n
}

func (v *Viewer) binCount(n int) int {
	if v.bins > 0 {
		return v.bins
	}
	b := int(math.Ceil(math.Sqrt(float64(n))))
	return min(max(b, minBins), maxBins)
}

// Plot builds the histogram plot of a fit. The density curve is omitted
// when the fit has no spread.
func (v *Viewer) Plot(fit analysis.FitRow) (*plot.Plot, error) {
	if len(fit.Distances) == 0 {
		return nil, fmt.Errorf("%w: %s channel %d versus %d", ErrNoDistances, fit.DatasetName, fit.Channel1, fit.Channel2)
	}

	p := plot.New()
	p.Title.Text = Title(fit)
	p.X.Label.Text = "Distance (nm)"
	p.Y.Label.Text = "Density"

	h, err := plotter.NewHist(plotter.Values(fit.Distances), v.binCount(len(fit.Distances)))
	if err != nil {
		return nil, fmt.Errorf("building histogram: %w", err)
	}
	h.Normalize(1)
	h.FillColor = color.Gray{Y: 200}
	p.Add(h)

	if fit.Sigma > 0 {
		density, err := plotter.NewLine(densityCurve(fit))
		if err != nil {
			return nil, fmt.Errorf("building density curve: %w", err)
		}
		density.Color = color.RGBA{R: 200, A: 255}
		density.Width = vg.Points(1.5)
		p.Add(density)
		p.Legend.Add(fmt.Sprintf("P2D mu=%.2f sigma=%.2f", fit.Mu, fit.Sigma), density)
		p.Legend.Top = true
	}

	p.X.Min = math.Min(p.X.Min, 0)
	return p, nil
}

const curveSamples = 200

// densityCurve samples the fitted density from 0 to the largest distance or
// mu + 4 sigma, whichever is further
func densityCurve(fit analysis.FitRow) plotter.XYs {
	upper := math.Max(floats.Max(fit.Distances), fit.Mu+4*fit.Sigma)
	xys := make(plotter.XYs, curveSamples+1)
	for i := range xys {
		r := upper * float64(i) / curveSamples
		xys[i].X = r
		xys[i].Y = fitting.P2DDensity(r, fit.Mu, fit.Sigma)
	}
	return xys
}

// Render draws the plot of a fit into an image
func (v *Viewer) Render(fit analysis.FitRow) (image.Image, error) {
	p, err := v.Plot(fit)
	if err != nil {
		return nil, err
	}
	c := vgimg.New(v.width, v.height)
	p.Draw(draw.New(c))
	return c.Image(), nil
}

// SaveHistogram saves the plot of a fit. The format follows the file
// extension (png, svg, pdf, ...).
func (v *Viewer) SaveHistogram(fit analysis.FitRow, filename string) error {
	p, err := v.Plot(fit)
	if err != nil {
		return err
	}
	return p.Save(v.width, v.height, filename)
}

// SaveHistogramSequence saves one PNG per fit with distances into outputDir
// and returns the written paths. Fits without distances are skipped.
func (v *Viewer) SaveHistogramSequence(fits []analysis.FitRow, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var written []string
	for _, fit := range fits {
		if len(fit.Distances) == 0 {
			continue
		}
		filename := filepath.Join(outputDir, FileName(fit))
		if err := v.SaveHistogram(fit, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}

// SaveDistanceHistogram saves the plot of a fit as a 6x4 inch image
func SaveDistanceHistogram(fit analysis.FitRow, filename string) error {
	return NewViewer(6*vg.Inch, 4*vg.Inch).SaveHistogram(fit, filename)
}

// Title describes a fit for plot headings
func Title(fit analysis.FitRow) string {
	mode := "single frames"
	if fit.VectorDistances {
		mode = "vector averaged"
	}
	return fmt.Sprintf("%s: channel %d versus %d (%s)", fit.DatasetName, fit.Channel1, fit.Channel2, mode)
}

// FileName returns the PNG file name used for a fit
func FileName(fit analysis.FitRow) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, fit.DatasetName)
	return fmt.Sprintf("%s_ch%d_ch%d.png", name, fit.Channel1, fit.Channel2)
}
