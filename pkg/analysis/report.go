package analysis

import (
	"time"

	"github.com/google/uuid"

	"spotpairs/internal/models"
	"spotpairs/pkg/pairing"
)

// Report holds everything produced by one analysis run
type Report struct {
	// RunID identifies the run
	RunID uuid.UUID

	StartedAt  time.Time
	FinishedAt time.Time

	Params Params

	// Rows holds one entry per analyzed dataset, in input order
	Rows []RowReport
}

// Advisories returns the advisories of all rows
func (r *Report) Advisories() []models.Advisory {
	var out []models.Advisory
	for _, row := range r.Rows {
		out = append(out, row.Advisories...)
	}
	return out
}

// RowReport holds the results of one dataset
type RowReport struct {
	DatasetID   int
	DatasetName string

	// Analyzed is the dataset the pairs were built from, the filtered one
	// when the outlier filter is enabled
	Analyzed models.Dataset

	NrPairs  int
	NrTracks int

	Pairs         []PairRow
	Tracks        []pairing.TrackSummary
	Registrations []RegistrationRow
	Fits          []FitRow

	Advisories []models.Advisory

	// fitErr is the last fit failure of the row
	fitErr error
}

// PairRow describes one spot pair
type PairRow struct {
	Frame    int
	Slice    int
	Channel1 int
	Channel2 int
	Position int

	XPix1, YPix1 int
	X1, Y1       float64
	X2, Y2       float64

	// Sigma1 and Sigma2 are only meaningful when HasSigma is true
	Sigma1, Sigma2 float64
	HasSigma       bool

	Distance    float64
	Orientation float64
}

// RegistrationRow is the gaussian fit of the x and y offsets of all pairs
// of one channel combination
type RegistrationRow struct {
	Channel1 int
	Channel2 int
	N        int

	XError float64
	XSigma float64
	YError float64
	YSigma float64

	// CombinedError is sqrt(XError² + YError²)
	CombinedError float64
}

// FitRow summarizes one P2D fit
type FitRow struct {
	MaxDistance float64
	DatasetName string
	Channel1    int
	Channel2    int

	// VectorDistances is true when vector averaged track distances were
	// fitted, false for single-frame distances
	VectorDistances bool

	// FitSigma and SigmaFromData describe where Sigma comes from
	FitSigma      bool
	SigmaFromData bool

	RegistrationError float64

	N         int
	Frames    int
	Positions int

	Mu    float64
	Sigma float64

	// StdDev is the Fisher information standard error of Mu
	StdDev    float64
	HasStdDev bool

	// GaussianMean is the plain mean of the fitted distances
	GaussianMean float64

	BootstrapMu     float64
	BootstrapStdDev float64
	Bootstrapped    bool

	// Distances is the fitted sample, kept for plotting
	Distances []float64
}
