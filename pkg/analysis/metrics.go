package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the analyzer does
type Metrics struct {
	Runs             prometheus.Counter
	RunDuration      prometheus.Histogram
	Pairs            prometheus.Counter
	Tracks           prometheus.Counter
	FitFailures      *prometheus.CounterVec
	Advisories       *prometheus.CounterVec
	FilteredOutSpots prometheus.Counter
	FilterBusy       prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the analyzer metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.gatherer = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "spotpairs_runs_total",
			Help: "Number of analysis runs.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotpairs_run_duration_seconds",
			Help:    "Duration of analysis runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Pairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "spotpairs_pairs_total",
			Help: "Number of spot pairs assembled.",
		}),
		Tracks: factory.NewCounter(prometheus.CounterOpts{
			Name: "spotpairs_tracks_total",
			Help: "Number of tracks assembled.",
		}),
		FitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpairs_fit_failures_total",
			Help: "Number of failed distribution fits.",
		}, []string{"mode", "reason"}),
		Advisories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpairs_advisories_total",
			Help: "Number of advisories raised.",
		}, []string{"kind"}),
		FilteredOutSpots: factory.NewCounter(prometheus.CounterOpts{
			Name: "spotpairs_filter_rejected_spots_total",
			Help: "Number of spots removed by the outlier filter.",
		}),
		FilterBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "spotpairs_filter_busy_total",
			Help: "Number of filter runs rejected because another was in flight.",
		}),
	}
}

// Gatherer returns the registry holding the metrics
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// WriteTextfile writes the current metric values in the Prometheus text
// format, for pickup by a node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}
