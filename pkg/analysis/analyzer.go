package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"spotpairs/internal/models"
	"spotpairs/pkg/filter"
)

// ErrRunPanicked is returned when a run was aborted by a panic, typically
// an out of memory condition. No report is produced.
var ErrRunPanicked = errors.New("analysis: run aborted")

// Analyzer turns localized spots into pairs, tracks and distance fits.
//
// The analysis of one dataset consists of several steps:
//  1. Optionally removing outlier spot groups with the quadrant filter
//  2. Indexing spots by position
//  3. Assembling inter-channel pairs per position and frame
//  4. Chaining pairs into tracks
//  5. Summarizing tracks and optionally fitting the x/y registration offsets
//  6. Fitting the P2D distribution to the track distances
//
// Non-fatal problems are collected as advisories on the row and do not stop
// the run.
type Analyzer struct {
	// params stores the analysis configuration
	params Params

	// metrics counts runs, pairs, tracks and failures
	metrics *Metrics

	// progressCallback is optional, see SetProgressCallback
	progressCallback ProgressCallback
}

// NewAnalyzer creates an analyzer. A nil metrics gets a private registry.
//
// Parameters:
//   - params: Configuration of the analysis
//   - metrics: Where counters are recorded, may be nil
//
// Returns:
//   - A new Analyzer
func NewAnalyzer(params Params, metrics *Metrics) *Analyzer {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Analyzer{params: params, metrics: metrics}
}

// SetProgressCallback sets a function receiving the number of completed
// datasets, the total, and a status message
func (a *Analyzer) SetProgressCallback(callback ProgressCallback) {
	a.progressCallback = callback
}

// Metrics returns the metrics the analyzer records into
func (a *Analyzer) Metrics() *Metrics {
	return a.metrics
}

func (a *Analyzer) reportProgress(completed, total int, message string) {
	if a.progressCallback != nil {
		a.progressCallback(completed, total, message)
	}
}

// Run analyzes the datasets one after the other and blocks until done.
//
// Invalid parameters are returned before any dataset is touched. Fit
// failures become advisories on their row; when the last dataset has a fit
// failure it is also returned as the error, together with the complete
// report.
func (a *Analyzer) Run(ctx context.Context, datasets []models.Dataset) (*Report, error) {
	if err := a.params.Validate(); err != nil {
		return nil, err
	}
	return a.run(ctx, uuid.New(), datasets)
}

func (a *Analyzer) run(ctx context.Context, runID uuid.UUID, datasets []models.Dataset) (*Report, error) {
	report := &Report{
		RunID:     runID,
		StartedAt: time.Now(),
		Params:    a.params,
		Rows:      make([]RowReport, 0, len(datasets)),
	}
	a.metrics.Runs.Inc()
	log.Printf("[analysis] run %s: %d datasets", report.RunID, len(datasets))

	var lastErr error
	for i, ds := range datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.reportProgress(i, len(datasets), fmt.Sprintf("Analyzing pairs for %s", ds.Name))

		row, err := a.analyzeRow(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", ds.Name, err)
		}
		for _, adv := range row.Advisories {
			a.metrics.Advisories.WithLabelValues(adv.Kind.String()).Inc()
			log.Printf("[analysis] %s", adv)
		}
		report.Rows = append(report.Rows, row)

		lastErr = nil
		if row.fitErr != nil {
			lastErr = fmt.Errorf("dataset %q (ID %d): %w", ds.Name, ds.ID, row.fitErr)
		}
	}

	report.FinishedAt = time.Now()
	a.metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	a.reportProgress(len(datasets), len(datasets), "Done listing pairs")
	return report, lastErr
}

// Job is the handle of a run executing on a background goroutine
type Job struct {
	// ID is the identifier the report will carry
	ID uuid.UUID

	done   chan struct{}
	report *Report
	err    error
}

// Start validates the parameters and runs the analysis on a background
// goroutine. Invalid parameters are returned immediately. A panic inside
// the run is recovered; the job then ends with ErrRunPanicked and no report.
func (a *Analyzer) Start(ctx context.Context, datasets []models.Dataset) (*Job, error) {
	if err := a.params.Validate(); err != nil {
		return nil, err
	}
	job := &Job{ID: uuid.New(), done: make(chan struct{})}

	go func() {
		defer close(job.done)
		defer func() {
			if rec := recover(); rec != nil {
				runtime.GC()
				debug.FreeOSMemory()
				job.report = nil
				job.err = fmt.Errorf("%w: %v", ErrRunPanicked, rec)
				log.Printf("[analysis] run aborted: %v", rec)
			}
		}()
		job.report, job.err = a.run(ctx, job.ID, datasets)
	}()
	return job, nil
}

// Done is closed when the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job has finished and returns its outcome
func (j *Job) Wait() (*Report, error) {
	<-j.done
	return j.report, j.err
}

// StartFilter launches a background outlier filter run over ds with the
// analyzer's filter settings. A rejection because another run is in flight
// is counted and returned as filter.ErrBusy.
func (a *Analyzer) StartFilter(ctx context.Context, runner *filter.Runner, ds models.Dataset,
	progress filter.ProgressCallback) (*filter.Run, error) {

	p := a.params.filterParams()
	p.Progress = progress
	run, err := runner.Start(ctx, ds, p)
	if errors.Is(err, filter.ErrBusy) {
		a.metrics.FilterBusy.Inc()
	}
	return run, err
}
