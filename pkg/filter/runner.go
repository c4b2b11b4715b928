package filter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"

	"spotpairs/internal/models"
)

var (
	// ErrBusy is returned by Start while another run is in flight
	ErrBusy = errors.New("filter: a filter run is already in progress")

	// ErrRunAborted is returned by Wait when the run panicked, typically
	// by running out of memory. No partial output is produced.
	ErrRunAborted = errors.New("filter: run aborted")
)

// Runner executes filter runs on a background goroutine, one at a time
type Runner struct {
	running atomic.Bool
}

// NewRunner creates an idle runner
func NewRunner() *Runner {
	return &Runner{}
}

// Busy reports whether a run is in flight
func (r *Runner) Busy() bool {
	return r.running.Load()
}

// Run is the handle of one background filter run
type Run struct {
	// ID identifies the run in logs
	ID uuid.UUID

	done   chan struct{}
	result *Result
	err    error
}

// Start validates p and launches a filter run over ds.
//
// Invalid parameters are reported here, before any work starts. A call
// made while a previous run is still in flight is rejected with ErrBusy.
func (r *Runner) Start(ctx context.Context, ds models.Dataset, p Params) (*Run, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	run := &Run{ID: uuid.New(), done: make(chan struct{})}
	log.Printf("[filter] run %s started on %q (%d spots)", run.ID, ds.Name, len(ds.Spots))

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				runtime.GC()
				debug.FreeOSMemory()
				run.result = nil
				run.err = fmt.Errorf("%w: %v", ErrRunAborted, rec)
				log.Printf("[filter] run %s aborted: %v", run.ID, rec)
			}
			r.running.Store(false)
			close(run.done)
		}()
		run.result, run.err = Filter(ctx, ds, p)
		if run.err == nil {
			log.Printf("[filter] run %s finished, kept %d of %d spots",
				run.ID, len(run.result.Dataset.Spots), len(ds.Spots))
		}
	}()
	return run, nil
}

// Done is closed when the run has finished
func (run *Run) Done() <-chan struct{} {
	return run.done
}

// Wait blocks until the run has finished and returns its outcome
func (run *Run) Wait() (*Result, error) {
	<-run.done
	return run.result, run.err
}
