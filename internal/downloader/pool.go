package downloader

import (
	"context"
	"time"

	"docharvest/pkg/cancel"
	"docharvest/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ProcessFunc handles a single job.
type ProcessFunc[J, R any] func(ctx context.Context, job J) (R, error)

// Result represents the outcome of one job
type Result[J, R any] struct {
	Job      J
	Value    R
	Err      error
	Duration time.Duration
	// Skipped is set when cancellation was observed before the job started.
	Skipped bool
}

// WorkerPool runs jobs on a bounded number of goroutines. Results come back
// in submission order regardless of completion order.
type WorkerPool[J, R any] struct {
	numWorkers int
	process    ProcessFunc[J, R]
	logger     logger.Logger
}

// NewWorkerPool creates a pool with numWorkers concurrent workers
func NewWorkerPool[J, R any](numWorkers int, process ProcessFunc[J, R], log logger.Logger) *WorkerPool[J, R] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool[J, R]{
		numWorkers: numWorkers,
		process:    process,
		logger:     logger.OrDefault(log),
	}
}

// Run processes every job and blocks until all started jobs have finished.
// Once the token is set no further jobs are started; those jobs come back
// with Skipped set. In-flight jobs are allowed to complete.
func (wp *WorkerPool[J, R]) Run(ctx context.Context, jobs []J, token *cancel.Token) []Result[J, R] {
	results := make([]Result[J, R], len(jobs))
	if len(jobs) == 0 {
		return results
	}

	wp.logger.DebugWithFields("Starting worker pool batch", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"jobs":        len(jobs),
	})

	var g errgroup.Group
	g.SetLimit(wp.numWorkers)

	for i, job := range jobs {
		results[i].Job = job
		if cancel.Cancelled(ctx, token) {
			results[i].Skipped = true
			continue
		}
		g.Go(func() error {
			// A job may have waited for a free slot; re-check before doing work.
			if cancel.Cancelled(ctx, token) {
				results[i].Skipped = true
				return nil
			}
			start := time.Now()
			value, err := wp.process(ctx, job)
			results[i].Value = value
			results[i].Err = err
			results[i].Duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Size returns the number of concurrent workers
func (wp *WorkerPool[J, R]) Size() int {
	return wp.numWorkers
}
