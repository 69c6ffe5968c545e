// Package pool runs batches of jobs concurrently and stops the batch on the
// first failure.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work in a batch. The context is cancelled once any job
// in the same batch fails.
type Job func(ctx context.Context) error

// PanicError reports a panic recovered from a job.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: job panicked: %v", e.Value)
}

// FailFast executes job batches with bounded concurrency.
type FailFast struct {
	workers int
}

// New creates a pool running at most workers jobs at a time.
// workers <= 0 runs every job of a batch on its own goroutine.
func New(workers int) *FailFast {
	return &FailFast{workers: workers}
}

// Workers returns the configured concurrency limit.
func (p *FailFast) Workers() int {
	return p.workers
}

// Run executes jobs and returns after every started job has returned.
// The first error cancels the batch: jobs that have not started yet are
// skipped and results of jobs still running are discarded. When several
// jobs fail concurrently, any one of their errors may be returned.
func (p *FailFast) Run(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		job := job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return runJob(gctx, job)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return job(ctx)
}
