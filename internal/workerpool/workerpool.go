// Package workerpool provides a bounded intra-stage worker pool:
// stages that run competing workers (e.g. rival code generators) fan
// out up to max_workers, with cancellation propagating to every
// worker the moment one returns a fatal error or the caller's context
// is cancelled.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to the pool. It must honor ctx
// cancellation the same way a Stage's Execute does.
type Task func(ctx context.Context) (any, error)

// Run executes tasks with at most maxWorkers running concurrently,
// propagating cancellation through gctx when any task returns a
// non-nil error. maxWorkers <= 1 runs tasks one at a time, in order,
// giving behavior identical to a sequential run.
//
// Results are returned in the same order as tasks; a task's error, if
// any, is paired with its own result slot, and the first error across
// all tasks is also returned as err for callers that just want a
// go/no-go signal.
func Run(ctx context.Context, maxWorkers int, tasks []Task) (results []any, errs []error, err error) {
	n := len(tasks)
	results = make([]any, n)
	errs = make([]error, n)
	if n == 0 {
		return results, errs, nil
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	var mu sync.Mutex
	var firstErr error

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			out, terr := task(gctx)
			results[i] = out
			errs[i] = terr
			if terr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = terr
				}
				mu.Unlock()
				return terr
			}
			return nil
		})
	}

	_ = g.Wait()
	return results, errs, firstErr
}
