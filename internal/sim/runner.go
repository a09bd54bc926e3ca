// Package sim partitions N independent trials into batches, runs them on a
// worker pool, and reduces the partial results in batch-index order.
//
// Each batch draws from its own sub-stream seeded by (master seed, batch
// index), and batches are merged strictly in index order under a mutex, so a
// run is bit-identical for a fixed seed whatever the worker count. When the
// context is cancelled, workers stop picking up batches and the run ends with
// the longest merged prefix of batches.
package sim

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/rng"
)

// DefaultBatchSize is the number of trials per batch when none is set. It is
// also the granularity of progress snapshots and cancellation.
const DefaultBatchSize = 10_000

// Plan describes how a run's trials are partitioned.
type Plan struct {
	Trials    int
	BatchSize int // 0 → DefaultBatchSize
	Workers   int // 0 → GOMAXPROCS
}

// Validate rejects a plan that cannot run.
func (p Plan) Validate() error {
	if p.Trials <= 0 {
		return model.Invalid("trials", "must be positive, got %d", p.Trials)
	}
	if p.BatchSize < 0 {
		return model.Invalid("batch_size", "must not be negative, got %d", p.BatchSize)
	}
	if p.Workers < 0 {
		return model.Invalid("workers", "must not be negative, got %d", p.Workers)
	}
	return nil
}

func (p Plan) batchSize() int {
	if p.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return p.BatchSize
}

// Batches returns the number of batches the plan produces.
func (p Plan) Batches() int {
	size := p.batchSize()
	return (p.Trials + size - 1) / size
}

func (p Plan) workers() int {
	w := p.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if b := p.Batches(); w > b {
		w = b
	}
	return w
}

// Batch is one contiguous slice of trials with its own RNG sub-stream seed.
type Batch struct {
	Index int
	Start int
	Size  int
	Seed  uint64
}

// Stream returns a fresh generator for the batch.
func (b Batch) Stream() *rng.Stream {
	return rng.New(b.Seed)
}

// At returns batch i of the plan.
func (p Plan) At(i int, master uint64) Batch {
	size := p.batchSize()
	start := i * size
	if rem := p.Trials - start; rem < size {
		size = rem
	}
	return Batch{Index: i, Start: start, Size: size, Seed: rng.Derive(master, uint64(i))}
}

// WorkFunc simulates one batch. It must only touch state it owns.
type WorkFunc[T any] func(ctx context.Context, b Batch) (T, error)

// MergeFunc folds a finished batch into the running result. Calls are
// serialized and arrive in batch-index order.
type MergeFunc[T any] func(b Batch, out T)

// Run executes the plan and returns the number of trials merged.
//
// The error is nil when every batch was merged. If ctx is cancelled after at
// least one batch was merged, the error is a *model.PartialError (matching
// model.ErrPartialResult) and the merged state is a valid partial result. If
// nothing was merged, ctx.Err() is returned. Any other error from work aborts
// the run and is returned as is.
func Run[T any](ctx context.Context, plan Plan, master uint64, work WorkFunc[T], merge MergeFunc[T]) (int, error) {
	if err := plan.Validate(); err != nil {
		return 0, err
	}

	n := plan.Batches()
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var (
		mu        sync.Mutex
		pending   = make(map[int]T)
		next      int
		completed int
	)

	for w := 0; w < plan.workers(); w++ {
		g.Go(func() error {
			for i := range jobs {
				if gctx.Err() != nil {
					continue
				}
				b := plan.At(i, master)
				out, err := work(gctx, b)
				if err != nil {
					if gctx.Err() != nil {
						continue
					}
					return err
				}

				mu.Lock()
				pending[i] = out
				for {
					v, ok := pending[next]
					if !ok {
						break
					}
					delete(pending, next)
					nb := plan.At(next, master)
					merge(nb, v)
					completed += nb.Size
					next++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return completed, err
	}
	if next == n {
		return completed, nil
	}

	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	if completed == 0 {
		return 0, cause
	}
	slog.Debug("simulation stopped early",
		"completed", completed,
		"requested", plan.Trials,
		"cause", cause,
	)
	return completed, &model.PartialError{Completed: completed, Requested: plan.Trials, Cause: cause}
}

// Outcome classifies a run error for logs and metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, model.ErrPartialResult):
		return "partial"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
