// Package jobs runs simulations asynchronously. Jobs live in process memory
// only and are lost on restart; cancelling a job stops its run between
// batches and keeps the partial result.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sim"
)

var (
	ErrNotFound = errors.New("jobs: job not found")
	ErrFinished = errors.New("jobs: job already finished")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Job is a point-in-time view of an asynchronous run.
type Job struct {
	ID         string          `json:"id"`
	Engine     string          `json:"engine"`
	Status     Status          `json:"status"`
	Progress   *model.Snapshot `json:"progress,omitempty"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool { return j.Status != StatusRunning }

// Func performs the run. It must honour ctx and report progress through
// obs. A result returned together with an error matching
// model.ErrPartialResult is kept as a partial result.
type Func func(ctx context.Context, runID string, obs sim.Observer) (any, error)

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks submitted jobs.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*entry
	observer sim.Observer
	wg       sync.WaitGroup
}

// NewRegistry creates a registry. Progress snapshots of every job are also
// forwarded to obs, which may be nil.
func NewRegistry(obs sim.Observer) *Registry {
	return &Registry{
		jobs:     make(map[string]*entry),
		observer: obs,
	}
}

// Submit starts fn in the background and returns the new job.
func (r *Registry) Submit(engine string, fn Func) Job {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		job: Job{
			ID:        uuid.New().String(),
			Engine:    engine,
			Status:    StatusRunning,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[e.job.ID] = e
	r.mu.Unlock()

	metrics.JobsQueued.Inc()
	r.wg.Add(1)
	go r.run(ctx, e, fn)

	slog.Info("job submitted", "job_id", e.job.ID, "engine", engine)
	return e.job
}

func (r *Registry) run(ctx context.Context, e *entry, fn Func) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()
	defer metrics.JobsQueued.Dec()

	id := e.job.ID
	obs := func(s model.Snapshot) {
		r.mu.Lock()
		snap := s
		e.job.Progress = &snap
		r.mu.Unlock()
		sim.Notify(r.observer, s)
	}

	result, err := fn(ctx, id, obs)

	now := time.Now().UTC()
	r.mu.Lock()
	e.job.FinishedAt = &now
	switch {
	case err == nil:
		e.job.Status = StatusCompleted
		e.job.Result = result
	case errors.Is(err, model.ErrPartialResult) && result != nil:
		e.job.Status = StatusPartial
		e.job.Result = result
		e.job.Error = err.Error()
	case errors.Is(err, context.Canceled):
		e.job.Status = StatusCancelled
		e.job.Error = err.Error()
	default:
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	}
	status := e.job.Status
	r.mu.Unlock()

	slog.Info("job finished", "job_id", id, "engine", e.job.Engine, "status", status)
}

// Get returns the current view of job id.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.job, nil
}

// List returns all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel requests cooperative cancellation of job id. The run stops at the
// next batch boundary; use Wait to observe the final state.
func (r *Registry) Cancel(id string) (Job, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	var job Job
	if ok {
		job = e.job
	}
	r.mu.RUnlock()

	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.Done() {
		return job, fmt.Errorf("%w: %s", ErrFinished, id)
	}
	e.cancel()
	slog.Info("job cancellation requested", "job_id", id)
	return job, nil
}

// Wait blocks until job id finishes or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (Job, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case <-e.done:
		return r.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for them to stop.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, e := range r.jobs {
		e.cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
