package sim

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/model"
)

func TestPlan_PartitionsAllTrials(t *testing.T) {
	tests := []struct {
		trials, batch, wantBatches int
	}{
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25_001, 0, 3},
	}
	for _, tt := range tests {
		p := Plan{Trials: tt.trials, BatchSize: tt.batch}
		require.Equal(t, tt.wantBatches, p.Batches())

		total := 0
		for i := 0; i < p.Batches(); i++ {
			b := p.At(i, 1)
			assert.Equal(t, total, b.Start)
			total += b.Size
		}
		assert.Equal(t, tt.trials, total)
	}
}

func TestPlan_ValidateRejectsNonPositiveTrials(t *testing.T) {
	err := Plan{Trials: 0}.Validate()
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = Run(context.Background(), Plan{Trials: -5}, 1,
		func(context.Context, Batch) (int, error) { return 0, nil },
		func(Batch, int) {})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

// sumDraws runs a plan whose batches sum their normal draws, recording the
// merge order.
func sumDraws(t *testing.T, ctx context.Context, plan Plan, seed uint64) ([]int, []float64, int, error) {
	t.Helper()
	var order []int
	var sums []float64
	n, err := Run(ctx, plan, seed,
		func(_ context.Context, b Batch) (float64, error) {
			s := b.Stream()
			var sum float64
			for i := 0; i < b.Size; i++ {
				sum += s.Normal()
			}
			return sum, nil
		},
		func(b Batch, out float64) {
			order = append(order, b.Index)
			sums = append(sums, out)
		})
	return order, sums, n, err
}

func TestRun_MergesInOrderAndIsWorkerIndependent(t *testing.T) {
	plan := Plan{Trials: 10_000, BatchSize: 333, Workers: 1}
	order1, sums1, n1, err := sumDraws(t, context.Background(), plan, 77)
	require.NoError(t, err)
	assert.Equal(t, 10_000, n1)

	plan.Workers = 8
	order8, sums8, n8, err := sumDraws(t, context.Background(), plan, 77)
	require.NoError(t, err)
	assert.Equal(t, 10_000, n8)

	for i, idx := range order8 {
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, order1, order8)
	assert.Equal(t, sums1, sums8)
}

func TestRun_CancelBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, n, err := sumDraws(t, ctx, Plan{Trials: 1000, BatchSize: 10}, 1)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, model.ErrPartialResult)
}

func TestRun_CancelMidwayReturnsPartialPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var merged []int
	n, err := Run(ctx, Plan{Trials: 1000, BatchSize: 10, Workers: 1}, 1,
		func(_ context.Context, b Batch) (int, error) { return b.Size, nil },
		func(b Batch, size int) {
			merged = append(merged, b.Index)
			if b.Index == 4 {
				cancel()
			}
		})

	require.ErrorIs(t, err, model.ErrPartialResult)
	assert.ErrorIs(t, err, context.Canceled)

	var partial *model.PartialError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 1000, partial.Requested)
	assert.Equal(t, n, partial.Completed)
	assert.Equal(t, len(merged)*10, n)
	assert.Less(t, n, 1000)
	for i, idx := range merged {
		assert.Equal(t, i, idx, "partial result must be a contiguous prefix")
	}
}

func TestRun_WorkErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	_, err := Run(context.Background(), Plan{Trials: 100, BatchSize: 10, Workers: 2}, 1,
		func(_ context.Context, b Batch) (int, error) {
			calls.Add(1)
			if b.Index == 3 {
				return 0, boom
			}
			return 0, nil
		},
		func(Batch, int) {})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, model.ErrPartialResult)
}

func TestChannelObserver_DoesNotBlock(t *testing.T) {
	ch := make(chan model.Snapshot, 1)
	obs := ChannelObserver(ch)
	obs(model.Snapshot{Completed: 1})
	obs(model.Snapshot{Completed: 2}) // dropped

	got := <-ch
	assert.Equal(t, 1, got.Completed)
	assert.Empty(t, ch)
}

func TestTee(t *testing.T) {
	var a, b int
	Tee(func(model.Snapshot) { a++ }, nil, func(model.Snapshot) { b++ })(model.Snapshot{})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestOutcome(t *testing.T) {
	partial := &model.PartialError{Completed: 1, Requested: 2, Cause: context.Canceled}
	assert.Equal(t, "complete", Outcome(nil))
	assert.Equal(t, "partial", Outcome(partial))
	assert.Equal(t, "cancelled", Outcome(context.DeadlineExceeded))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
