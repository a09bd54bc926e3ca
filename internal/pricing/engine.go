// Package pricing runs the option engine: GBM paths are generated in
// parallel batches, each path is valued by a payoff.Contract, and the
// discounted payoffs are reduced into a price estimate with a 99% interval.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/atmx/risk-engine/internal/estimator"
	"github.com/atmx/risk-engine/internal/gbm"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/payoff"
	"github.com/atmx/risk-engine/internal/riskmetric"
	"github.com/atmx/risk-engine/internal/rng"
	"github.com/atmx/risk-engine/internal/sim"
)

// Request is one pricing run.
type Request struct {
	Contract payoff.Contract
	Market   gbm.Config
	Trials   int
	Seed     *uint64
	// KeepPayoffs retains every discounted payoff and reports their
	// histogram with Bins bins (0 → default).
	KeepPayoffs bool
	Bins        int
}

// Options tune execution without changing results.
type Options struct {
	Workers   int
	BatchSize int
	Observer  sim.Observer
	RunID     string
}

// Price values req.Contract by Monte Carlo.
//
// Configuration errors are returned before any path is generated. A
// non-finite path aborts the run with a *model.NumericalError. On
// cancellation the report covers the merged batches, has Partial set, and
// is returned with an error matching model.ErrPartialResult.
func Price(ctx context.Context, req Request, opts Options) (*model.OptionReport, error) {
	if req.Contract == nil {
		return nil, model.Invalid("variant", "contract is required")
	}
	simulator, err := gbm.New(req.Market)
	if err != nil {
		return nil, err
	}
	if err := req.Contract.Validate(simulator); err != nil {
		return nil, err
	}
	plan := sim.Plan{Trials: req.Trials, BatchSize: opts.BatchSize, Workers: opts.Workers}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	seed := rng.Resolve(req.Seed)
	start := time.Now()
	metrics.ActiveRuns.WithLabelValues(model.EngineOption).Inc()
	defer metrics.ActiveRuns.WithLabelValues(model.EngineOption).Dec()

	var payoffs []float64
	if req.KeepPayoffs {
		payoffs = make([]float64, req.Trials)
	}
	var est estimator.Estimator

	completed, runErr := sim.Run(ctx, plan, seed,
		func(ctx context.Context, b sim.Batch) (estimator.Accumulator, error) {
			s := b.Stream()
			path := simulator.NewPath()
			var acc estimator.Accumulator
			for i := 0; i < b.Size; i++ {
				if err := simulator.Simulate(s, path); err != nil {
					return acc, err
				}
				v := req.Contract.Discounted(path, simulator)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return acc, &model.NumericalError{Op: fmt.Sprintf("%s payoff of trial %d", req.Contract.Variant(), b.Start+i), Value: v}
				}
				if payoffs != nil {
					payoffs[b.Start+i] = v
				}
				acc.Add(v)
			}
			return acc, nil
		},
		func(b sim.Batch, acc estimator.Accumulator) {
			est.Merge(acc)
			snap := est.Snapshot(model.EngineOption, req.Trials)
			snap.RunID = opts.RunID
			sim.Notify(opts.Observer, snap)
		})

	metrics.TrialsSimulated.WithLabelValues(model.EngineOption).Add(float64(completed))
	metrics.RunDuration.WithLabelValues(model.EngineOption).Observe(time.Since(start).Seconds())
	metrics.RunsTotal.WithLabelValues(model.EngineOption, sim.Outcome(runErr)).Inc()

	if runErr != nil && !errors.Is(runErr, model.ErrPartialResult) {
		slog.Warn("option pricing failed", "run_id", opts.RunID, "error", runErr)
		return nil, runErr
	}

	report := &model.OptionReport{
		RunInfo: model.RunInfo{
			Seed:            seed,
			RequestedTrials: req.Trials,
			CompletedTrials: completed,
			Partial:         completed < req.Trials,
		},
		Variant:  string(req.Contract.Variant()),
		Estimate: est.Estimate(),
	}
	if eu, ok := req.Contract.(*payoff.European); ok {
		v := BlackScholes(eu.Kind, simulator.Spot(0), eu.Strike, simulator.Rate(), simulator.Volatility(0), simulator.Maturity())
		report.Analytic = &v
	}
	if payoffs != nil {
		report.Histogram = riskmetric.Histogram(payoffs[:completed], req.Bins)
	}

	slog.Info("option pricing finished",
		"run_id", opts.RunID,
		"contract", payoff.Describe(req.Contract),
		"trials", completed,
		"requested", req.Trials,
		"partial", report.Partial,
		"seed", seed,
		"price", report.Estimate.Price,
		"std_error", report.Estimate.StdError,
		"elapsed", time.Since(start),
	)
	return report, runErr
}
