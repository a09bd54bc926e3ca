package credit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/estimator"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/riskmetric"
	"github.com/atmx/risk-engine/internal/rng"
	"github.com/atmx/risk-engine/internal/sim"
)

// Options tune execution without changing results: for a fixed seed the
// report is identical for any Workers or Observer.
type Options struct {
	Workers   int
	BatchSize int
	Observer  sim.Observer
	RunID     string
}

// Simulate runs the credit engine: N copula trials aggregated into a
// LossSample, summarised as EL, VaR_α and ES_α.
//
// Configuration errors are returned before any trial runs. If ctx is
// cancelled mid-run the report covers the completed trials, has Partial set,
// and is returned together with an error matching model.ErrPartialResult.
func Simulate(ctx context.Context, p *model.Portfolio, run model.CreditRun, opts Options) (*model.CreditReport, error) {
	m, err := NewModel(p)
	if err != nil {
		return nil, err
	}
	if err := riskmetric.ValidateConfidence(run.Confidence); err != nil {
		return nil, err
	}
	plan := sim.Plan{Trials: run.Trials, BatchSize: opts.BatchSize, Workers: opts.Workers}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	seed := rng.Resolve(run.Seed)
	start := time.Now()
	metrics.ActiveRuns.WithLabelValues(model.EngineCredit).Inc()
	defer metrics.ActiveRuns.WithLabelValues(model.EngineCredit).Dec()

	// Each batch writes only losses[b.Start : b.Start+b.Size].
	losses := make([]float64, run.Trials)
	var est estimator.Estimator

	completed, runErr := sim.Run(ctx, plan, seed,
		func(ctx context.Context, b sim.Batch) (estimator.Accumulator, error) {
			s := b.Stream()
			sp := m.Sampler()
			out := losses[b.Start : b.Start+b.Size]
			var acc estimator.Accumulator
			for i := range out {
				out[i] = sp.Trial(s)
				acc.Add(out[i])
			}
			return acc, nil
		},
		func(b sim.Batch, acc estimator.Accumulator) {
			est.Merge(acc)
			snap := est.Snapshot(model.EngineCredit, run.Trials)
			snap.RunID = opts.RunID
			sim.Notify(opts.Observer, snap)
		})

	metrics.TrialsSimulated.WithLabelValues(model.EngineCredit).Add(float64(completed))
	metrics.RunDuration.WithLabelValues(model.EngineCredit).Observe(time.Since(start).Seconds())

	metrics.RunsTotal.WithLabelValues(model.EngineCredit, sim.Outcome(runErr)).Inc()

	if runErr != nil && !errors.Is(runErr, model.ErrPartialResult) {
		return nil, runErr
	}

	report := buildReport(m, losses[:completed], run, seed, est)

	slog.Info("credit simulation finished",
		"run_id", opts.RunID,
		"obligors", m.Obligors(),
		"trials", completed,
		"requested", run.Trials,
		"partial", report.Partial,
		"seed", seed,
		"el", report.Metrics.ExpectedLoss.String(),
		"var", report.Metrics.ValueAtRisk.String(),
		"es", report.Metrics.ExpectedShortfall.String(),
		"elapsed", time.Since(start),
	)
	return report, runErr
}

func buildReport(m *Model, sample []float64, run model.CreditRun, seed uint64, est estimator.Estimator) *model.CreditReport {
	report := &model.CreditReport{
		RunInfo: model.RunInfo{
			Seed:            seed,
			RequestedTrials: run.Trials,
			CompletedTrials: len(sample),
			Partial:         len(sample) < run.Trials,
		},
		TotalExposure: money(m.TotalExposure()),
		Convergence:   est.Convergence(),
	}
	if run.KeepLosses {
		report.Losses = append([]float64(nil), sample...)
	}

	sort.Float64s(sample)
	rm := riskmetric.ComputeSorted(sample, run.Confidence)
	report.Metrics = model.RiskMetrics{
		Confidence:        run.Confidence,
		ExpectedLoss:      money(rm.ExpectedLoss),
		ValueAtRisk:       money(rm.ValueAtRisk),
		ExpectedShortfall: money(rm.ExpectedShortfall),
	}
	report.Histogram = riskmetric.Histogram(sample, run.Bins)
	return report
}

func money(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(model.MoneyScale)
}
