package credit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/estimator"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/rng"
)

func seed(v uint64) *uint64 { return &v }

func cr(id string, exposure, pd, lgd float64, sector string) model.Credit {
	return model.Credit{
		ObligorID: id,
		Exposure:  decimal.NewFromFloat(exposure),
		PD:        pd,
		LGD:       lgd,
		Sector:    sector,
	}
}

func defaultRates(t *testing.T, p *model.Portfolio, trials int, s uint64) []float64 {
	t.Helper()
	m, err := NewModel(p)
	require.NoError(t, err)
	sp := m.Sampler()
	stream := rng.New(s)
	counts := make([]float64, m.Obligors())
	for n := 0; n < trials; n++ {
		for i, d := range sp.Defaults(stream) {
			if d {
				counts[i]++
			}
		}
	}
	for i := range counts {
		counts[i] /= float64(trials)
	}
	return counts
}

func TestDefaults_ZeroCorrelationMatchesPD(t *testing.T) {
	p := &model.Portfolio{
		Credits: []model.Credit{
			cr("a", 100, 0.01, 0.5, "energy"),
			cr("b", 100, 0.05, 0.5, "energy"),
			cr("c", 100, 0.20, 0.5, "retail"),
		},
	}
	const trials = 100_000
	rates := defaultRates(t, p, trials, 1)
	for i, c := range p.Credits {
		tol := 4 * math.Sqrt(c.PD*(1-c.PD)/trials)
		assert.InDelta(t, c.PD, rates[i], tol, "obligor %s", c.ObligorID)
	}
}

func TestDefaults_CorrelatedMarginalsStillMatchPD(t *testing.T) {
	p := &model.Portfolio{
		GlobalRho: 0.2,
		Sectors:   []model.Sector{{ID: "energy", Rho: 0.5}, {ID: "retail", Rho: 0.3}},
		SectorCorrelation: [][]float64{
			{1, 0.4},
			{0.4, 1},
		},
		Credits: []model.Credit{
			cr("a", 100, 0.03, 0.5, "energy"),
			cr("b", 100, 0.10, 0.5, "retail"),
		},
	}
	const trials = 100_000
	rates := defaultRates(t, p, trials, 2)
	for i, c := range p.Credits {
		tol := 4 * math.Sqrt(c.PD*(1-c.PD)/trials)
		assert.InDelta(t, c.PD, rates[i], tol, "obligor %s", c.ObligorID)
	}
}

func TestDefaults_Boundaries(t *testing.T) {
	p := &model.Portfolio{
		GlobalRho: 0.4,
		Sectors:   []model.Sector{{ID: "s", Rho: 0.9}},
		Credits: []model.Credit{
			cr("never", 100, 0, 1, "s"),
			cr("always", 100, 1, 1, "s"),
			cr("free", 100, 1, 0, "s"),
		},
	}
	m, err := NewModel(p)
	require.NoError(t, err)
	sp := m.Sampler()
	s := rng.New(3)
	for n := 0; n < 10_000; n++ {
		d := sp.Defaults(s)
		require.False(t, d[0], "PD=0 obligor defaulted")
		require.True(t, d[1], "PD=1 obligor survived")
		require.True(t, d[2])
		require.Equal(t, 100.0, m.Loss(d), "LGD=0 obligor contributed loss")
	}
}

func TestModel_ClosedFormExpectedLoss(t *testing.T) {
	p := &model.Portfolio{Credits: []model.Credit{
		cr("a", 1_000_000, 0.02, 0.45, "x"),
		cr("b", 500, 1, 0.5, "x"),
		cr("c", 500, 0, 0.5, "x"),
	}}
	m, err := NewModel(p)
	require.NoError(t, err)
	assert.InDelta(t, 9000+250, m.ExpectedLoss(), 1e-6)
	assert.Equal(t, 1_001_000.0, m.TotalExposure())
}

func TestSimulate_SingleObligorScenario(t *testing.T) {
	p := &model.Portfolio{Credits: []model.Credit{cr("solo", 1_000_000, 0.02, 0.45, "corp")}}
	report, err := Simulate(context.Background(), p, model.CreditRun{
		Trials: 100_000, Confidence: 0.99, Seed: seed(2024),
	}, Options{})
	require.NoError(t, err)

	el := report.Metrics.ExpectedLoss.InexactFloat64()
	se := 450_000 * math.Sqrt(0.02*0.98/100_000)
	assert.InDelta(t, 9000, el, 4*se)

	// Loss is binary {0, 450000}; with ≈2% defaults the 99% quantile is the
	// default branch, and every loss at or above it equals it.
	assert.True(t, report.Metrics.ValueAtRisk.Equal(decimal.NewFromInt(450_000)),
		"VaR = %s", report.Metrics.ValueAtRisk)
	assert.True(t, report.Metrics.ExpectedShortfall.Equal(report.Metrics.ValueAtRisk))
	assert.True(t, report.TotalExposure.Equal(decimal.NewFromInt(1_000_000)))
	assert.False(t, report.Partial)
	assert.Equal(t, 100_000, report.CompletedTrials)
	assert.Equal(t, uint64(2024), report.Seed)
}

func TestSimulate_ExpectedLossConvergesZeroCorrelation(t *testing.T) {
	p := &model.Portfolio{Credits: []model.Credit{
		cr("a", 250_000, 0.01, 0.6, "x"),
		cr("b", 120_000, 0.04, 0.4, "y"),
		cr("c", 800_000, 0.002, 0.75, "y"),
		cr("d", 50_000, 0.15, 0.9, "z"),
	}}
	report, err := Simulate(context.Background(), p, model.CreditRun{
		Trials: 200_000, Confidence: 0.99, Seed: seed(9), KeepLosses: true,
	}, Options{BatchSize: 7_000})
	require.NoError(t, err)

	m, err := NewModel(p)
	require.NoError(t, err)

	var acc estimator.Accumulator
	for _, l := range report.Losses {
		acc.Add(l)
	}
	assert.InDelta(t, m.ExpectedLoss(), report.Metrics.ExpectedLoss.InexactFloat64(), 4*acc.StdError()+0.01)
	assert.Len(t, report.Convergence, 29) // ⌈200000/7000⌉
	assert.InDelta(t, acc.Mean(), report.Convergence[len(report.Convergence)-1], 1e-6)
}

func TestSimulate_MetricOrdering(t *testing.T) {
	p := homogeneous(100, 0.2)
	report, err := Simulate(context.Background(), p, model.CreditRun{
		Trials: 20_000, Confidence: 0.99, Seed: seed(1),
	}, Options{})
	require.NoError(t, err)
	assert.True(t, report.Metrics.ExpectedShortfall.GreaterThanOrEqual(report.Metrics.ValueAtRisk))
	assert.True(t, report.Metrics.ValueAtRisk.GreaterThanOrEqual(report.Metrics.ExpectedLoss))
}

func homogeneous(n int, rho float64) *model.Portfolio {
	p := &model.Portfolio{GlobalRho: rho}
	for i := 0; i < n; i++ {
		p.Credits = append(p.Credits, cr("o", 1, 0.02, 1, "all"))
	}
	return p
}

func TestSimulate_CorrelationFattensTail(t *testing.T) {
	run := model.CreditRun{Trials: 50_000, Confidence: 0.99, Seed: seed(5)}
	indep, err := Simulate(context.Background(), homogeneous(100, 0), run, Options{})
	require.NoError(t, err)
	corr, err := Simulate(context.Background(), homogeneous(100, 0.5), run, Options{})
	require.NoError(t, err)

	assert.True(t, corr.Metrics.ValueAtRisk.GreaterThan(indep.Metrics.ValueAtRisk),
		"ρ=0.5 VaR %s should exceed ρ=0 VaR %s", corr.Metrics.ValueAtRisk, indep.Metrics.ValueAtRisk)
	// Correlation does not move the mean.
	assert.InDelta(t, 2.0, indep.Metrics.ExpectedLoss.InexactFloat64(), 0.05)
	assert.InDelta(t, 2.0, corr.Metrics.ExpectedLoss.InexactFloat64(), 0.2)
}

func TestSimulate_ReproducibleAcrossWorkerCounts(t *testing.T) {
	p := &model.Portfolio{
		GlobalRho: 0.15,
		Sectors:   []model.Sector{{ID: "a", Rho: 0.3}, {ID: "b", Rho: 0.25}},
		Credits: []model.Credit{
			cr("1", 1000, 0.05, 0.5, "a"),
			cr("2", 2000, 0.02, 0.4, "b"),
			cr("3", 500, 0.10, 0.7, "a"),
		},
	}
	run := model.CreditRun{Trials: 30_000, Confidence: 0.975, Seed: seed(77), KeepLosses: true}

	r1, err := Simulate(context.Background(), p, run, Options{Workers: 1, BatchSize: 1_000})
	require.NoError(t, err)
	r2, err := Simulate(context.Background(), p, run, Options{Workers: 6, BatchSize: 1_000})
	require.NoError(t, err)

	assert.Equal(t, r1.Losses, r2.Losses)
	assert.Equal(t, r1.Metrics, r2.Metrics)
	assert.Equal(t, r1.Convergence, r2.Convergence)
	assert.Equal(t, r1.Histogram, r2.Histogram)
}

func TestSimulate_CancelledRunIsFlaggedPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snaps []model.Snapshot
	p := homogeneous(10, 0.1)
	report, err := Simulate(ctx, p, model.CreditRun{Trials: 100_000, Confidence: 0.99, Seed: seed(4)},
		Options{Workers: 1, BatchSize: 1_000, RunID: "r1", Observer: func(s model.Snapshot) {
			snaps = append(snaps, s)
			if len(snaps) == 3 {
				cancel()
			}
		}})

	require.ErrorIs(t, err, model.ErrPartialResult)
	require.NotNil(t, report)
	assert.True(t, report.Partial)
	assert.Equal(t, 100_000, report.RequestedTrials)
	assert.Equal(t, 3_000, report.CompletedTrials)
	assert.Equal(t, "r1", snaps[0].RunID)
	assert.Equal(t, model.EngineCredit, snaps[0].Engine)
	assert.Equal(t, 1_000, snaps[0].Completed)
}

func TestSimulate_CancelledBeforeAnyTrial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := Simulate(ctx, homogeneous(5, 0), model.CreditRun{Trials: 10_000, Confidence: 0.99}, Options{})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulate_ConfigurationErrors(t *testing.T) {
	valid := func() *model.Portfolio {
		return &model.Portfolio{
			GlobalRho: 0.1,
			Sectors:   []model.Sector{{ID: "a", Rho: 0.2}, {ID: "b", Rho: 0.3}},
			Credits:   []model.Credit{cr("1", 100, 0.1, 0.5, "a")},
		}
	}
	run := model.CreditRun{Trials: 100, Confidence: 0.99}

	tests := []struct {
		name   string
		mutate func(p *model.Portfolio, r *model.CreditRun)
		field  string
	}{
		{"no credits", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits = nil }, "credits"},
		{"zero exposure", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].Exposure = decimal.Zero }, "credits[0].exposure"},
		{"negative exposure", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].Exposure = decimal.NewFromInt(-1) }, "credits[0].exposure"},
		{"pd above one", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].PD = 1.2 }, "credits[0].pd"},
		{"pd negative", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].PD = -0.1 }, "credits[0].pd"},
		{"lgd above one", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].LGD = 1.5 }, "credits[0].lgd"},
		{"pd NaN", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].PD = math.NaN() }, "credits[0].pd"},
		{"unknown sector", func(p *model.Portfolio, _ *model.CreditRun) { p.Credits[0].Sector = "zz" }, "credits[0].sector"},
		{"global rho", func(p *model.Portfolio, _ *model.CreditRun) { p.GlobalRho = 1.1 }, "global_rho"},
		{"sector rho below global", func(p *model.Portfolio, _ *model.CreditRun) { p.Sectors[1].Rho = 0.05 }, "sectors[1].rho"},
		{"duplicate sector", func(p *model.Portfolio, _ *model.CreditRun) { p.Sectors[1].ID = "a" }, "sectors[1].id"},
		{"asymmetric correlation", func(p *model.Portfolio, _ *model.CreditRun) {
			p.SectorCorrelation = [][]float64{{1, 0.2}, {0.3, 1}}
		}, "sector_correlation"},
		{"trials", func(_ *model.Portfolio, r *model.CreditRun) { r.Trials = 0 }, "trials"},
		{"confidence", func(_ *model.Portfolio, r *model.CreditRun) { r.Confidence = 1 }, "confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r := valid(), run
			tt.mutate(p, &r)
			report, err := Simulate(context.Background(), p, r, Options{})
			assert.Nil(t, report)
			require.ErrorIs(t, err, model.ErrConfiguration)

			var cfg *model.ConfigError
			require.True(t, errors.As(err, &cfg))
			assert.Equal(t, tt.field, cfg.Field)
		})
	}
}

func TestRatingTable(t *testing.T) {
	table := RatingTable{
		"AAA": {1: 0.0001, 3: 0.0005, 5: 0.001},
		"BB":  {1: 0.01, 3: 0.04},
	}
	assert.Equal(t, 0.0005, table.PD("AAA", 3))
	assert.Equal(t, 0.0005, table.PD(" AAA ", 3))
	assert.Equal(t, 0.04, table.PD("BB", 5), "missing horizon falls back to 3Y")
	assert.Equal(t, 0.04, table.PD("BB", 10))
	assert.Equal(t, FallbackPD, table.PD("CCC", 1))
	assert.Equal(t, []string{"AAA", "BB"}, table.Ratings())
}
