package gbm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/rng"
)

func single(spot, vol float64) []Underlying {
	return []Underlying{{Spot: spot, Volatility: vol}}
}

func TestNew_GridIncludesScheduleAndMaturity(t *testing.T) {
	s, err := New(Config{
		Underlyings: single(100, 0.2),
		Rate:        0.01,
		Maturity:    1,
		Schedule:    []float64{0.25, 1.0 / 3, 0.5},
		Steps:       4,
	})
	require.NoError(t, err)
	// {0.25, 0.5, 0.75, 1} ∪ {1/3}
	assert.Equal(t, 5, s.Steps())
	assert.Equal(t, []float64{0.25, 1.0 / 3, 0.5}, s.Schedule())
}

func TestNew_DefaultSteps(t *testing.T) {
	s, err := New(Config{Underlyings: single(100, 0.2), Maturity: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultSteps, s.Steps())
}

func TestSimulate_ZeroVolatilityIsDeterministic(t *testing.T) {
	s, err := New(Config{
		Underlyings: single(100, 0),
		Rate:        0.05,
		Maturity:    2,
		Schedule:    []float64{0.5, 1.5},
		Steps:       10,
	})
	require.NoError(t, err)

	p := s.NewPath()
	require.NoError(t, s.Simulate(rng.New(1), p))
	assert.InDelta(t, 100*math.Exp(0.05*0.5), p.Observed[0][0], 1e-9)
	assert.InDelta(t, 100*math.Exp(0.05*1.5), p.Observed[0][1], 1e-9)
	assert.InDelta(t, 100*math.Exp(0.05*2), p.Terminal[0], 1e-9)
	assert.Equal(t, []float64{100}, p.Initial)
}

func TestSimulate_TerminalMeanIsForward(t *testing.T) {
	s, err := New(Config{Underlyings: single(100, 0.3), Rate: 0.03, Maturity: 1, Steps: 12})
	require.NoError(t, err)

	const n = 50_000
	st := rng.New(11)
	p := s.NewPath()
	xs := make([]float64, n)
	for k := range xs {
		require.NoError(t, s.Simulate(st, p))
		xs[k] = p.Terminal[0]
	}
	mean, std := stat.MeanStdDev(xs, nil)
	assert.InDelta(t, 100*math.Exp(0.03), mean, 4*std/math.Sqrt(n))
}

func TestSimulate_CorrelatedUnderlyings(t *testing.T) {
	s, err := New(Config{
		Underlyings: []Underlying{{Spot: 100, Volatility: 0.2}, {Spot: 50, Volatility: 0.4}},
		Correlation: [][]float64{{1, 0.8}, {0.8, 1}},
		Maturity:    1,
		Steps:       1,
	})
	require.NoError(t, err)

	const n = 20_000
	st := rng.New(5)
	p := s.NewPath()
	a, b := make([]float64, n), make([]float64, n)
	for k := 0; k < n; k++ {
		require.NoError(t, s.Simulate(st, p))
		a[k] = math.Log(p.Terminal[0] / 100)
		b[k] = math.Log(p.Terminal[1] / 50)
	}
	assert.InDelta(t, 0.8, stat.Correlation(a, b, nil), 0.02)
}

func TestSimulate_Reproducible(t *testing.T) {
	s, err := New(Config{Underlyings: single(100, 0.25), Maturity: 1, Schedule: []float64{0.5}})
	require.NoError(t, err)

	p1, p2 := s.NewPath(), s.NewPath()
	require.NoError(t, s.Simulate(rng.New(99), p1))
	require.NoError(t, s.Simulate(rng.New(99), p2))
	assert.Equal(t, p1.Observed, p2.Observed)
	assert.Equal(t, p1.Terminal, p2.Terminal)
}

func TestSimulate_OverflowIsNumericalError(t *testing.T) {
	s, err := New(Config{Underlyings: single(1e300, 0), Rate: 700, Maturity: 1, Steps: 1})
	require.NoError(t, err)

	err = s.Simulate(rng.New(1), s.NewPath())
	require.ErrorIs(t, err, model.ErrNumerical)
}

func TestSimulate_ObservedUnderflowIsNumericalError(t *testing.T) {
	// log S(0.5) ≈ −2500: the observed price underflows to zero.
	s, err := New(Config{Underlyings: single(100, 100), Maturity: 1, Schedule: []float64{0.5, 1}, Steps: 1})
	require.NoError(t, err)

	p := s.NewPath()
	for seed := uint64(1); seed <= 20; seed++ {
		err := s.Simulate(rng.New(seed), p)
		require.ErrorIs(t, err, model.ErrNumerical, "seed %d", seed)
		var numErr *model.NumericalError
		require.True(t, errors.As(err, &numErr))
		assert.Equal(t, 0.0, numErr.Value)
	}
}

func TestSimulate_EveryObservationIsRecorded(t *testing.T) {
	s, err := New(Config{
		Underlyings: single(100, 0.2),
		Maturity:    1,
		Schedule:    []float64{0.5, 0.5 + 1e-9, 1},
		Steps:       1,
	})
	require.NoError(t, err)

	p := s.NewPath()
	require.NoError(t, s.Simulate(rng.New(3), p))
	for j, v := range p.Observed[0] {
		assert.Greater(t, v, 0.0, "observation %d not recorded", j)
	}
	assert.Equal(t, p.Terminal[0], p.Observed[0][2])
}

func TestNew_ConfigurationErrors(t *testing.T) {
	valid := func() Config {
		return Config{
			Underlyings: single(100, 0.2),
			Rate:        0.02,
			Maturity:    1,
			Schedule:    []float64{0.5, 1},
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"no underlyings", func(c *Config) { c.Underlyings = nil }, "underlyings"},
		{"zero spot", func(c *Config) { c.Underlyings[0].Spot = 0 }, "underlyings[0].spot"},
		{"negative vol", func(c *Config) { c.Underlyings[0].Volatility = -0.1 }, "underlyings[0].volatility"},
		{"zero maturity", func(c *Config) { c.Maturity = 0 }, "maturity"},
		{"NaN rate", func(c *Config) { c.Rate = math.NaN() }, "rate"},
		{"discount factor underflow", func(c *Config) { c.Rate = 1e6 }, "rate"},
		{"decreasing schedule", func(c *Config) { c.Schedule = []float64{0.5, 0.4} }, "schedule[1]"},
		{"duplicate schedule", func(c *Config) { c.Schedule = []float64{0.5, 0.5} }, "schedule[1]"},
		{"schedule within grid tolerance", func(c *Config) { c.Schedule = []float64{0.5, 0.5 + 5e-13, 1} }, "schedule[1]"},
		{"schedule past maturity", func(c *Config) { c.Schedule = []float64{0.5, 1.5} }, "schedule[1]"},
		{"non-positive observation", func(c *Config) { c.Schedule = []float64{0} }, "schedule[0]"},
		{"negative steps", func(c *Config) { c.Steps = -1 }, "steps"},
		{"bad correlation", func(c *Config) { c.Correlation = [][]float64{{1, 0.5}, {0.5, 1}} }, "correlation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			_, err := New(c)
			require.ErrorIs(t, err, model.ErrConfiguration)

			var cfg *model.ConfigError
			require.True(t, errors.As(err, &cfg))
			assert.Equal(t, tt.field, cfg.Field)
		})
	}
}
