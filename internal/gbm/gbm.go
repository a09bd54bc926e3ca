// Package gbm simulates risk-neutral geometric Brownian motion paths for one
// or more correlated underlyings.
//
// Each step applies the exact log-space update
//
//	S_{t+Δ} = S_t · exp((r − σ²/2)Δ + σ√Δ·Z)
//
// on a grid that contains every observation date and the maturity, so
// observed prices are never interpolated.
package gbm

import (
	"fmt"
	"math"
	"sort"

	"github.com/atmx/risk-engine/internal/correlation"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/rng"
)

// DefaultSteps is the number of uniform steps per path when none is set,
// one per trading day of a one-year maturity.
const DefaultSteps = 252

// gridTolerance merges grid points closer than this (in years).
const gridTolerance = 1e-12

// Underlying is one asset's initial spot and volatility.
type Underlying struct {
	Spot       float64
	Volatility float64
}

// Config describes the market and the simulation grid.
type Config struct {
	Underlyings []Underlying
	Rate        float64
	Correlation [][]float64 // nil → independent underlyings
	Maturity    float64     // years
	Schedule    []float64   // observation times in (0, Maturity], strictly increasing
	Steps       int         // uniform steps added to the grid, 0 → DefaultSteps
}

// Simulator generates paths for a fixed Config. It is immutable and safe for
// concurrent use; each worker supplies its own Path and Stream.
type Simulator struct {
	spots    []float64
	vols     []float64
	rate     float64
	maturity float64
	schedule []float64
	factor   *correlation.Factor

	// Per step k: drift[k][i] = (r − σ_i²/2)Δ_k, diffusion[k][i] = σ_i√Δ_k.
	drift     [][]float64
	diffusion [][]float64
	// observe[k] is the schedule index recorded after step k, or -1.
	observe []int
}

// New validates cfg and precomputes the grid.
func New(cfg Config) (*Simulator, error) {
	n := len(cfg.Underlyings)
	if n == 0 {
		return nil, model.Invalid("underlyings", "at least one underlying is required")
	}
	s := &Simulator{
		spots:    make([]float64, n),
		vols:     make([]float64, n),
		rate:     cfg.Rate,
		maturity: cfg.Maturity,
	}
	for i, u := range cfg.Underlyings {
		if !(u.Spot > 0) || math.IsInf(u.Spot, 0) {
			return nil, model.Invalid(fmt.Sprintf("underlyings[%d].spot", i), "must be positive and finite, got %v", u.Spot)
		}
		if math.IsNaN(u.Volatility) || u.Volatility < 0 || math.IsInf(u.Volatility, 0) {
			return nil, model.Invalid(fmt.Sprintf("underlyings[%d].volatility", i), "must be finite and non-negative, got %v", u.Volatility)
		}
		s.spots[i] = u.Spot
		s.vols[i] = u.Volatility
	}
	if !(cfg.Maturity > 0) || math.IsInf(cfg.Maturity, 0) {
		return nil, model.Invalid("maturity", "must be positive and finite, got %v", cfg.Maturity)
	}
	if math.IsNaN(cfg.Rate) || math.IsInf(cfg.Rate, 0) {
		return nil, model.Invalid("rate", "must be finite, got %v", cfg.Rate)
	}
	if df := math.Exp(-cfg.Rate * cfg.Maturity); df == 0 || math.IsInf(df, 0) {
		return nil, model.Invalid("rate", "discount factor exp(-r·T) is not finite and positive for r=%v, T=%v", cfg.Rate, cfg.Maturity)
	}
	if err := validateSchedule(cfg.Schedule, cfg.Maturity); err != nil {
		return nil, err
	}
	s.schedule = append([]float64(nil), cfg.Schedule...)

	steps := cfg.Steps
	if steps < 0 {
		return nil, model.Invalid("steps", "must not be negative, got %d", steps)
	}
	if steps == 0 {
		steps = DefaultSteps
	}

	factor, err := correlation.NewFactor(cfg.Correlation, n)
	if err != nil {
		return nil, model.InvalidErr("correlation", err)
	}
	s.factor = factor

	s.buildGrid(steps)
	return s, nil
}

func validateSchedule(schedule []float64, maturity float64) error {
	prev := 0.0
	for j, t := range schedule {
		field := fmt.Sprintf("schedule[%d]", j)
		switch {
		case math.IsNaN(t) || t <= 0:
			return model.Invalid(field, "observation time must be positive, got %v", t)
		case t <= prev:
			return model.Invalid(field, "schedule must be strictly increasing (%v after %v)", t, prev)
		case j > 0 && t-prev <= gridTolerance:
			return model.Invalid(field, "observation times must be more than %g apart (%v after %v)", gridTolerance, t, prev)
		case t > maturity+gridTolerance:
			return model.Invalid(field, "observation time %v exceeds maturity %v", t, maturity)
		}
		prev = t
	}
	return nil
}

// buildGrid merges the uniform steps with the schedule and maturity.
func (s *Simulator) buildGrid(steps int) {
	times := make([]float64, 0, steps+len(s.schedule)+1)
	for k := 1; k <= steps; k++ {
		times = append(times, s.maturity*float64(k)/float64(steps))
	}
	times = append(times, s.schedule...)
	times = append(times, s.maturity)
	sort.Float64s(times)

	grid := times[:0]
	for _, t := range times {
		if len(grid) > 0 && t-grid[len(grid)-1] <= gridTolerance {
			continue
		}
		grid = append(grid, t)
	}

	n := len(s.spots)
	s.drift = make([][]float64, len(grid))
	s.diffusion = make([][]float64, len(grid))
	s.observe = make([]int, len(grid))

	prev, next := 0.0, 0
	for k, t := range grid {
		dt := t - prev
		s.drift[k] = make([]float64, n)
		s.diffusion[k] = make([]float64, n)
		for i, v := range s.vols {
			s.drift[k][i] = (s.rate - 0.5*v*v) * dt
			s.diffusion[k][i] = v * math.Sqrt(dt)
		}
		s.observe[k] = -1
		if next < len(s.schedule) && math.Abs(s.schedule[next]-t) <= gridTolerance {
			s.observe[k] = next
			next++
		}
		prev = t
	}
}

// Underlyings returns the number of simulated assets.
func (s *Simulator) Underlyings() int { return len(s.spots) }

// Steps returns the number of grid steps per path.
func (s *Simulator) Steps() int { return len(s.drift) }

// Maturity returns T in years.
func (s *Simulator) Maturity() float64 { return s.maturity }

// Rate returns the risk-free rate.
func (s *Simulator) Rate() float64 { return s.rate }

// Schedule returns the observation times. Callers must not modify it.
func (s *Simulator) Schedule() []float64 { return s.schedule }

// Spot returns S_i(0).
func (s *Simulator) Spot(i int) float64 { return s.spots[i] }

// Volatility returns σ_i.
func (s *Simulator) Volatility(i int) float64 { return s.vols[i] }

// Discount returns e^{-r·t}.
func (s *Simulator) Discount(t float64) float64 { return math.Exp(-s.rate * t) }

// Path holds one trial's prices. Observed[i][j] is underlying i at
// Schedule()[j]; Terminal[i] is underlying i at maturity.
type Path struct {
	Initial  []float64
	Observed [][]float64
	Terminal []float64

	logS  []float64
	indep []float64
	z     []float64
}

// NewPath allocates a reusable path buffer for s.
func (s *Simulator) NewPath() *Path {
	n := len(s.spots)
	p := &Path{
		Initial:  append([]float64(nil), s.spots...),
		Observed: make([][]float64, n),
		Terminal: make([]float64, n),
		logS:     make([]float64, n),
		indep:    make([]float64, n),
		z:        make([]float64, n),
	}
	for i := range p.Observed {
		p.Observed[i] = make([]float64, len(s.schedule))
	}
	return p
}

// Simulate overwrites p with a fresh trial drawn from st. Per step it draws
// one normal per underlying, in underlying order. A recorded price that is
// not finite and positive is reported as a *model.NumericalError and leaves
// p unusable for this trial.
func (s *Simulator) Simulate(st *rng.Stream, p *Path) error {
	for i, s0 := range s.spots {
		p.logS[i] = math.Log(s0)
	}
	for k := range s.drift {
		st.Normals(p.indep)
		s.factor.Apply(p.z, p.indep)
		drift, diff := s.drift[k], s.diffusion[k]
		for i := range p.logS {
			p.logS[i] += drift[i] + diff[i]*p.z[i]
		}
		if j := s.observe[k]; j >= 0 {
			for i, ls := range p.logS {
				v, err := price(ls, i)
				if err != nil {
					return err
				}
				p.Observed[i][j] = v
			}
		}
	}
	for i, ls := range p.logS {
		v, err := price(ls, i)
		if err != nil {
			return err
		}
		p.Terminal[i] = v
	}
	return nil
}

// price maps a log price back to a price. Payoffs divide by recorded
// prices, so a price that overflowed or underflowed to zero is rejected.
func price(logS float64, i int) (float64, error) {
	v := math.Exp(logS)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, &model.NumericalError{Op: fmt.Sprintf("gbm path of underlying %d", i), Value: v}
	}
	return v, nil
}
