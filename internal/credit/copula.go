// Package credit simulates correlated defaults in a credit portfolio with a
// two-level Gaussian copula and aggregates them into a loss distribution.
//
// For obligor i in sector s the latent variable is
//
//	X_i = √ρ_g·Z_g + √(ρ_s−ρ_g)·Z_s + √(1−ρ_s)·ε_i
//
// where Z_g is the global factor, Z_s the sector factor (sector factors are
// correlated among themselves, independent of Z_g), and ε_i idiosyncratic.
// Var(X_i) = 1, so default on X_i ≤ Φ⁻¹(PD_i) reproduces PD_i exactly.
package credit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/correlation"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/rng"
)

type defaultMode uint8

const (
	modeThreshold defaultMode = iota
	modeNever
	modeAlways
)

type obligor struct {
	sector    int
	mode      defaultMode
	threshold float64
	loss      float64 // exposure × LGD
}

// Model is a validated, compiled portfolio. Immutable; safe for concurrent
// use by several Samplers.
type Model struct {
	obligors      []obligor
	globalLoad    float64
	sectorLoad    []float64
	idioLoad      []float64
	factor        *correlation.Factor
	totalExposure float64
}

// NewModel validates p and precomputes default thresholds and factor
// loadings. Every violation is reported as a *model.ConfigError naming the
// offending field.
func NewModel(p *model.Portfolio) (*Model, error) {
	if p == nil || len(p.Credits) == 0 {
		return nil, model.Invalid("credits", "portfolio has no credits")
	}
	if math.IsNaN(p.GlobalRho) || p.GlobalRho < 0 || p.GlobalRho > 1 {
		return nil, model.Invalid("global_rho", "must lie in [0,1], got %v", p.GlobalRho)
	}

	sectors, index, err := resolveSectors(p)
	if err != nil {
		return nil, err
	}

	if len(p.Sectors) == 0 && p.SectorCorrelation != nil {
		return nil, model.Invalid("sector_correlation", "requires an explicit sectors list")
	}
	factor, err := correlation.NewFactor(p.SectorCorrelation, len(sectors))
	if err != nil {
		return nil, model.InvalidErr("sector_correlation", err)
	}

	m := &Model{
		obligors:   make([]obligor, len(p.Credits)),
		globalLoad: math.Sqrt(p.GlobalRho),
		sectorLoad: make([]float64, len(sectors)),
		idioLoad:   make([]float64, len(sectors)),
		factor:     factor,
	}
	for i, s := range sectors {
		m.sectorLoad[i] = math.Sqrt(math.Max(s.Rho-p.GlobalRho, 0))
		m.idioLoad[i] = math.Sqrt(math.Max(1-s.Rho, 0))
	}

	for i, c := range p.Credits {
		field := fmt.Sprintf("credits[%d]", i)
		exposure := c.Exposure.InexactFloat64()
		if !(exposure > 0) || math.IsInf(exposure, 0) {
			return nil, model.Invalid(field+".exposure", "must be positive, got %s", c.Exposure)
		}
		if math.IsNaN(c.PD) || c.PD < 0 || c.PD > 1 {
			return nil, model.Invalid(field+".pd", "must lie in [0,1], got %v", c.PD)
		}
		if math.IsNaN(c.LGD) || c.LGD < 0 || c.LGD > 1 {
			return nil, model.Invalid(field+".lgd", "must lie in [0,1], got %v", c.LGD)
		}
		s, ok := index[c.Sector]
		if !ok {
			return nil, model.Invalid(field+".sector", "unknown sector %q", c.Sector)
		}

		o := obligor{sector: s, loss: exposure * c.LGD}
		o.mode, o.threshold = threshold(c.PD)
		m.obligors[i] = o
		m.totalExposure += exposure
	}
	return m, nil
}

// resolveSectors returns the ordered sector list and an id → index map.
// When the portfolio lists no sectors, each distinct credit sector becomes a
// sector with ρ_s = ρ_g (no sector effect) and independent factors.
func resolveSectors(p *model.Portfolio) ([]model.Sector, map[string]int, error) {
	index := make(map[string]int)
	if len(p.Sectors) == 0 {
		var sectors []model.Sector
		for _, c := range p.Credits {
			if _, ok := index[c.Sector]; !ok {
				index[c.Sector] = len(sectors)
				sectors = append(sectors, model.Sector{ID: c.Sector, Rho: p.GlobalRho})
			}
		}
		return sectors, index, nil
	}

	for i, s := range p.Sectors {
		field := fmt.Sprintf("sectors[%d]", i)
		if _, dup := index[s.ID]; dup {
			return nil, nil, model.Invalid(field+".id", "duplicate sector %q", s.ID)
		}
		if math.IsNaN(s.Rho) || s.Rho < p.GlobalRho || s.Rho > 1 {
			return nil, nil, model.Invalid(field+".rho", "must lie in [global_rho, 1] = [%v, 1], got %v", p.GlobalRho, s.Rho)
		}
		index[s.ID] = i
	}
	return p.Sectors, index, nil
}

// threshold maps PD to Φ⁻¹(PD). PD = 0 and PD = 1 never reach the inverse
// CDF; they become never/always-default obligors.
func threshold(pd float64) (defaultMode, float64) {
	switch {
	case pd <= 0:
		return modeNever, math.Inf(-1)
	case pd >= 1:
		return modeAlways, math.Inf(1)
	}
	q := distuv.UnitNormal.Quantile(pd)
	switch {
	case math.IsInf(q, -1):
		return modeNever, q
	case math.IsInf(q, 1):
		return modeAlways, q
	}
	return modeThreshold, q
}

// Obligors returns the number of credits in the model.
func (m *Model) Obligors() int { return len(m.obligors) }

// Sectors returns the number of sector factors.
func (m *Model) Sectors() int { return len(m.sectorLoad) }

// TotalExposure returns Σ exposure.
func (m *Model) TotalExposure() float64 { return m.totalExposure }

// ExpectedLoss returns the closed-form Σ exposure·LGD·PD.
func (m *Model) ExpectedLoss() float64 {
	var el float64
	for _, o := range m.obligors {
		switch o.mode {
		case modeAlways:
			el += o.loss
		case modeThreshold:
			el += o.loss * distuv.UnitNormal.CDF(o.threshold)
		}
	}
	return el
}

// Sampler draws default scenarios for one worker. Not safe for concurrent
// use.
type Sampler struct {
	m        *Model
	indep    []float64
	sector   []float64
	defaults []bool
}

// Sampler returns a new per-worker sampler.
func (m *Model) Sampler() *Sampler {
	n := m.Sectors()
	return &Sampler{
		m:        m,
		indep:    make([]float64, n),
		sector:   make([]float64, n),
		defaults: make([]bool, len(m.obligors)),
	}
}

// Defaults simulates one trial and returns the default indicator per
// obligor. The slice is reused by the next call.
//
// Draw order per trial is fixed: Z_g, the independent sector draws, then one
// ε per obligor (drawn even for PD ∈ {0,1} so stream positions do not depend
// on the PDs).
func (sp *Sampler) Defaults(s *rng.Stream) []bool {
	m := sp.m
	zg := s.Normal()
	s.Normals(sp.indep)
	m.factor.Apply(sp.sector, sp.indep)

	for i, o := range m.obligors {
		eps := s.Normal()
		switch o.mode {
		case modeNever:
			sp.defaults[i] = false
		case modeAlways:
			sp.defaults[i] = true
		default:
			x := m.globalLoad*zg + m.sectorLoad[o.sector]*sp.sector[o.sector] + m.idioLoad[o.sector]*eps
			sp.defaults[i] = x <= o.threshold
		}
	}
	return sp.defaults
}

// Loss aggregates one trial: Σ exposure_i·LGD_i·1{default_i}.
func (m *Model) Loss(defaults []bool) float64 {
	var loss float64
	for i, d := range defaults {
		if d {
			loss += m.obligors[i].loss
		}
	}
	return loss
}

// Trial simulates one trial and returns its portfolio loss.
func (sp *Sampler) Trial(s *rng.Stream) float64 {
	return sp.m.Loss(sp.Defaults(s))
}
