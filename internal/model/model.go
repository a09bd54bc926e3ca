// Package model defines the value objects shared by the simulation engines
// and the API layer. Money crosses the API edge as shopspring/decimal; the
// engines themselves work in float64 and convert at the boundary.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places reported for monetary results.
const MoneyScale int32 = 2

// Engine names used in snapshots, metrics labels and job records.
const (
	EngineCredit = "credit"
	EngineOption = "option"
)

// Credit is one obligor in a portfolio. Immutable once loaded.
type Credit struct {
	ObligorID string          `json:"obligor_id" db:"obligor_id"`
	Exposure  decimal.Decimal `json:"exposure" db:"exposure"`
	PD        float64         `json:"pd" db:"pd"`   // horizon default probability, [0,1]
	LGD       float64         `json:"lgd" db:"lgd"` // loss given default, [0,1]
	Sector    string          `json:"sector" db:"sector"`
	Rating    string          `json:"rating,omitempty" db:"rating"`
}

// Sector is a systematic risk bucket. Rho is the asset correlation between
// two obligors of the same sector and must satisfy GlobalRho <= Rho <= 1.
type Sector struct {
	ID  string  `json:"id"`
	Rho float64 `json:"rho"`
}

// Portfolio is an ordered set of credits plus the dependence structure used
// by the Gaussian copula. SectorCorrelation is indexed like Sectors; nil
// means independent sector factors.
type Portfolio struct {
	ID                string      `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	Credits           []Credit    `json:"credits"`
	Sectors           []Sector    `json:"sectors"`
	SectorCorrelation [][]float64 `json:"sector_correlation,omitempty"`
	GlobalRho         float64     `json:"global_rho" db:"global_rho"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// TotalExposure returns Σ exposure over all credits.
func (p *Portfolio) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, c := range p.Credits {
		total = total.Add(c.Exposure)
	}
	return total
}

// PortfolioSummary is the catalog listing entry of a portfolio.
type PortfolioSummary struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Credits       int             `json:"credits" db:"credits"`
	TotalExposure decimal.Decimal `json:"total_exposure" db:"total_exposure"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Summary returns the listing entry of p.
func (p *Portfolio) Summary() PortfolioSummary {
	return PortfolioSummary{
		ID:            p.ID,
		Name:          p.Name,
		Credits:       len(p.Credits),
		TotalExposure: p.TotalExposure(),
		CreatedAt:     p.CreatedAt,
	}
}

// CreditRun configures one credit simulation.
type CreditRun struct {
	Trials     int     `json:"trials"`
	Confidence float64 `json:"confidence"`
	Seed       *uint64 `json:"seed,omitempty"`
	Bins       int     `json:"bins,omitempty"`        // histogram bins, 0 → default
	KeepLosses bool    `json:"keep_losses,omitempty"` // return the full LossSample
}

// RiskMetrics is computed once per LossSample and never mutated.
type RiskMetrics struct {
	Confidence        float64         `json:"confidence"`
	ExpectedLoss      decimal.Decimal `json:"expected_loss"`
	ValueAtRisk       decimal.Decimal `json:"value_at_risk"`
	ExpectedShortfall decimal.Decimal `json:"expected_shortfall"`
}

// HistogramBin is one fixed-width bucket [Lower, Upper) of a distribution;
// the last bin is closed on the right.
type HistogramBin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// RunInfo describes how a run was executed. Partial is set whenever fewer
// trials than requested contributed to the result.
type RunInfo struct {
	Seed            uint64 `json:"seed"`
	RequestedTrials int    `json:"requested_trials"`
	CompletedTrials int    `json:"completed_trials"`
	Partial         bool   `json:"partial"`
}

// CreditReport is the output of the credit engine.
type CreditReport struct {
	RunInfo
	Metrics       RiskMetrics     `json:"metrics"`
	TotalExposure decimal.Decimal `json:"total_exposure"`
	Histogram     []HistogramBin  `json:"histogram"`
	Convergence   []float64       `json:"convergence"` // running mean loss, one point per batch
	Losses        []float64       `json:"losses,omitempty"`
}

// PriceEstimate summarises the discounted payoffs of an option run.
type PriceEstimate struct {
	Price       float64   `json:"price"`
	StdError    float64   `json:"std_error"`
	CILower     float64   `json:"ci_lower"`
	CIUpper     float64   `json:"ci_upper"`
	Trials      int       `json:"trials"`
	Convergence []float64 `json:"convergence"` // running mean, one point per batch
}

// OptionReport is the output of the option engine.
type OptionReport struct {
	RunInfo
	Variant   string         `json:"variant"`
	Estimate  PriceEstimate  `json:"estimate"`
	Analytic  *float64       `json:"analytic,omitempty"` // closed form, when one exists
	Histogram []HistogramBin `json:"histogram,omitempty"`
}

// Snapshot is a progress notification emitted at batch boundaries.
type Snapshot struct {
	RunID     string  `json:"run_id,omitempty"`
	Engine    string  `json:"engine"`
	Completed int     `json:"completed"`
	Requested int     `json:"requested"`
	Mean      float64 `json:"mean"`
	StdError  float64 `json:"std_error"`
}

// ContractRecord is a named option contract stored in the catalog. Spec is
// the raw boundary record; it is decoded and validated by package contract.
type ContractRecord struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Spec      json.RawMessage `json:"spec" db:"spec"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
