// Package payoff evaluates option contracts on simulated price paths.
//
// Contract is a closed sum type: European, Tunnel, Himalaya and Napoleon are
// its only implementations, and each carries only the terms it uses. A
// payoff sees exactly one path and returns the payoff discounted to t = 0.
package payoff

import (
	"fmt"
	"math"

	"github.com/atmx/risk-engine/internal/gbm"
	"github.com/atmx/risk-engine/internal/model"
)

// Variant names the contract kind.
type Variant string

const (
	VariantEuropean Variant = "european"
	VariantTunnel   Variant = "tunnel"
	VariantHimalaya Variant = "himalaya"
	VariantNapoleon Variant = "napoleon"
)

// Timeline is the part of the simulation grid a payoff depends on.
// *gbm.Simulator implements it.
type Timeline interface {
	Maturity() float64
	Schedule() []float64
	Underlyings() int
	Discount(t float64) float64
}

// Contract is one of *European, *Tunnel, *Himalaya, *Napoleon.
type Contract interface {
	Variant() Variant
	// Validate checks the contract terms against the simulation timeline.
	Validate(tl Timeline) error
	// Discounted returns the payoff of path p discounted to t = 0.
	Discounted(p *gbm.Path, tl Timeline) float64

	sealed()
}

// Kind selects call or put.
type Kind string

const (
	Call Kind = "call"
	Put  Kind = "put"
)

func intrinsic(kind Kind, spot, strike float64) float64 {
	if kind == Put {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

func checkStrike(strike float64) error {
	if math.IsNaN(strike) || strike < 0 || math.IsInf(strike, 0) {
		return model.Invalid("strike", "must be finite and non-negative, got %v", strike)
	}
	return nil
}

func checkNotional(n float64) error {
	if !(n > 0) || math.IsInf(n, 0) {
		return model.Invalid("notional", "must be positive and finite, got %v", n)
	}
	return nil
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Invalid(field, "must be finite, got %v", v)
	}
	return nil
}

// European pays max(S_T − K, 0) (call) or max(K − S_T, 0) (put) on the
// first underlying at maturity.
type European struct {
	Kind   Kind
	Strike float64
}

func (*European) Variant() Variant { return VariantEuropean }
func (*European) sealed()          {}

func (c *European) Validate(tl Timeline) error {
	if c.Kind != Call && c.Kind != Put {
		return model.Invalid("kind", "must be %q or %q, got %q", Call, Put, c.Kind)
	}
	return checkStrike(c.Strike)
}

func (c *European) Discounted(p *gbm.Path, tl Timeline) float64 {
	return intrinsic(c.Kind, p.Terminal[0], c.Strike) * tl.Discount(tl.Maturity())
}

// TunnelScaling selects how time spent inside the tunnel is paid.
type TunnelScaling string

const (
	// TunnelLinear pays Notional × fraction of observations inside bounds.
	TunnelLinear TunnelScaling = "linear"
	// TunnelBinary pays Notional iff every observation is inside bounds.
	TunnelBinary TunnelScaling = "binary"
	// TunnelKnockout pays max(S_T − Strike, 0) iff every observation is
	// inside bounds, and nothing otherwise.
	TunnelKnockout TunnelScaling = "knockout"
)

// Tunnel rewards the first underlying staying within [Lower, Upper] on every
// observation date. Bounds are inclusive.
type Tunnel struct {
	Lower    float64
	Upper    float64
	Scaling  TunnelScaling
	Notional float64 // linear and binary
	Strike   float64 // knockout
}

func (*Tunnel) Variant() Variant { return VariantTunnel }
func (*Tunnel) sealed()          {}

func (c *Tunnel) Validate(tl Timeline) error {
	if len(tl.Schedule()) == 0 {
		return model.Invalid("schedule", "tunnel requires at least one observation date")
	}
	if err := checkFinite("lower", c.Lower); err != nil {
		return err
	}
	if err := checkFinite("upper", c.Upper); err != nil {
		return err
	}
	if c.Lower < 0 {
		return model.Invalid("lower", "must not be negative, got %v", c.Lower)
	}
	if c.Upper <= c.Lower {
		return model.Invalid("upper", "must exceed lower bound %v, got %v", c.Lower, c.Upper)
	}
	switch c.Scaling {
	case TunnelLinear, TunnelBinary:
		return checkNotional(c.Notional)
	case TunnelKnockout:
		return checkStrike(c.Strike)
	default:
		return model.Invalid("scaling", "must be one of linear, binary, knockout, got %q", c.Scaling)
	}
}

func (c *Tunnel) Discounted(p *gbm.Path, tl Timeline) float64 {
	obs := p.Observed[0]
	inside := 0
	for _, s := range obs {
		if s >= c.Lower && s <= c.Upper {
			inside++
		}
	}

	var v float64
	switch c.Scaling {
	case TunnelLinear:
		v = c.Notional * float64(inside) / float64(len(obs))
	case TunnelBinary:
		if inside == len(obs) {
			v = c.Notional
		}
	case TunnelKnockout:
		if inside == len(obs) {
			v = intrinsic(Call, p.Terminal[0], c.Strike)
		}
	}
	return v * tl.Discount(tl.Maturity())
}

// Himalaya is a mountain-range option. At each observation date the best
// performing underlying still in the pool is locked in and removed; the
// payoff at maturity is Notional × Σ locked performances, where performance
// is S_i(t_j)/S_i(0) − 1. Dates after the pool is exhausted contribute zero.
type Himalaya struct {
	Notional float64
	// FloorAtZero pays max(0, sum) instead of the possibly negative sum.
	FloorAtZero bool
}

func (*Himalaya) Variant() Variant { return VariantHimalaya }
func (*Himalaya) sealed()          {}

func (c *Himalaya) Validate(tl Timeline) error {
	if len(tl.Schedule()) == 0 {
		return model.Invalid("schedule", "himalaya requires at least one observation date")
	}
	return checkNotional(c.Notional)
}

func (c *Himalaya) Discounted(p *gbm.Path, tl Timeline) float64 {
	n := len(p.Initial)
	taken := make([]bool, n)
	var sum float64
	for j := range tl.Schedule() {
		if j >= n {
			break
		}
		best, bestPerf := -1, math.Inf(-1)
		for i := 0; i < n; i++ {
			if taken[i] {
				continue
			}
			if perf := p.Observed[i][j]/p.Initial[i] - 1; perf > bestPerf {
				best, bestPerf = i, perf
			}
		}
		taken[best] = true
		sum += bestPerf
	}
	v := c.Notional * sum
	if c.FloorAtZero {
		v = math.Max(v, 0)
	}
	return v * tl.Discount(tl.Maturity())
}

// NapoleonTiming selects when coupons are paid.
type NapoleonTiming string

const (
	// PaidAtMaturity sums the coupons and pays them at T.
	PaidAtMaturity NapoleonTiming = "maturity"
	// PaidPerPeriod pays each coupon at the end of its period (cliquet).
	PaidPerPeriod NapoleonTiming = "per_period"
)

// Napoleon splits the schedule into consecutive periods of PeriodSize
// observations. With r_j = S(t_j)/S(t_{j−1}) − 1 on the first underlying
// (t_0 = 0), period k pays
//
//	coupon_k = Floor + max(0, min_{j∈k} r_j)
//
// capped at Cap when Cap > 0, times Notional.
type Napoleon struct {
	Notional   float64
	Floor      float64
	Cap        float64 // 0 → uncapped
	PeriodSize int
	Timing     NapoleonTiming
}

func (*Napoleon) Variant() Variant { return VariantNapoleon }
func (*Napoleon) sealed()          {}

func (c *Napoleon) Validate(tl Timeline) error {
	obs := len(tl.Schedule())
	if obs == 0 {
		return model.Invalid("schedule", "napoleon requires at least one observation date")
	}
	if err := checkNotional(c.Notional); err != nil {
		return err
	}
	if err := checkFinite("floor", c.Floor); err != nil {
		return err
	}
	if err := checkFinite("cap", c.Cap); err != nil {
		return err
	}
	if c.Cap < 0 || (c.Cap > 0 && c.Cap < c.Floor) {
		return model.Invalid("cap", "must be 0 (uncapped) or at least floor %v, got %v", c.Floor, c.Cap)
	}
	if c.PeriodSize <= 0 || obs%c.PeriodSize != 0 {
		return model.Invalid("period_size", "must be positive and divide the %d observation dates, got %d", obs, c.PeriodSize)
	}
	if c.Timing != PaidAtMaturity && c.Timing != PaidPerPeriod {
		return model.Invalid("timing", "must be %q or %q, got %q", PaidAtMaturity, PaidPerPeriod, c.Timing)
	}
	return nil
}

func (c *Napoleon) Discounted(p *gbm.Path, tl Timeline) float64 {
	schedule := tl.Schedule()
	obs := p.Observed[0]
	prev := p.Initial[0]

	var total float64
	for start := 0; start < len(obs); start += c.PeriodSize {
		worst := math.Inf(1)
		for j := start; j < start+c.PeriodSize; j++ {
			worst = math.Min(worst, obs[j]/prev-1)
			prev = obs[j]
		}
		coupon := c.Floor + math.Max(0, worst)
		if c.Cap > 0 {
			coupon = math.Min(c.Cap, coupon)
		}
		if c.Timing == PaidPerPeriod {
			coupon *= tl.Discount(schedule[start+c.PeriodSize-1])
		}
		total += coupon
	}
	if c.Timing == PaidAtMaturity {
		total *= tl.Discount(tl.Maturity())
	}
	return c.Notional * total
}

// Describe returns a short human-readable summary used in logs.
func Describe(c Contract) string {
	switch v := c.(type) {
	case *European:
		return fmt.Sprintf("european %s K=%v", v.Kind, v.Strike)
	case *Tunnel:
		return fmt.Sprintf("tunnel %s [%v, %v]", v.Scaling, v.Lower, v.Upper)
	case *Himalaya:
		return fmt.Sprintf("himalaya notional=%v", v.Notional)
	case *Napoleon:
		return fmt.Sprintf("napoleon %s period=%d", v.Timing, v.PeriodSize)
	default:
		return string(c.Variant())
	}
}
