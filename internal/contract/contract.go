// Package contract decodes and validates option contract records at the API
// boundary and turns them into typed payoff contracts and market
// configurations for the pricing engine.
package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atmx/risk-engine/internal/gbm"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/payoff"
	"github.com/atmx/risk-engine/internal/validate"
)

var (
	ErrInvalidSpec = errors.New("contract: invalid contract record")
	ErrMissingTerm = errors.New("contract: variant terms missing")
)

// Underlying is one asset of the contract's market.
type Underlying struct {
	Spot       float64 `json:"spot" validate:"gt=0"`
	Volatility float64 `json:"volatility" validate:"gte=0"`
}

// EuropeanTerms parameterises a European option.
type EuropeanTerms struct {
	Kind   string  `json:"kind" validate:"oneof=call put"`
	Strike float64 `json:"strike" validate:"gte=0"`
}

// TunnelTerms parameterises a tunnel option.
type TunnelTerms struct {
	Lower    float64 `json:"lower" validate:"gte=0"`
	Upper    float64 `json:"upper" validate:"gtfield=Lower"`
	Scaling  string  `json:"scaling" validate:"oneof=linear binary knockout"`
	Notional float64 `json:"notional" validate:"gte=0"`
	Strike   float64 `json:"strike" validate:"gte=0"`
}

// HimalayaTerms parameterises a Himalaya option.
type HimalayaTerms struct {
	Notional    float64 `json:"notional" validate:"gt=0"`
	FloorAtZero bool    `json:"floor_at_zero"`
}

// NapoleonTerms parameterises a Napoleon option.
type NapoleonTerms struct {
	Notional   float64 `json:"notional" validate:"gt=0"`
	Floor      float64 `json:"floor"`
	Cap        float64 `json:"cap" validate:"gte=0"`
	PeriodSize int     `json:"period_size" validate:"gte=1"`
	Timing     string  `json:"timing" validate:"oneof=maturity per_period"`
}

// Spec is the boundary record of an option contract. Exactly the terms
// block matching Variant is used; the others must be absent.
//
// Observation dates come either from Schedule or, when Schedule is empty,
// from Observations evenly spaced dates ending at maturity.
type Spec struct {
	Variant      string       `json:"variant" validate:"oneof=european tunnel himalaya napoleon"`
	Maturity     float64      `json:"maturity" validate:"gt=0"`
	Rate         float64      `json:"rate"`
	Steps        int          `json:"steps,omitempty" validate:"gte=0"`
	Schedule     []float64    `json:"schedule,omitempty" validate:"omitempty,dive,gt=0"`
	Observations int          `json:"observations,omitempty" validate:"gte=0"`
	Underlyings  []Underlying `json:"underlyings" validate:"required,min=1,dive"`
	Correlation  [][]float64  `json:"correlation,omitempty"`

	European *EuropeanTerms `json:"european,omitempty"`
	Tunnel   *TunnelTerms   `json:"tunnel,omitempty"`
	Himalaya *HimalayaTerms `json:"himalaya,omitempty"`
	Napoleon *NapoleonTerms `json:"napoleon,omitempty"`
}

// Parse decodes a JSON record strictly; unknown fields are rejected.
func Parse(raw []byte) (*Spec, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Spec
	if err := dec.Decode(&s); err != nil {
		return nil, model.InvalidErr("contract", fmt.Errorf("%w: %v", ErrInvalidSpec, err))
	}
	return &s, nil
}

// Validate checks struct-level constraints. Cross-field constraints that
// depend on the simulation grid are checked by Build.
func (s *Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if len(s.Schedule) > 0 && s.Observations > 0 {
		return model.Invalid("observations", "set either schedule or observations, not both")
	}
	terms := []struct {
		variant payoff.Variant
		present bool
	}{
		{payoff.VariantEuropean, s.European != nil},
		{payoff.VariantTunnel, s.Tunnel != nil},
		{payoff.VariantHimalaya, s.Himalaya != nil},
		{payoff.VariantNapoleon, s.Napoleon != nil},
	}
	found := false
	for _, t := range terms {
		switch {
		case string(t.variant) == s.Variant:
			found = t.present
		case t.present:
			return model.Invalid(string(t.variant), "terms given for %s but variant is %s", t.variant, s.Variant)
		}
	}
	if !found {
		return model.InvalidErr(s.Variant, fmt.Errorf("%w: %s", ErrMissingTerm, s.Variant))
	}
	return nil
}

// ObservationTimes returns the explicit schedule, or Observations evenly
// spaced dates in (0, Maturity].
func (s *Spec) ObservationTimes() []float64 {
	if len(s.Schedule) > 0 || s.Observations == 0 {
		return s.Schedule
	}
	out := make([]float64, s.Observations)
	for j := range out {
		out[j] = s.Maturity * float64(j+1) / float64(s.Observations)
	}
	// The last date is the maturity exactly.
	out[len(out)-1] = s.Maturity
	return out
}

// Market returns the simulation configuration described by s.
func (s *Spec) Market() gbm.Config {
	us := make([]gbm.Underlying, len(s.Underlyings))
	for i, u := range s.Underlyings {
		us[i] = gbm.Underlying{Spot: u.Spot, Volatility: u.Volatility}
	}
	return gbm.Config{
		Underlyings: us,
		Rate:        s.Rate,
		Correlation: s.Correlation,
		Maturity:    s.Maturity,
		Schedule:    s.ObservationTimes(),
		Steps:       s.Steps,
	}
}

// Contract returns the typed payoff. Call Validate first.
func (s *Spec) Contract() payoff.Contract {
	switch payoff.Variant(s.Variant) {
	case payoff.VariantEuropean:
		return &payoff.European{Kind: payoff.Kind(s.European.Kind), Strike: s.European.Strike}
	case payoff.VariantTunnel:
		t := s.Tunnel
		return &payoff.Tunnel{
			Lower:    t.Lower,
			Upper:    t.Upper,
			Scaling:  payoff.TunnelScaling(t.Scaling),
			Notional: t.Notional,
			Strike:   t.Strike,
		}
	case payoff.VariantHimalaya:
		return &payoff.Himalaya{Notional: s.Himalaya.Notional, FloorAtZero: s.Himalaya.FloorAtZero}
	case payoff.VariantNapoleon:
		n := s.Napoleon
		return &payoff.Napoleon{
			Notional:   n.Notional,
			Floor:      n.Floor,
			Cap:        n.Cap,
			PeriodSize: n.PeriodSize,
			Timing:     payoff.NapoleonTiming(n.Timing),
		}
	}
	return nil
}

// Build validates s and returns the payoff and market ready for pricing.
// The payoff is checked against the simulation grid, so every error is a
// *model.ConfigError naming the offending field.
func (s *Spec) Build() (payoff.Contract, gbm.Config, error) {
	if err := s.Validate(); err != nil {
		return nil, gbm.Config{}, err
	}
	market := s.Market()
	sim, err := gbm.New(market)
	if err != nil {
		return nil, gbm.Config{}, err
	}
	c := s.Contract()
	if err := c.Validate(sim); err != nil {
		return nil, gbm.Config{}, err
	}
	return c, market, nil
}
