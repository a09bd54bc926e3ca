package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/payoff"
)

// BlackScholes returns the closed-form price of a European option on a
// non-dividend-paying asset. Degenerate inputs (σ = 0 or T = 0) reduce to
// the discounted intrinsic value of the forward.
func BlackScholes(kind payoff.Kind, spot, strike, rate, vol, maturity float64) float64 {
	df := math.Exp(-rate * maturity)
	forward := spot / df

	sd := vol * math.Sqrt(maturity)
	if sd == 0 || strike == 0 {
		if kind == payoff.Put {
			return df * math.Max(strike-forward, 0)
		}
		return df * math.Max(forward-strike, 0)
	}

	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*maturity) / sd
	d2 := d1 - sd
	n := distuv.UnitNormal
	if kind == payoff.Put {
		return strike*df*n.CDF(-d2) - spot*n.CDF(-d1)
	}
	return spot*n.CDF(d1) - strike*df*n.CDF(d2)
}
