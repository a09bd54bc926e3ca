// Package riskmetric computes Expected Loss, Value-at-Risk and Expected
// Shortfall from a simulated loss sample.
//
// VaR uses the nearest-rank quantile: the ⌈α·N⌉-th smallest loss. ES is the
// mean of every loss at or above VaR, ties included, which keeps both
// measures non-decreasing in α and guarantees ES ≥ VaR.
package riskmetric

import (
	"errors"
	"math"
	"sort"

	"github.com/atmx/risk-engine/internal/model"
)

// ErrEmptySample is returned when there are no losses to summarise.
var ErrEmptySample = errors.New("riskmetric: empty loss sample")

// DefaultBins is the histogram resolution used when none is requested.
const DefaultBins = 30

// rankEpsilon absorbs float error in α·N before taking the ceiling.
const rankEpsilon = 1e-9

// Metrics are the risk measures of one loss sample at one confidence level.
type Metrics struct {
	Confidence        float64
	Trials            int
	ExpectedLoss      float64
	ValueAtRisk       float64
	ExpectedShortfall float64
}

// ValidateConfidence checks α ∈ (0,1).
func ValidateConfidence(alpha float64) error {
	if math.IsNaN(alpha) || alpha <= 0 || alpha >= 1 {
		return model.Invalid("confidence", "must lie in (0,1), got %v", alpha)
	}
	return nil
}

// Compute returns the metrics of losses at confidence alpha. losses is not
// modified.
func Compute(losses []float64, alpha float64) (Metrics, error) {
	if err := ValidateConfidence(alpha); err != nil {
		return Metrics{}, err
	}
	if len(losses) == 0 {
		return Metrics{}, ErrEmptySample
	}
	sorted := make([]float64, len(losses))
	copy(sorted, losses)
	sort.Float64s(sorted)
	return ComputeSorted(sorted, alpha), nil
}

// ComputeSorted is Compute for an ascending, non-empty sample with a
// validated alpha.
func ComputeSorted(sorted []float64, alpha float64) Metrics {
	v := Quantile(sorted, alpha)
	tail := sorted[sort.SearchFloat64s(sorted, v):]
	es := v
	if len(tail) > 0 {
		es = Mean(tail)
	}
	return Metrics{
		Confidence:        alpha,
		Trials:            len(sorted),
		ExpectedLoss:      Mean(sorted),
		ValueAtRisk:       v,
		ExpectedShortfall: es,
	}
}

// Quantile returns the nearest-rank α-quantile of an ascending sample.
func Quantile(sorted []float64, alpha float64) float64 {
	n := len(sorted)
	k := int(math.Ceil(alpha*float64(n) - rankEpsilon))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return sorted[k-1]
}

// Mean returns the arithmetic mean using Neumaier-compensated summation.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum, c float64
	for _, x := range xs {
		t := sum + x
		if math.Abs(sum) >= math.Abs(x) {
			c += (sum - t) + x
		} else {
			c += (x - t) + sum
		}
		sum = t
	}
	return (sum + c) / float64(len(xs))
}

// Histogram buckets xs into bins equal-width bins spanning [min, max]. A
// degenerate sample (all values equal) yields a single bin.
func Histogram(xs []float64, bins int) []model.HistogramBin {
	if len(xs) == 0 {
		return nil
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if hi == lo {
		return []model.HistogramBin{{Lower: lo, Upper: hi, Count: len(xs)}}
	}

	width := (hi - lo) / float64(bins)
	out := make([]model.HistogramBin, bins)
	for i := range out {
		out[i].Lower = lo + float64(i)*width
		out[i].Upper = lo + float64(i+1)*width
	}
	out[bins-1].Upper = hi

	for _, x := range xs {
		i := int((x - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		out[i].Count++
	}
	return out
}
