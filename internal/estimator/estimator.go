// Package estimator accumulates Monte Carlo samples into a mean, a standard
// error and a 99% confidence interval.
//
// Moments are kept with Welford's update, and partial accumulators are
// combined with the pairwise formula of Chan, Golub and LeVeque, so neither
// path forms Σx² − (Σx)²/n and the variance stays accurate at 10⁶+ samples.
package estimator

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/model"
)

// Z99 is the two-sided 99% standard-normal critical value, Φ⁻¹(0.995).
var Z99 = distuv.UnitNormal.Quantile(0.995)

// Accumulator holds running count, mean and sum of squared deviations.
// The zero value is empty and ready to use.
type Accumulator struct {
	n    int
	mean float64
	m2   float64
}

// Add folds one sample in.
func (a *Accumulator) Add(x float64) {
	a.n++
	d := x - a.mean
	a.mean += d / float64(a.n)
	a.m2 += d * (x - a.mean)
}

// Merge folds another accumulator in. Merging is associative, so partial
// accumulators from independent workers can be combined in any grouping.
func (a *Accumulator) Merge(b Accumulator) {
	if b.n == 0 {
		return
	}
	if a.n == 0 {
		*a = b
		return
	}
	n := a.n + b.n
	d := b.mean - a.mean
	a.mean += d * float64(b.n) / float64(n)
	a.m2 += b.m2 + d*d*float64(a.n)*float64(b.n)/float64(n)
	a.n = n
}

// Count returns the number of samples.
func (a Accumulator) Count() int { return a.n }

// Mean returns the sample mean, 0 when empty.
func (a Accumulator) Mean() float64 { return a.mean }

// Variance returns the unbiased sample variance, 0 for fewer than two
// samples.
func (a Accumulator) Variance() float64 {
	if a.n < 2 {
		return 0
	}
	return math.Max(a.m2, 0) / float64(a.n-1)
}

// StdDev returns the sample standard deviation.
func (a Accumulator) StdDev() float64 { return math.Sqrt(a.Variance()) }

// StdError returns StdDev/√n.
func (a Accumulator) StdError() float64 {
	if a.n == 0 {
		return 0
	}
	return a.StdDev() / math.Sqrt(float64(a.n))
}

// Interval returns mean ± z·StdError.
func (a Accumulator) Interval(z float64) (lo, hi float64) {
	half := z * a.StdError()
	return a.mean - half, a.mean + half
}

// Estimator tracks the running accumulator and the convergence sequence of
// means, one point per merged batch.
type Estimator struct {
	acc         Accumulator
	convergence []float64
}

// Merge folds a batch accumulator in and records the new running mean.
func (e *Estimator) Merge(batch Accumulator) {
	e.acc.Merge(batch)
	e.convergence = append(e.convergence, e.acc.Mean())
}

// Accumulator returns the current running moments.
func (e *Estimator) Accumulator() Accumulator { return e.acc }

// Snapshot returns a progress snapshot of the current state.
func (e *Estimator) Snapshot(engine string, requested int) model.Snapshot {
	return model.Snapshot{
		Engine:    engine,
		Completed: e.acc.Count(),
		Requested: requested,
		Mean:      e.acc.Mean(),
		StdError:  e.acc.StdError(),
	}
}

// Convergence returns a copy of the running means.
func (e *Estimator) Convergence() []float64 {
	out := make([]float64, len(e.convergence))
	copy(out, e.convergence)
	return out
}

// Estimate returns the current price estimate with its 99% interval.
func (e *Estimator) Estimate() model.PriceEstimate {
	lo, hi := e.acc.Interval(Z99)
	return model.PriceEstimate{
		Price:       e.acc.Mean(),
		StdError:    e.acc.StdError(),
		CILower:     lo,
		CIUpper:     hi,
		Trials:      e.acc.Count(),
		Convergence: e.Convergence(),
	}
}
