// Package correlation validates correlation matrices and factors them for
// generating correlated normal draws.
//
// A valid correlation matrix is square, symmetric, has a unit diagonal,
// off-diagonal entries in [-1, 1], and is positive semi-definite. Factor
// produces F with F·Fᵀ = C: the Cholesky factor when C is positive definite,
// otherwise V·√Λ from the symmetric eigendecomposition, which also covers
// singular (perfectly correlated) matrices.
package correlation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotSquare is returned when the matrix shape does not match the
	// number of factors it correlates.
	ErrNotSquare = errors.New("correlation: matrix is not square")

	// ErrNotSymmetric is returned when C[i][j] != C[j][i].
	ErrNotSymmetric = errors.New("correlation: matrix is not symmetric")

	// ErrDiagonal is returned when a diagonal entry differs from 1.
	ErrDiagonal = errors.New("correlation: diagonal entries must be 1")

	// ErrOutOfRange is returned for off-diagonal entries outside [-1, 1].
	ErrOutOfRange = errors.New("correlation: entries must lie in [-1, 1]")

	// ErrNotPSD is returned when the matrix has a negative eigenvalue.
	ErrNotPSD = errors.New("correlation: matrix is not positive semi-definite")
)

// Tolerance absorbs rounding in user-supplied matrices.
const Tolerance = 1e-9

// Validate checks that c is an n×n correlation matrix. A nil c is accepted
// and means the identity.
func Validate(c [][]float64, n int) error {
	if c == nil {
		return nil
	}
	if len(c) != n {
		return fmt.Errorf("%w: want %d rows, got %d", ErrNotSquare, n, len(c))
	}
	for i, row := range c {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d entries, want %d", ErrNotSquare, i, len(row), n)
		}
	}
	for i := 0; i < n; i++ {
		if math.Abs(c[i][i]-1) > Tolerance {
			return fmt.Errorf("%w: C[%d][%d] = %v", ErrDiagonal, i, i, c[i][i])
		}
		for j := i + 1; j < n; j++ {
			if math.IsNaN(c[i][j]) || c[i][j] < -1 || c[i][j] > 1 {
				return fmt.Errorf("%w: C[%d][%d] = %v", ErrOutOfRange, i, j, c[i][j])
			}
			if math.Abs(c[i][j]-c[j][i]) > Tolerance {
				return fmt.Errorf("%w: C[%d][%d] = %v, C[%d][%d] = %v",
					ErrNotSymmetric, i, j, c[i][j], j, i, c[j][i])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(toSym(c), false) {
		return fmt.Errorf("%w: eigendecomposition failed", ErrNotPSD)
	}
	for _, v := range eig.Values(nil) {
		if v < -Tolerance {
			return fmt.Errorf("%w: eigenvalue %v", ErrNotPSD, v)
		}
	}
	return nil
}

// Factor maps independent N(0,1) draws to draws with correlation C.
// Immutable after construction; safe for concurrent use.
type Factor struct {
	n        int
	identity bool
	f        []float64 // row-major n×n
}

// Identity returns the factor of the n×n identity matrix.
func Identity(n int) *Factor {
	return &Factor{n: n, identity: true}
}

// NewFactor validates c and factors it. A nil c yields Identity(n).
func NewFactor(c [][]float64, n int) (*Factor, error) {
	if err := Validate(c, n); err != nil {
		return nil, err
	}
	if c == nil {
		return Identity(n), nil
	}

	sym := toSym(c)
	out := &Factor{n: n, f: make([]float64, n*n)}

	var chol mat.Cholesky
	if chol.Factorize(sym) {
		var l mat.TriDense
		chol.LTo(&l)
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				out.f[i*n+j] = l.At(i, j)
			}
		}
		return out, nil
	}

	// Singular but PSD: F = V·√max(Λ,0).
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, fmt.Errorf("%w: eigendecomposition failed", ErrNotPSD)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for j, v := range vals {
		s := math.Sqrt(math.Max(v, 0))
		for i := 0; i < n; i++ {
			out.f[i*n+j] = vecs.At(i, j) * s
		}
	}
	return out, nil
}

// Dim returns the number of correlated factors.
func (f *Factor) Dim() int {
	return f.n
}

// Apply writes F·z into dst. dst and z must have length Dim and must not
// alias.
func (f *Factor) Apply(dst, z []float64) {
	if f.identity {
		copy(dst, z)
		return
	}
	n := f.n
	for i := 0; i < n; i++ {
		row := f.f[i*n : (i+1)*n]
		var sum float64
		for j, v := range row {
			sum += v * z[j]
		}
		dst[i] = sum
	}
}

// At returns F[i][j].
func (f *Factor) At(i, j int) float64 {
	if f.identity {
		if i == j {
			return 1
		}
		return 0
	}
	return f.f[i*f.n+j]
}

func toSym(c [][]float64) *mat.SymDense {
	n := len(c)
	data := make([]float64, 0, n*n)
	for _, row := range c {
		data = append(data, row...)
	}
	return mat.NewSymDense(n, data)
}
