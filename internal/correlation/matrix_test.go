package correlation

import (
	"errors"
	"math"
	"testing"
)

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name string
		c    [][]float64
		n    int
	}{
		{"nil means identity", nil, 3},
		{"identity", [][]float64{{1, 0}, {0, 1}}, 2},
		{"positive definite", [][]float64{{1, 0.5, 0.2}, {0.5, 1, 0.3}, {0.2, 0.3, 1}}, 3},
		{"perfect correlation is PSD", [][]float64{{1, 1}, {1, 1}}, 2},
		{"negative correlation", [][]float64{{1, -0.9}, {-0.9, 1}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.c, tt.n); err != nil {
				t.Errorf("expected valid matrix, got %v", err)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		c    [][]float64
		n    int
		want error
	}{
		{"wrong row count", [][]float64{{1}}, 2, ErrNotSquare},
		{"ragged row", [][]float64{{1, 0}, {0}}, 2, ErrNotSquare},
		{"asymmetric", [][]float64{{1, 0.5}, {0.4, 1}}, 2, ErrNotSymmetric},
		{"bad diagonal", [][]float64{{1, 0}, {0, 0.9}}, 2, ErrDiagonal},
		{"out of range", [][]float64{{1, 1.2}, {1.2, 1}}, 2, ErrOutOfRange},
		{"not PSD", [][]float64{{1, 0.9, -0.9}, {0.9, 1, 0.9}, {-0.9, 0.9, 1}}, 3, ErrNotPSD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.c, tt.n)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// reconstruct returns F·Fᵀ.
func reconstruct(f *Factor) [][]float64 {
	n := f.Dim()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += f.At(i, k) * f.At(j, k)
			}
			out[i][j] = sum
		}
	}
	return out
}

func TestNewFactor_Reconstructs(t *testing.T) {
	tests := []struct {
		name string
		c    [][]float64
	}{
		{"positive definite", [][]float64{{1, 0.5, 0.2}, {0.5, 1, 0.3}, {0.2, 0.3, 1}}},
		{"singular", [][]float64{{1, 1, 0}, {1, 1, 0}, {0, 0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFactor(tt.c, len(tt.c))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := reconstruct(f)
			for i := range tt.c {
				for j := range tt.c {
					if math.Abs(got[i][j]-tt.c[i][j]) > 1e-9 {
						t.Errorf("F·Fᵀ[%d][%d] = %v, want %v", i, j, got[i][j], tt.c[i][j])
					}
				}
			}
		})
	}
}

func TestFactor_IdentityApplyCopies(t *testing.T) {
	f, err := NewFactor(nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	z := []float64{0.1, -2, 3}
	dst := make([]float64, 3)
	f.Apply(dst, z)
	for i := range z {
		if dst[i] != z[i] {
			t.Errorf("identity factor changed component %d: %v → %v", i, z[i], dst[i])
		}
	}
}

func TestFactor_ApplyLowerTriangular(t *testing.T) {
	rho := 0.6
	f, err := NewFactor([][]float64{{1, rho}, {rho, 1}}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dst := make([]float64, 2)
	f.Apply(dst, []float64{1, 1})

	// Cholesky of [[1,ρ],[ρ,1]] is [[1,0],[ρ,√(1-ρ²)]].
	want := []float64{1, rho + math.Sqrt(1-rho*rho)}
	for i := range want {
		if math.Abs(dst[i]-want[i]) > 1e-12 {
			t.Errorf("component %d: got %v want %v", i, dst[i], want[i])
		}
	}
}

func TestNewFactor_RejectsInvalid(t *testing.T) {
	_, err := NewFactor([][]float64{{1, 0.5}, {0.4, 1}}, 2)
	if !errors.Is(err, ErrNotSymmetric) {
		t.Errorf("expected ErrNotSymmetric, got %v", err)
	}
}
