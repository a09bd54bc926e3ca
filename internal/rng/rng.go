// Package rng provides seedable standard-normal streams. Every simulation
// call receives its own Stream; there is no package-level generator.
//
// Streams are backed by the PCG source of golang.org/x/exp/rand. Parallel
// runs derive one sub-stream per batch from a master seed with SplitMix64,
// so the draws a batch sees depend only on (master seed, batch index) and
// never on which worker executed it.
package rng

import (
	"time"

	"golang.org/x/exp/rand"

	"github.com/atmx/risk-engine/internal/model"
)

// Stream is a reproducible sequence of standard-normal variates. A Stream is
// not safe for concurrent use; give each worker its own.
type Stream struct {
	seed uint64
	r    *rand.Rand
}

// New creates a stream positioned at the start of the sequence for seed.
func New(seed uint64) *Stream {
	return &Stream{seed: seed, r: rand.New(rand.NewSource(seed))}
}

// Seed returns the seed the stream was created with.
func (s *Stream) Seed() uint64 {
	return s.seed
}

// Normal draws one N(0,1) variate.
func (s *Stream) Normal() float64 {
	return s.r.NormFloat64()
}

// Uniform draws one variate from [0,1).
func (s *Stream) Uniform() float64 {
	return s.r.Float64()
}

// Normals fills dst with N(0,1) variates and returns it.
func (s *Stream) Normals(dst []float64) []float64 {
	for i := range dst {
		dst[i] = s.r.NormFloat64()
	}
	return dst
}

// StandardNormals allocates and returns count N(0,1) variates, continuing
// from the current stream position.
func (s *Stream) StandardNormals(count int) ([]float64, error) {
	if count <= 0 {
		return nil, model.Invalid("count", "must be positive, got %d", count)
	}
	return s.Normals(make([]float64, count)), nil
}

// Derive mixes a master seed with an index into an independent sub-stream
// seed (SplitMix64 finalizer).
func Derive(master, index uint64) uint64 {
	z := master + (index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Resolve returns *seed, or a clock-derived seed when none was configured.
// The resolved value is reported with the run so it can be replayed.
func Resolve(seed *uint64) uint64 {
	if seed != nil {
		return *seed
	}
	return Derive(uint64(time.Now().UnixNano()), 0)
}
