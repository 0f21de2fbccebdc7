// Package shuffle produces Fisher–Yates permutations, either reproducible
// from a seed string or drawn from a non-deterministic source.
//
// The seeded stream is FNV-1a(seed) → splitmix64 → xorshift64*. It is fixed
// here rather than borrowed from math/rand so that a stored ordering can be
// re-derived and explained from its seed on any toolchain version. It is not
// cryptographically secure.
package shuffle

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/google/uuid"
)

// SessionSeed derives the seed for one attempt's question order.
// Option orders use SessionSeed(...) + questionID.
func SessionSeed(examID uuid.UUID, studentID, attempt int) string {
	return fmt.Sprintf("%s-%d-%d", examID, studentID, attempt)
}

// Seeded returns a permutation of seq that depends only on seed.
func Seeded[T any](seq []T, seed string) []T {
	src := newSource(seed)
	return permute(seq, src.intn)
}

// Random returns a permutation of seq from a non-deterministic source.
func Random[T any](seq []T) []T {
	return permute(seq, func(n int) int { return rand.IntN(n) })
}

// Indexes returns [0, 1, ..., n-1].
func Indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// permute runs Fisher–Yates from the last index down, swapping position i
// with a uniformly chosen j in [0, i]. seq is never modified.
func permute[T any](seq []T, intn func(n int) int) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	for i := len(out) - 1; i > 0; i-- {
		j := intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type source struct {
	state uint64
}

func newSource(seed string) *source {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	s := splitmix64(h.Sum64())
	if s == 0 {
		s = 0x9E3779B97F4A7C15
	}
	return &source{state: s}
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// next advances the xorshift64* generator.
func (s *source) next() uint64 {
	s.state ^= s.state >> 12
	s.state ^= s.state << 25
	s.state ^= s.state >> 27
	return s.state * 0x2545F4914F6CDD1D
}

// intn draws uniformly from [0, n) by rejecting the values that would bias
// the modulo.
func (s *source) intn(n int) int {
	bound := uint64(n)
	threshold := -bound % bound
	for {
		if r := s.next(); r >= threshold {
			return int(r % bound)
		}
	}
}
