// Package prng derives reproducible random number generators for training.
//
// A Seq hands out one independent generator per stochastic operation
// (parameter init, each loss evaluation, each sampling call) so that a run
// is reproducible from its seed no matter how many draws any single
// operation consumes.
package prng

import (
	"math/rand/v2"
	"sync"
)

// Seq is a seeded sequence of independent PRNGs.
type Seq struct {
	mu   sync.Mutex
	seed uint64
	next uint64
}

// NewSeq returns a sequence rooted at seed.
func NewSeq(seed uint64) *Seq {
	return &Seq{seed: seed}
}

// Next returns a fresh generator. Successive calls return generators with
// distinct, deterministic streams.
func (s *Seq) Next() *rand.Rand {
	s.mu.Lock()
	n := s.next
	s.next++
	s.mu.Unlock()

	return rand.New(rand.NewPCG(s.seed, n))
}
