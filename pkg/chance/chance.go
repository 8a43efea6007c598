// Package chance provides the seedable random source shared by recall and
// response selection. *rand.Rand is not safe for concurrent use, so the source
// returned by New serializes access.
package chance

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of *rand.Rand the engine needs.
type Source interface {
	Intn(n int) int
	Float64() float64
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a concurrency-safe source. A zero seed uses the clock.
func New(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Pick returns a random element of items, or "" when items is empty.
func Pick(src Source, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[src.Intn(len(items))]
}
