package land

import (
	"math/rand"
	"sync"
	"time"
)

// systemClock reports the actual wall clock. It is the Clock every
// production Services uses; replay substitutes a recorded sequence
// instead.
type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixNano() }

// systemRNG wraps a *rand.Rand behind a mutex: Services is shared across
// every Keeper a Realm creates, and their tick/command loops run
// concurrently on separate goroutines, so the RNG they share must be
// safe for concurrent Int63 calls even though math/rand.Rand itself
// is not.
type systemRNG struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *systemRNG) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63()
}

// NewSystemServices builds the production Clock/RNG pair: a real wall
// clock and a math/rand source seeded from it. seed, if non-zero, pins the
// RNG's starting state (useful for a reproducible local run); zero seeds
// from the current time, so a deployment that never sets a seed still gets
// a non-deterministic RNG rather than the same sequence on every restart.
func NewSystemServices(seed int64) *Services {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Services{
		Clock: systemClock{},
		RNG:   &systemRNG{rng: rand.New(rand.NewSource(seed))},
		Extra: make(map[string]any),
	}
}
