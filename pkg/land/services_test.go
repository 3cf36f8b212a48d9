package land

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSystemServicesWithFixedSeedIsDeterministic(t *testing.T) {
	a := NewSystemServices(42)
	b := NewSystemServices(42)

	for i := 0; i < 5; i++ {
		assert.Equal(t, a.RNG.Int63(), b.RNG.Int63())
	}
}

func TestNewSystemServicesZeroSeedVaries(t *testing.T) {
	a := NewSystemServices(0)
	b := NewSystemServices(0)

	// Exceedingly unlikely to collide across independent time-derived seeds.
	assert.NotEqual(t, a.RNG.Int63(), b.RNG.Int63())
}

func TestSystemClockNowAdvances(t *testing.T) {
	s := NewSystemServices(1)
	first := s.Clock.Now()
	second := s.Clock.Now()
	assert.GreaterOrEqual(t, second, first)
}

func TestSystemRNGSafeForConcurrentUse(t *testing.T) {
	s := NewSystemServices(7)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.RNG.Int63()
			}
		}()
	}
	wg.Wait()
}
