package game

import (
	mathrand "math/rand"
	"sync"
	"time"
)

// Rand is a math/rand source safe for concurrent use. A fixed seed makes
// draws and battles reproducible in tests.
type Rand struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

func NewRand(seed int64) *Rand {
	return &Rand{r: mathrand.New(mathrand.NewSource(seed))}
}

func NewTimeRand() *Rand {
	return NewRand(time.Now().UnixNano())
}

func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// Between returns a uniform float in [lo, hi).
func (r *Rand) Between(lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Int63Range returns a uniform integer in [lo, hi].
func (r *Rand) Int63Range(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.r.Int63n(hi-lo+1)
}

func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Intn(n)
}
