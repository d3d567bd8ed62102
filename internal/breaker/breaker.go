// Package breaker implements the per-upstream circuit breaker: a single
// tagged cooldown timestamp per URL, no half-open state, no failure
// counter. It exists to shed concurrent bursts against a misbehaving
// upstream for a short, deliberately small cooldown window.
package breaker

import (
	"sync"
	"time"
)

// Breaker guards a map[url]tripped-until under a single mutex.
type Breaker struct {
	mu      sync.Mutex
	tripped map[string]time.Time
}

// New returns a breaker with no tripped targets.
func New() *Breaker {
	return &Breaker{tripped: make(map[string]time.Time)}
}

// Tripped reports whether url is currently short-circuited. An entry whose
// tripped-until has passed is semantically absent and is lazily removed.
func (b *Breaker) Tripped(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.tripped[url]
	if !ok {
		return false
	}
	if !until.After(time.Now()) {
		delete(b.tripped, url)
		return false
	}
	return true
}

// Trip unconditionally sets url's tripped-until to now+cooldown, extending
// any cooldown already in effect. There is no accumulation or maximum: the
// most recent trip always wins.
func (b *Breaker) Trip(url string, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripped[url] = time.Now().Add(cooldown)
}
