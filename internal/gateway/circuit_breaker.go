package gateway

import (
	"sync"
	"time"
)

// circuitBreaker stops calling a backend resource family after repeated
// transport failures until a cooldown has passed.
type circuitBreaker struct {
	mu        sync.Mutex
	failures  map[string]uint32
	openedAt  map[string]time.Time
	threshold uint32
	cooldown  time.Duration
	now       func() time.Time
}

func newCircuitBreaker(threshold uint32, cooldown time.Duration) *circuitBreaker {
	if threshold == 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &circuitBreaker{
		failures:  make(map[string]uint32),
		openedAt:  make(map[string]time.Time),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (cb *circuitBreaker) allow(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures[key] < cb.threshold {
		return true
	}
	// half-open: let one request through and re-arm the timer
	if cb.now().Sub(cb.openedAt[key]) > cb.cooldown {
		cb.openedAt[key] = cb.now()
		return true
	}
	return false
}

func (cb *circuitBreaker) success(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.failures, key)
	delete(cb.openedAt, key)
}

func (cb *circuitBreaker) failure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures[key]++
	if cb.failures[key] >= cb.threshold {
		cb.openedAt[key] = cb.now()
	}
}
