package subscription

import "time"

// BreakerState is the circuit breaker view of one channel key
type BreakerState struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	Open        bool      `json:"open"`
}

type breakerEntry struct {
	failures    int
	lastFailure time.Time
}

// circuitBreaker counts consecutive failures per key. Open is derived from
// the counters and the current time, so the cooldown needs no timer.
// Guarded by the Manager lock.
type circuitBreaker struct {
	threshold int
	cooldown  time.Duration
	entries   map[string]*breakerEntry
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		entries:   make(map[string]*breakerEntry),
	}
}

func (b *circuitBreaker) openEntry(e *breakerEntry, now time.Time) bool {
	return e.failures >= b.threshold && now.Sub(e.lastFailure) < b.cooldown
}

// recordFailure counts a failure at now and reports whether the breaker
// transitioned from closed to open.
func (b *circuitBreaker) recordFailure(key string, now time.Time) bool {
	e, ok := b.entries[key]
	if !ok {
		e = &breakerEntry{}
		b.entries[key] = e
	}
	wasOpen := b.openEntry(e, now)
	e.failures++
	e.lastFailure = now
	return !wasOpen && b.openEntry(e, now)
}

func (b *circuitBreaker) isOpen(key string, now time.Time) bool {
	e, ok := b.entries[key]
	return ok && b.openEntry(e, now)
}

// remaining returns the time until the breaker for key closes, zero if closed
func (b *circuitBreaker) remaining(key string, now time.Time) time.Duration {
	e, ok := b.entries[key]
	if !ok || !b.openEntry(e, now) {
		return 0
	}
	return b.cooldown - now.Sub(e.lastFailure)
}

func (b *circuitBreaker) reset(key string) {
	delete(b.entries, key)
}

func (b *circuitBreaker) clear() {
	b.entries = make(map[string]*breakerEntry)
}

func (b *circuitBreaker) openCount(now time.Time) int {
	count := 0
	for _, e := range b.entries {
		if b.openEntry(e, now) {
			count++
		}
	}
	return count
}

func (b *circuitBreaker) snapshot(now time.Time) map[string]BreakerState {
	out := make(map[string]BreakerState, len(b.entries))
	for key, e := range b.entries {
		out[key] = BreakerState{
			Failures:    e.failures,
			LastFailure: e.lastFailure,
			Open:        b.openEntry(e, now),
		}
	}
	return out
}

