package subscription

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// rateLimiter refuses an operation on a key that arrives within interval of
// the previous accepted operation on the same key.
type rateLimiter struct {
	interval time.Duration
	last     *xsync.MapOf[string, time.Time]
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{
		interval: interval,
		last:     xsync.NewMapOf[string, time.Time](),
	}
}

// allow records now for key and returns true, or returns false without
// recording if the previous operation was too recent.
func (l *rateLimiter) allow(key string, now time.Time) bool {
	allowed := false
	l.last.Compute(key, func(prev time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Sub(prev) < l.interval {
			return prev, false
		}
		allowed = true
		return now, false
	})
	return allowed
}

// stamp records an operation that is not subject to refusal
func (l *rateLimiter) stamp(key string, now time.Time) {
	l.last.Store(key, now)
}

func (l *rateLimiter) clear() {
	l.last.Clear()
}

func (l *rateLimiter) size() int {
	return l.last.Size()
}
