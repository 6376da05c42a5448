// Package clock abstracts the time functions used by timers in this module.
//
// Production code uses Real(). Tests use Fake(), whose timers only fire when
// Advance is called, so debounce and backoff schedules can be asserted exactly.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and deferred execution
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (Real) or inside Advance (Fake)
	// once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call
type Timer interface {
	// Stop prevents the call. Returns false if it already ran or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock is a manually advanced Clock. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	delay    time.Duration
	fn       func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock starting at initial
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake current time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run when the clock is advanced past now+d.
// Non-positive durations fire on the next Advance, never synchronously.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.current.Add(d),
		delay:    d,
		fn:       f,
	}
	c.waiters = append(c.waiters, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d and runs every due callback in deadline order.
// Callbacks run on the calling goroutine without the clock lock held, so they
// may schedule further timers; those fire too if they fall inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		next := c.popDue(target)
		if next == nil {
			break
		}
		next.fn()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// popDue removes and returns the earliest due timer, moving the clock to its
// deadline so callbacks observe the time they were scheduled for.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.waiters[:0]
	for _, t := range c.waiters {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.waiters = live

	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}

	t := c.waiters[0]
	c.waiters = c.waiters[1:]
	t.fired = true
	if t.deadline.After(c.current) {
		c.current = t.deadline
	}
	return t
}

// PendingCount returns the number of timers that have neither fired nor been stopped
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, t := range c.waiters {
		if !t.stopped && !t.fired {
			count++
		}
	}
	return count
}

// PendingDelays returns the scheduling delays of live timers in deadline order
func (c *FakeClock) PendingDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make([]*fakeTimer, 0, len(c.waiters))
	for _, t := range c.waiters {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].deadline.Before(live[j].deadline)
	})

	delays := make([]time.Duration, len(live))
	for i, t := range live {
		delays[i] = t.delay
	}
	return delays
}
