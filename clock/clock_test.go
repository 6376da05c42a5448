package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	c := Fake(epoch)
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.PendingCount())
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())
}

func TestFake_StopPreventsCall(t *testing.T) {
	c := Fake(epoch)
	called := false

	timer := c.AfterFunc(time.Second, func() { called = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, called)
	assert.Equal(t, 0, c.PendingCount())
}

func TestFake_StopAfterFire(t *testing.T) {
	c := Fake(epoch)
	timer := c.AfterFunc(time.Second, func() {})

	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestFake_CallbackSeesDeadline(t *testing.T) {
	c := Fake(epoch)
	var at time.Time

	c.AfterFunc(3*time.Second, func() { at = c.Now() })
	c.Advance(10 * time.Second)

	assert.Equal(t, epoch.Add(3*time.Second), at)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())
}

func TestFake_NestedScheduling(t *testing.T) {
	c := Fake(epoch)
	count := 0

	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.PendingCount())
}

func TestFake_PendingDelays(t *testing.T) {
	c := Fake(epoch)
	c.AfterFunc(4*time.Second, func() {})
	c.AfterFunc(time.Second, func() {})

	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second}, c.PendingDelays())
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
