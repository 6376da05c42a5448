package reconnect

import (
	"testing"
	"time"

	"github.com/buildline/sitesync/clock"
	"github.com/buildline/sitesync/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "public.tasks.*.project_id=p1"

var testConfig = realtime.SubscriptionConfig{
	Table:  "tasks",
	Filter: map[string]any{"project_id": "p1"},
}

type recorder struct {
	reconnects []string
	cleanups   []string
}

func (r *recorder) reconnect(key string, _ realtime.SubscriptionConfig) {
	r.reconnects = append(r.reconnects, key)
}

func (r *recorder) cleanup(key string) {
	r.cleanups = append(r.cleanups, key)
}

func newTestHandler() (*Handler, *clock.FakeClock) {
	c := clock.Fake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	return NewHandler(Config{Clock: c}), c
}

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler(Config{})
	assert.Equal(t, DefaultBaseDelay, h.config.BaseDelay)
	assert.Equal(t, DefaultMaxAttempts, h.config.MaxAttempts)
	assert.NotNil(t, h.config.Clock)
}

func TestHandler_Delay(t *testing.T) {
	h, _ := newTestHandler()

	assert.Equal(t, time.Second, h.Delay(1))
	assert.Equal(t, 2*time.Second, h.Delay(2))
	assert.Equal(t, 4*time.Second, h.Delay(3))
	assert.Equal(t, 8*time.Second, h.Delay(4))
	assert.Equal(t, 16*time.Second, h.Delay(5))
}

func TestHandler_BackoffIncreases(t *testing.T) {
	h, c := newTestHandler()
	rec := &recorder{}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
		pending := c.PendingDelays()
		require.Len(t, pending, 1, "exactly one pending timer per key")
		delays = append(delays, pending[0])
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Equal(t, 3, h.Attempts(testKey))
	assert.Empty(t, rec.reconnects, "superseded timers must not fire")
	assert.Empty(t, rec.cleanups)
}

func TestHandler_ReconnectFiresAfterDelay(t *testing.T) {
	h, c := newTestHandler()
	rec := &recorder{}

	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	assert.True(t, h.HasPending(testKey))

	c.Advance(999 * time.Millisecond)
	assert.Empty(t, rec.reconnects)

	c.Advance(time.Millisecond)
	assert.Equal(t, []string{testKey}, rec.reconnects)
	assert.False(t, h.HasPending(testKey))
	assert.Equal(t, 1, h.Attempts(testKey), "attempts persist until reset")
}

func TestHandler_ExhaustsAfterMaxAttempts(t *testing.T) {
	h, c := newTestHandler()
	rec := &recorder{}

	var delays []time.Duration
	for i := 0; i < DefaultMaxAttempts; i++ {
		h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
		delays = append(delays, c.PendingDelays()[0])
		c.Advance(delays[i])
	}

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays)
	assert.Len(t, rec.reconnects, DefaultMaxAttempts)

	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)

	assert.Equal(t, []string{testKey}, rec.cleanups)
	assert.Equal(t, 0, c.PendingCount(), "no reconnect after exhaustion")
	assert.Equal(t, 0, h.Attempts(testKey))

	c.Advance(time.Hour)
	assert.Len(t, rec.reconnects, DefaultMaxAttempts)
	assert.Len(t, rec.cleanups, 1)
}

func TestHandler_DeferKeepsAttempts(t *testing.T) {
	h, c := newTestHandler()
	rec := &recorder{}

	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	h.Defer(testKey, testConfig, 30*time.Second, rec.reconnect)

	assert.Equal(t, []time.Duration{30 * time.Second}, c.PendingDelays(), "defer replaces the pending retry")
	assert.Equal(t, 1, h.Attempts(testKey))

	c.Advance(30 * time.Second)
	assert.Equal(t, []string{testKey}, rec.reconnects)
	assert.False(t, h.HasPending(testKey))

	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	assert.Equal(t, []time.Duration{2 * time.Second}, c.PendingDelays())
}

func TestHandler_ResetCancelsPending(t *testing.T) {
	h, c := newTestHandler()
	rec := &recorder{}

	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	h.ResetReconnectAttempts(testKey)

	assert.Equal(t, 0, h.Attempts(testKey))
	assert.False(t, h.HasPending(testKey))

	c.Advance(time.Minute)
	assert.Empty(t, rec.reconnects)

	// Counting restarts from the first delay
	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	assert.Equal(t, []time.Duration{time.Second}, c.PendingDelays())
}

func TestHandler_CleanupIdempotent(t *testing.T) {
	h, c := newTestHandler()
	rec := &recorder{}

	h.HandleChannelError(testKey, testConfig, rec.reconnect, rec.cleanup)
	h.HandleChannelError("public.projects.*.", realtime.SubscriptionConfig{Table: "projects"}, rec.reconnect, rec.cleanup)

	h.CleanupErrorState(testKey)
	h.CleanupErrorState(testKey)
	h.CleanupErrorState("never-seen")
	assert.Equal(t, 1, c.PendingCount())

	h.CleanupAll()
	h.CleanupAll()
	assert.Equal(t, 0, c.PendingCount())

	c.Advance(time.Minute)
	assert.Empty(t, rec.reconnects)
}
