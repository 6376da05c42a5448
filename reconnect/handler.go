package reconnect

import (
	"sync"
	"time"

	"github.com/buildline/sitesync/clock"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default delay before the first reconnect attempt
	DefaultBaseDelay = time.Second
	// Default number of reconnect attempts before a channel is abandoned
	DefaultMaxAttempts = 5
)

// ReconnectFunc re-establishes the channel identified by key
type ReconnectFunc func(key string, config realtime.SubscriptionConfig)

// CleanupFunc tears down a channel whose retry budget is exhausted
type CleanupFunc func(key string)

// Config configures a Handler
type Config struct {
	BaseDelay   time.Duration // Delay of the first attempt, doubled per attempt
	MaxAttempts int           // Attempts allowed before cleanup
	Clock       clock.Clock
}

type pendingRetry struct {
	timer clock.Timer
	gen   uint64
}

// Handler tracks per-channel reconnect attempts and their pending timers.
// At most one timer is pending per key.
type Handler struct {
	config   Config
	mu       sync.Mutex
	attempts map[string]int
	pending  map[string]pendingRetry
	nextGen  uint64
}

// NewHandler creates a Handler with defaults applied for zero fields
func NewHandler(config Config) *Handler {
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultBaseDelay
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	return &Handler{
		config:   config,
		attempts: make(map[string]int),
		pending:  make(map[string]pendingRetry),
	}
}

// Delay returns the backoff for the given 1-based attempt: BaseDelay * 2^(attempt-1)
func (h *Handler) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return h.config.BaseDelay << (attempt - 1)
}

// HandleChannelError records a failure for key and either schedules reconnect
// with exponential backoff or, once MaxAttempts is exceeded, calls cleanup.
// Must not be called with locks held that reconnect or cleanup acquire.
func (h *Handler) HandleChannelError(key string, config realtime.SubscriptionConfig, reconnect ReconnectFunc, cleanup CleanupFunc) {
	h.mu.Lock()

	h.cancelLocked(key)
	h.attempts[key]++
	attempt := h.attempts[key]

	if attempt > h.config.MaxAttempts {
		delete(h.attempts, key)
		h.mu.Unlock()

		log.Warn().
			Str("channel_key", key).
			Int("max_attempts", h.config.MaxAttempts).
			Msg("Reconnect attempts exhausted, cleaning up channel")
		cleanup(key)
		return
	}

	delay := h.Delay(attempt)
	h.scheduleLocked(key, config, delay, reconnect)
	h.mu.Unlock()

	telemetry.ReconnectDelaySeconds.Observe(delay.Seconds())
	log.Info().
		Str("channel_key", key).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Scheduled channel reconnect")
}

// Defer reschedules reconnect for key after delay without consuming an attempt.
// Any pending retry for key is replaced.
func (h *Handler) Defer(key string, config realtime.SubscriptionConfig, delay time.Duration, reconnect ReconnectFunc) {
	h.mu.Lock()
	h.cancelLocked(key)
	h.scheduleLocked(key, config, delay, reconnect)
	h.mu.Unlock()

	log.Debug().
		Str("channel_key", key).
		Dur("delay", delay).
		Msg("Deferred channel reconnect")
}

func (h *Handler) scheduleLocked(key string, config realtime.SubscriptionConfig, delay time.Duration, reconnect ReconnectFunc) {
	h.nextGen++
	gen := h.nextGen
	timer := h.config.Clock.AfterFunc(delay, func() {
		h.fire(key, gen, config, reconnect)
	})
	h.pending[key] = pendingRetry{timer: timer, gen: gen}
}

func (h *Handler) fire(key string, gen uint64, config realtime.SubscriptionConfig, reconnect ReconnectFunc) {
	h.mu.Lock()
	p, ok := h.pending[key]
	if !ok || p.gen != gen {
		// Cancelled or superseded after the timer fired
		h.mu.Unlock()
		return
	}
	delete(h.pending, key)
	h.mu.Unlock()

	reconnect(key, config)
}

// ResetReconnectAttempts clears the attempt counter and cancels any pending retry
func (h *Handler) ResetReconnectAttempts(key string) {
	h.CleanupErrorState(key)
}

// CleanupErrorState removes all bookkeeping for key. Idempotent.
func (h *Handler) CleanupErrorState(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancelLocked(key)
	delete(h.attempts, key)
}

// CleanupAll cancels every pending retry and clears all counters. Idempotent.
func (h *Handler) CleanupAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key := range h.pending {
		h.cancelLocked(key)
	}
	h.attempts = make(map[string]int)
}

// Attempts returns the current attempt count for key
func (h *Handler) Attempts(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[key]
}

// HasPending reports whether a reconnect is scheduled for key
func (h *Handler) HasPending(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[key]
	return ok
}

func (h *Handler) cancelLocked(key string) {
	if p, ok := h.pending[key]; ok {
		p.timer.Stop()
		delete(h.pending, key)
	}
}
