// Package subscription coordinates realtime table subscriptions.
//
// A Manager deduplicates subscriptions by channel key so consumers asking for
// the same table, event, schema and filter share one physical channel. It fans
// change events out to every registered handler, tears idle channels down
// after a debounce window, reconnects failed channels with exponential backoff,
// rate-limits channel operations per key and circuit-breaks keys that keep
// failing.
//
// Transport and retry errors never reach callers. Subscribe only returns an
// error for caller mistakes (invalid config, nil handler, table not allowed);
// every other refusal yields a no-op UnsubscribeFunc.
package subscription

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/channelkey"
	"github.com/buildline/sitesync/clock"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/reconnect"
	"github.com/buildline/sitesync/telemetry"
	"github.com/buildline/sitesync/transport"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDebounceWindow    = time.Second
	DefaultRateLimitInterval = 200 * time.Millisecond
	DefaultCircuitThreshold  = 3
	DefaultCircuitCooldown   = 30 * time.Second
)

// State is the manager lifecycle state
type State string

const (
	StateReady      State = "ready"
	StateCleaningUp State = "cleaning_up"
)

// ManagerConfig configures a Manager. Zero values take the defaults.
type ManagerConfig struct {
	Transport transport.Transport // Required
	Clock     clock.Clock

	DebounceWindow    time.Duration // Idle time before an empty channel is closed
	RateLimitInterval time.Duration // Minimum gap between channel operations per key
	CircuitThreshold  int           // Consecutive failures that open the breaker
	CircuitCooldown   time.Duration // Time after the last failure before the breaker closes
	BaseDelay         time.Duration // First reconnect delay
	MaxAttempts       int           // Reconnect attempts before a channel is abandoned
	AllowedTables     []string      // Glob patterns; empty allows every table
}

// ConfigFromSettings builds a ManagerConfig from the [realtime] section
func ConfigFromSettings(settings cfg.RealtimeConfiguration, tr transport.Transport) ManagerConfig {
	return ManagerConfig{
		Transport:         tr,
		DebounceWindow:    time.Duration(settings.DebounceMS) * time.Millisecond,
		RateLimitInterval: time.Duration(settings.RateLimitMS) * time.Millisecond,
		CircuitThreshold:  settings.CircuitThreshold,
		CircuitCooldown:   time.Duration(settings.CircuitCooldownMS) * time.Millisecond,
		BaseDelay:         time.Duration(settings.BaseDelayMS) * time.Millisecond,
		MaxAttempts:       settings.MaxAttempts,
		AllowedTables:     settings.AllowedTables,
	}
}

// Manager owns every channel record, the rate-limit map, the circuit breaker
// and the reconnect handler. All methods are safe for concurrent use.
//
// Lock order is Manager then reconnect.Handler. Handlers and the blocking
// transport calls (Subscribe, RemoveChannel) run without the Manager lock.
type Manager struct {
	config    ManagerConfig
	transport transport.Transport
	clock     clock.Clock
	reconnect *reconnect.Handler
	allowlist *tableAllowlist
	limiter   *rateLimiter

	mu       sync.Mutex
	state    State
	epoch    uint64 // Bumped by UnsubscribeAll; timers of older epochs are stale
	channels map[string]*channelManager
	byName   map[string]*channelManager
	breaker  *circuitBreaker
}

// NewManager creates a Manager in the ready state
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Transport == nil {
		return nil, ErrNoTransport
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = DefaultDebounceWindow
	}
	if config.RateLimitInterval <= 0 {
		config.RateLimitInterval = DefaultRateLimitInterval
	}
	if config.CircuitThreshold <= 0 {
		config.CircuitThreshold = DefaultCircuitThreshold
	}
	if config.CircuitCooldown <= 0 {
		config.CircuitCooldown = DefaultCircuitCooldown
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = reconnect.DefaultBaseDelay
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = reconnect.DefaultMaxAttempts
	}

	allowlist, err := newTableAllowlist(config.AllowedTables)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:    config,
		transport: config.Transport,
		clock:     config.Clock,
		reconnect: reconnect.NewHandler(reconnect.Config{
			BaseDelay:   config.BaseDelay,
			MaxAttempts: config.MaxAttempts,
			Clock:       config.Clock,
		}),
		allowlist: allowlist,
		limiter:   newRateLimiter(config.RateLimitInterval),
		state:     StateReady,
		channels:  make(map[string]*channelManager),
		byName:    make(map[string]*channelManager),
		breaker:   newCircuitBreaker(config.CircuitThreshold, config.CircuitCooldown),
	}, nil
}

// Subscribe registers fn for changes matching config. Every call is a separate
// registration, even with the same function.
func (m *Manager) Subscribe(config realtime.SubscriptionConfig, fn Callback) (UnsubscribeFunc, error) {
	if fn == nil {
		return noopUnsubscribe, ErrNilHandler
	}
	return m.subscribe(config, &callbackHandler{fn: fn})
}

// SubscribeHandler registers h for changes matching config. Registering the
// same comparable handler twice on one channel collapses to one registration.
func (m *Manager) SubscribeHandler(config realtime.SubscriptionConfig, h Handler) (UnsubscribeFunc, error) {
	if h == nil {
		return noopUnsubscribe, ErrNilHandler
	}
	return m.subscribe(config, handlerIdentity(h))
}

func (m *Manager) normalize(config realtime.SubscriptionConfig) (realtime.SubscriptionConfig, error) {
	config = config.Normalize()
	if err := config.Validate(); err != nil {
		return config, err
	}
	if !m.allowlist.allowed(config.Schema, config.Table) {
		return config, fmt.Errorf("%w: %s.%s", ErrTableNotAllowed, config.Schema, config.Table)
	}
	return config, nil
}

func (m *Manager) subscribe(config realtime.SubscriptionConfig, h Handler) (UnsubscribeFunc, error) {
	config, err := m.normalize(config)
	if err != nil {
		telemetry.SubscribeTotal.With("invalid").Inc()
		return noopUnsubscribe, err
	}
	key := channelkey.Key(config)

	m.mu.Lock()
	if m.state == StateCleaningUp {
		m.mu.Unlock()
		m.reject(key, "rejected_cleaning_up")
		return noopUnsubscribe, nil
	}

	now := m.clock.Now()
	if m.breaker.isOpen(key, now) {
		m.mu.Unlock()
		m.reject(key, "rejected_circuit_open")
		return noopUnsubscribe, nil
	}

	if cm, ok := m.channels[key]; ok {
		cm.cancelTeardown()
		cm.handlers[h] = struct{}{}
		name := cm.name
		m.mu.Unlock()

		telemetry.SubscribeTotal.With("attached").Inc()
		log.Debug().Str("channel_key", key).Str("channel", name).Msg("Attached handler to existing channel")
		return m.unsubscribeFunc(cm, h), nil
	}

	if !m.limiter.allow(key, now) {
		m.mu.Unlock()
		m.reject(key, "rejected_rate_limit")
		return noopUnsubscribe, nil
	}

	name := m.uniqueNameLocked(config, now)
	cm := &channelManager{
		key:      key,
		name:     name,
		config:   config,
		handlers: map[Handler]struct{}{h: {}},
		status:   realtime.StatusConnecting,
		created:  now,
	}
	ch := m.openLocked(cm)
	m.channels[key] = cm
	m.mu.Unlock()

	telemetry.SubscribeTotal.With("created").Inc()
	telemetry.ChannelsCreatedTotal.Inc()
	log.Info().Str("channel_key", key).Str("channel", name).Msg("Opening realtime channel")

	ch.Subscribe(m.statusHandler(cm, ch))
	return m.unsubscribeFunc(cm, h), nil
}

func (m *Manager) reject(key, result string) {
	telemetry.SubscribeTotal.With(result).Inc()
	log.Debug().Str("channel_key", key).Str("reason", result).Msg("Subscription refused")
}

// uniqueNameLocked derives a physical name not held by any live channel.
// Distinct keys can sanitize to the same text within one clock tick.
func (m *Manager) uniqueNameLocked(config realtime.SubscriptionConfig, now time.Time) string {
	name := channelkey.Name(config, now)
	for i := 1; ; i++ {
		if _, taken := m.byName[name]; !taken {
			return name
		}
		name = channelkey.Name(config, now.Add(time.Duration(i)))
	}
}

// openLocked creates a transport handle for cm and registers the change
// listener. The caller subscribes the returned handle after unlocking.
func (m *Manager) openLocked(cm *channelManager) transport.Channel {
	ch := m.transport.Channel(cm.name)
	ch.OnChange(cm.changeSpec(), m.changeHandler(cm, ch))
	cm.channel = ch
	cm.status = realtime.StatusConnecting
	m.byName[cm.name] = cm
	return ch
}

// replaceLocked swaps cm onto a fresh handle for a reconnect and returns the
// old and new handles.
func (m *Manager) replaceLocked(cm *channelManager, now time.Time) (old, fresh transport.Channel) {
	old = cm.channel
	delete(m.byName, cm.name)
	cm.name = m.uniqueNameLocked(cm.config, now)
	fresh = m.openLocked(cm)
	return old, fresh
}

func (m *Manager) unsubscribeFunc(cm *channelManager, h Handler) UnsubscribeFunc {
	var once sync.Once
	return func() {
		once.Do(func() { m.unregister(cm, h) })
	}
}

func (m *Manager) unregister(cm *channelManager, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channels[cm.key] != cm {
		return
	}
	delete(cm.handlers, h)
	if len(cm.handlers) > 0 {
		return
	}

	cm.cancelTeardown()
	gen := cm.teardownGen
	cm.teardown = m.clock.AfterFunc(m.config.DebounceWindow, func() {
		m.teardownIdle(cm, gen)
	})
	log.Debug().
		Str("channel_key", cm.key).
		Dur("debounce", m.config.DebounceWindow).
		Msg("Last handler removed, scheduling channel teardown")
}

func (m *Manager) teardownIdle(cm *channelManager, gen uint64) {
	m.mu.Lock()
	if m.channels[cm.key] != cm || cm.teardownGen != gen || len(cm.handlers) > 0 {
		m.mu.Unlock()
		return
	}
	m.dropLocked(cm)
	m.reconnect.CleanupErrorState(cm.key)
	ch := cm.channel
	m.mu.Unlock()

	log.Info().Str("channel_key", cm.key).Str("channel", ch.Name()).Msg("Closing idle realtime channel")
	m.closeChannel(ch, "idle")
}

// dropLocked removes cm from the registry
func (m *Manager) dropLocked(cm *channelManager) {
	cm.cancelTeardown()
	cm.status = realtime.StatusClosed
	delete(m.channels, cm.key)
	if m.byName[cm.name] == cm {
		delete(m.byName, cm.name)
	}
}

func (m *Manager) closeChannel(ch transport.Channel, reason string) {
	if ch == nil {
		return
	}
	telemetry.ChannelsClosedTotal.With(reason).Inc()
	if err := m.transport.RemoveChannel(ch); err != nil {
		log.Warn().Err(err).Str("channel", ch.Name()).Msg("Failed to remove realtime channel")
	}
}

// currentLocked reports whether ch is still the live handle of cm
func (m *Manager) currentLocked(cm *channelManager, ch transport.Channel) bool {
	return m.channels[cm.key] == cm && cm.channel == ch
}

func (m *Manager) changeHandler(cm *channelManager, ch transport.Channel) transport.ChangeHandler {
	return func(event realtime.ChangeEvent) {
		m.mu.Lock()
		if !m.currentLocked(cm, ch) {
			m.mu.Unlock()
			return
		}
		handlers := cm.snapshotHandlers()
		m.mu.Unlock()

		for _, h := range handlers {
			m.invoke(cm.key, h, event)
		}
	}
}

// invoke runs one handler, containing its errors and panics
func (m *Manager) invoke(key string, h Handler, event realtime.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.CallbackFailuresTotal.With("panic").Inc()
			log.Error().
				Str("channel_key", key).
				Interface("panic", r).
				Msg("Subscription handler panicked")
		}
	}()

	telemetry.EventsDeliveredTotal.With(string(event.Kind())).Inc()
	if err := h.HandleChange(event); err != nil {
		telemetry.CallbackFailuresTotal.With("error").Inc()
		log.Warn().
			Err(err).
			Str("channel_key", key).
			Str("kind", string(event.Kind())).
			Msg("Subscription handler failed")
	}
}

func (m *Manager) statusHandler(cm *channelManager, ch transport.Channel) transport.StatusHandler {
	return func(status realtime.Status, err error) {
		telemetry.ChannelStatusTotal.With(string(status)).Inc()

		m.mu.Lock()
		if !m.currentLocked(cm, ch) {
			m.mu.Unlock()
			return
		}
		cm.status = status

		switch {
		case status == realtime.StatusSubscribed:
			m.breaker.reset(cm.key)
			m.reconnect.ResetReconnectAttempts(cm.key)
			m.mu.Unlock()
			log.Info().Str("channel_key", cm.key).Str("channel", ch.Name()).Msg("Realtime channel subscribed")

		case status.Failed():
			key := cm.key
			now := m.clock.Now()
			opened := m.breaker.recordFailure(key, now)
			allowed := m.limiter.allow(key, now)
			duplicate := !allowed && m.reconnect.HasPending(key)

			// Scheduled under the lock so UnsubscribeAll always sees the timer
			exhausted := false
			if !duplicate {
				m.reconnect.HandleChannelError(key, cm.config, m.reconnectFunc(cm, m.epoch), func(string) {
					exhausted = true
				})
			}
			var abandoned transport.Channel
			dropped := 0
			if exhausted {
				abandoned = cm.channel
				dropped = len(cm.handlers)
				m.dropLocked(cm)
			}
			m.mu.Unlock()

			if opened {
				telemetry.CircuitOpenedTotal.Inc()
				log.Warn().
					Str("channel_key", key).
					Int("threshold", m.config.CircuitThreshold).
					Dur("cooldown", m.config.CircuitCooldown).
					Msg("Circuit breaker opened")
			}
			log.Warn().Err(err).Str("channel_key", key).Str("status", string(status)).Bool("duplicate", duplicate).Msg("Realtime channel failed")
			if exhausted {
				log.Warn().Str("channel_key", key).Int("handlers", dropped).Msg("Abandoning realtime channel")
				m.closeChannel(abandoned, "exhausted")
			}

		default:
			m.mu.Unlock()
		}
	}
}

// reconnectFunc returns the backoff callback for cm. It is bound to the epoch
// it was scheduled in, so a timer that outlives UnsubscribeAll or a teardown
// is a no-op.
func (m *Manager) reconnectFunc(cm *channelManager, epoch uint64) reconnect.ReconnectFunc {
	return func(string, realtime.SubscriptionConfig) {
		m.reconnectAutomatic(cm, epoch)
	}
}

// liveLocked reports whether cm is still registered in the given epoch
func (m *Manager) liveLocked(cm *channelManager, epoch uint64) bool {
	return m.state == StateReady && m.epoch == epoch && m.channels[cm.key] == cm
}

// reconnectAutomatic runs when a backoff timer fires
func (m *Manager) reconnectAutomatic(cm *channelManager, epoch uint64) {
	key := cm.key

	m.mu.Lock()
	if !m.liveLocked(cm, epoch) {
		if _, exists := m.channels[key]; !exists && m.epoch == epoch {
			m.reconnect.CleanupErrorState(key)
		}
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if wait := m.breaker.remaining(key, now); wait > 0 {
		m.reconnect.Defer(key, cm.config, wait, m.reconnectFunc(cm, epoch))
		m.mu.Unlock()
		log.Info().Str("channel_key", key).Dur("wait", wait).Msg("Circuit open, deferring reconnect")
		return
	}

	m.limiter.stamp(key, now)
	old, fresh := m.replaceLocked(cm, now)
	m.mu.Unlock()

	telemetry.ReconnectsTotal.With("automatic").Inc()
	log.Info().Str("channel_key", key).Str("channel", fresh.Name()).Msg("Reconnecting realtime channel")
	m.swap(cm, old, fresh)
}

func (m *Manager) swap(cm *channelManager, old, fresh transport.Channel) {
	if old != nil {
		if err := m.transport.RemoveChannel(old); err != nil {
			log.Warn().Err(err).Str("channel", old.Name()).Msg("Failed to remove replaced channel")
		}
	}
	fresh.Subscribe(m.statusHandler(cm, fresh))
}

// GetChannelStatus returns the status of the channel for config, or false if
// no channel exists.
func (m *Manager) GetChannelStatus(config realtime.SubscriptionConfig) (realtime.Status, bool) {
	key := channelkey.Key(config)

	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.channels[key]
	if !ok {
		return "", false
	}
	return cm.status, true
}

// ReconnectChannel replaces the channel for config with a fresh one, keeping
// every handler. Refusals are reported with ErrChannelNotFound, ErrCleaningUp,
// ErrCircuitOpen or ErrRateLimited and leave the channel untouched.
func (m *Manager) ReconnectChannel(config realtime.SubscriptionConfig) error {
	config, err := m.normalize(config)
	if err != nil {
		return err
	}
	key := channelkey.Key(config)

	m.mu.Lock()
	if m.state == StateCleaningUp {
		m.mu.Unlock()
		return ErrCleaningUp
	}
	cm, ok := m.channels[key]
	if !ok {
		m.mu.Unlock()
		return ErrChannelNotFound
	}
	now := m.clock.Now()
	if m.breaker.isOpen(key, now) {
		m.mu.Unlock()
		return ErrCircuitOpen
	}
	if !m.limiter.allow(key, now) {
		m.mu.Unlock()
		return ErrRateLimited
	}

	m.reconnect.ResetReconnectAttempts(key)
	old, fresh := m.replaceLocked(cm, now)
	m.mu.Unlock()

	telemetry.ReconnectsTotal.With("manual").Inc()
	log.Info().Str("channel_key", key).Str("channel", fresh.Name()).Msg("Manual channel reconnect")
	m.swap(cm, old, fresh)
	return nil
}

// UnsubscribeAll closes every channel and clears all timers, rate limits,
// breaker and retry state. Idempotent.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	if m.state == StateCleaningUp {
		m.mu.Unlock()
		return
	}
	m.state = StateCleaningUp
	m.epoch++

	handles := make([]transport.Channel, 0, len(m.channels))
	for _, cm := range m.channels {
		cm.cancelTeardown()
		cm.status = realtime.StatusClosed
		handles = append(handles, cm.channel)
	}
	m.channels = make(map[string]*channelManager)
	m.byName = make(map[string]*channelManager)
	m.reconnect.CleanupAll()
	m.limiter.clear()
	m.breaker.clear()
	m.mu.Unlock()

	for _, ch := range handles {
		m.closeChannel(ch, "unsubscribe_all")
	}
	log.Info().Int("channels", len(handles)).Msg("Unsubscribed all realtime channels")

	m.mu.Lock()
	m.state = StateReady
	m.mu.Unlock()
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveChannelCount returns the number of physical channels
func (m *Manager) ActiveChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// HandlerCount returns the number of handlers across all channels
func (m *Manager) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, cm := range m.channels {
		total += len(cm.handlers)
	}
	return total
}

// OpenCircuitCount returns the number of keys with an open circuit breaker
func (m *Manager) OpenCircuitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breaker.openCount(m.clock.Now())
}

// ChannelInfo describes every channel, sorted by key
func (m *Manager) ChannelInfo() []ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ChannelInfo, 0, len(m.channels))
	for _, cm := range m.channels {
		infos = append(infos, ChannelInfo{
			Key:               cm.key,
			Name:              cm.name,
			CallbackCount:     len(cm.handlers),
			Status:            cm.status,
			Config:            cm.config,
			ReconnectAttempts: m.reconnect.Attempts(cm.key),
			CreatedAt:         cm.created,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// CircuitBreakerStatus returns the breaker state of every key with recorded failures
func (m *Manager) CircuitBreakerStatus() map[string]BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breaker.snapshot(m.clock.Now())
}
