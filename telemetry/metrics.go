package telemetry

// ReconnectDelayBuckets covers the backoff schedule from 1s up to a 30s cooldown floor
var ReconnectDelayBuckets = []float64{0.5, 1, 2, 4, 8, 16, 30, 60}

// Channel lifecycle metrics
var (
	// ChannelsActive tracks physical channels in the registry
	ChannelsActive Gauge = NoopStat{}

	// HandlersRegistered tracks handlers attached across all channels
	HandlersRegistered Gauge = NoopStat{}

	// CircuitsOpen tracks channel keys whose circuit breaker is open
	CircuitsOpen Gauge = NoopStat{}

	// ChannelsCreatedTotal counts physical channels opened
	ChannelsCreatedTotal Counter = NoopStat{}

	// ChannelsClosedTotal counts channel teardowns by reason (idle, exhausted, unsubscribe_all)
	ChannelsClosedTotal CounterVec = noopCounterVec{}

	// ChannelStatusTotal counts transport status reports by status
	ChannelStatusTotal CounterVec = noopCounterVec{}
)

// Subscription metrics
var (
	// SubscribeTotal counts Subscribe calls by result
	// (created, attached, rejected_rate_limit, rejected_circuit_open, rejected_cleaning_up, invalid)
	SubscribeTotal CounterVec = noopCounterVec{}

	// EventsDeliveredTotal counts handler invocations by event kind
	EventsDeliveredTotal CounterVec = noopCounterVec{}

	// CallbackFailuresTotal counts handlers that returned an error or panicked (error, panic)
	CallbackFailuresTotal CounterVec = noopCounterVec{}
)

// Reconnect metrics
var (
	// ReconnectsTotal counts reconnects by trigger (automatic, manual)
	ReconnectsTotal CounterVec = noopCounterVec{}

	// ReconnectDelaySeconds measures scheduled backoff delays
	ReconnectDelaySeconds Histogram = NoopStat{}

	// CircuitOpenedTotal counts transitions of a circuit breaker to open
	CircuitOpenedTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry is created.
func InitMetrics() {
	ChannelsActive = NewGauge(
		"channels_active",
		"Number of physical realtime channels",
	)
	HandlersRegistered = NewGauge(
		"handlers_registered",
		"Number of handlers attached to realtime channels",
	)
	CircuitsOpen = NewGauge(
		"circuits_open",
		"Number of channel keys with an open circuit breaker",
	)
	ChannelsCreatedTotal = NewCounter(
		"channels_created_total",
		"Total physical channels opened",
	)
	ChannelsClosedTotal = NewCounterVec(
		"channels_closed_total",
		"Channel teardowns by reason",
		[]string{"reason"},
	)
	ChannelStatusTotal = NewCounterVec(
		"channel_status_total",
		"Transport status reports by status",
		[]string{"status"},
	)

	SubscribeTotal = NewCounterVec(
		"subscribe_total",
		"Subscribe calls by result",
		[]string{"result"},
	)
	EventsDeliveredTotal = NewCounterVec(
		"events_delivered_total",
		"Handler invocations by event kind",
		[]string{"kind"},
	)
	CallbackFailuresTotal = NewCounterVec(
		"callback_failures_total",
		"Handler failures by type",
		[]string{"type"},
	)

	ReconnectsTotal = NewCounterVec(
		"reconnects_total",
		"Channel reconnects by trigger",
		[]string{"trigger"},
	)
	ReconnectDelaySeconds = NewHistogramWithBuckets(
		"reconnect_delay_seconds",
		"Scheduled reconnect delay in seconds",
		ReconnectDelayBuckets,
	)
	CircuitOpenedTotal = NewCounter(
		"circuit_opened_total",
		"Total circuit breaker openings",
	)
}
