package realtime

import (
	"errors"
	"fmt"
)

// DefaultSchema is applied when a subscription does not name a schema
const DefaultSchema = "public"

var (
	ErrMissingTable = errors.New("subscription table is required")
	ErrInvalidEvent = errors.New("invalid subscription event")
)

// EventType selects which row changes a subscription receives
type EventType string

const (
	EventAll    EventType = "*"
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether e is one of the known event types
func (e EventType) Valid() bool {
	switch e {
	case EventAll, EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Matches returns true if a change of kind k is delivered to a subscription for e
func (e EventType) Matches(k EventType) bool {
	return e == EventAll || e == k
}

// SubscriptionConfig identifies a logical subscription.
// Two configs with the same table, event, schema and filter entries share one channel.
type SubscriptionConfig struct {
	Table  string         `json:"table"`
	Event  EventType      `json:"event"`
	Schema string         `json:"schema"`
	Filter map[string]any `json:"filter,omitempty"` // column -> exact value, empty = all rows
}

// Normalize returns a copy with defaults applied for event and schema
func (c SubscriptionConfig) Normalize() SubscriptionConfig {
	if c.Event == "" {
		c.Event = EventAll
	}
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	if len(c.Filter) == 0 {
		c.Filter = nil
	} else {
		filter := make(map[string]any, len(c.Filter))
		for k, v := range c.Filter {
			filter[k] = v
		}
		c.Filter = filter
	}
	return c
}

// Validate checks the config for caller errors. Call on a normalized config.
func (c SubscriptionConfig) Validate() error {
	if c.Table == "" {
		return ErrMissingTable
	}
	if !c.Event.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, c.Event)
	}
	return nil
}

// Status is the transport-reported state of a physical channel
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusSubscribed   Status = "subscribed"
	StatusChannelError Status = "channel_error"
	StatusTimedOut     Status = "timed_out"
	StatusClosed       Status = "closed"
)

// Failed reports whether the status should trigger reconnection
func (s Status) Failed() bool {
	return s == StatusChannelError || s == StatusTimedOut
}
