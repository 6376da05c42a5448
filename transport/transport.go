// Package transport defines the realtime channel primitive the subscription
// manager consumes, plus the pieces shared by every driver: the wire message,
// filter predicates, and a name-based driver registry.
//
// A Transport opens named channels. Each Channel accepts change listeners via
// OnChange and is activated with Subscribe, which reports status transitions
// (subscribed, channel_error, timed_out, closed) to a single StatusHandler.
// Drivers live in transport/driver and register themselves in init().
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/realtime"
)

var ErrTransportClosed = errors.New("transport closed")

// ChangeHandler receives change events matching a listener's ChangeSpec
type ChangeHandler func(event realtime.ChangeEvent)

// StatusHandler receives channel status transitions. err is set for failures.
type StatusHandler func(status realtime.Status, err error)

// ChangeSpec selects the changes a listener receives.
// Filter uses the col=eq.value,... syntax produced by channelkey.FormatFilter.
type ChangeSpec struct {
	Event  realtime.EventType
	Schema string
	Table  string
	Filter string
}

// Channel is one physical realtime subscription
type Channel interface {
	Name() string
	// OnChange registers a listener. Must be called before Subscribe.
	OnChange(spec ChangeSpec, handler ChangeHandler)
	// Subscribe activates the channel. Status is reported asynchronously or
	// synchronously depending on the driver; handlers must tolerate both.
	Subscribe(handler StatusHandler)
}

// Transport opens and closes channels
type Transport interface {
	Channel(name string) Channel
	RemoveChannel(ch Channel) error
	Close() error
}

// Publisher is implemented by transports that can also emit change messages
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Factory creates a Transport from configuration
type Factory func(config cfg.TransportConfiguration, clientID string) (Transport, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// Register registers a transport factory for a type
func Register(transportType string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[transportType] = factory
}

// New creates a transport based on config.Type
func New(config cfg.TransportConfiguration, clientID string) (Transport, error) {
	factoryMu.RLock()
	factory, exists := factories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}

	return factory(config, clientID)
}

// Registered returns the registered transport types, sorted
func Registered() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
