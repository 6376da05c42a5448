package driver

import (
	"context"
	"sort"
	"sync"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/transport"
)

func init() {
	transport.Register(cfg.TransportMemory, func(config cfg.TransportConfiguration, clientID string) (transport.Transport, error) {
		return NewMemoryTransport(), nil
	})
}

// MemoryTransport is an in-process transport. Published messages go through
// the wire codec so subscribers see the same value types as on a network
// transport. Subscribe reports subscribed synchronously unless auto subscribe
// is disabled, in which case tests drive status with InjectStatus.
type MemoryTransport struct {
	mu            sync.Mutex
	channels      map[string]*memoryChannel
	autoSubscribe bool
	removed       int
	closed        bool
}

type memoryChannel struct {
	*transport.Base
	owner      *MemoryTransport
	subscribed bool
}

// NewMemoryTransport creates an empty in-process transport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		channels:      make(map[string]*memoryChannel),
		autoSubscribe: true,
	}
}

// SetAutoSubscribe controls whether Subscribe immediately reports subscribed
func (t *MemoryTransport) SetAutoSubscribe(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoSubscribe = enabled
}

// Channel creates a channel. A later channel with the same name replaces the
// earlier one for InjectStatus lookups.
func (t *MemoryTransport) Channel(name string) transport.Channel {
	c := &memoryChannel{Base: transport.NewBase(name), owner: t}

	t.mu.Lock()
	t.channels[name] = c
	t.mu.Unlock()

	return c
}

func (c *memoryChannel) Subscribe(handler transport.StatusHandler) {
	if !c.Attach(handler) {
		return
	}

	t := c.owner
	t.mu.Lock()
	auto := t.autoSubscribe && !t.closed
	if auto {
		c.subscribed = true
	}
	t.mu.Unlock()

	if auto {
		c.Report(realtime.StatusSubscribed, nil)
	}
}

// RemoveChannel reports closed on ch and forgets it
func (t *MemoryTransport) RemoveChannel(ch transport.Channel) error {
	c, ok := ch.(*memoryChannel)
	if !ok {
		return nil
	}

	t.mu.Lock()
	if current, exists := t.channels[c.Name()]; exists && current == c {
		delete(t.channels, c.Name())
	}
	c.subscribed = false
	t.removed++
	t.mu.Unlock()

	c.Report(realtime.StatusClosed, nil)
	return nil
}

// Publish delivers msg to every subscribed channel with a matching listener
func (t *MemoryTransport) Publish(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrTransportClosed
	}

	data, err := transport.EncodeMessage(msg, false)
	if err != nil {
		return err
	}
	decoded, err := transport.DecodeMessage(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	targets := make([]*memoryChannel, 0, len(t.channels))
	for _, c := range t.channels {
		if c.subscribed {
			targets = append(targets, c)
		}
	}
	t.mu.Unlock()

	for _, c := range targets {
		c.Deliver(decoded)
	}
	return nil
}

// InjectStatus reports status on the live channel called name.
// Returns false if no such channel exists.
func (t *MemoryTransport) InjectStatus(name string, status realtime.Status, err error) bool {
	t.mu.Lock()
	c, ok := t.channels[name]
	if ok {
		c.subscribed = status == realtime.StatusSubscribed
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	c.Report(status, err)
	return true
}

// ChannelNames returns the names of live channels, sorted
func (t *MemoryTransport) ChannelNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.channels))
	for name := range t.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Removed returns how many RemoveChannel calls were made
func (t *MemoryTransport) Removed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removed
}

// Close reports closed on every live channel
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := make([]*memoryChannel, 0, len(t.channels))
	for _, c := range t.channels {
		channels = append(channels, c)
	}
	t.channels = make(map[string]*memoryChannel)
	t.mu.Unlock()

	for _, c := range channels {
		c.Report(realtime.StatusClosed, nil)
	}
	return nil
}
