package transport

import (
	"fmt"
	"sync"

	"github.com/buildline/sitesync/realtime"
	"github.com/rs/zerolog/log"
)

type listener struct {
	matcher Matcher
	handler ChangeHandler
}

// Base implements the listener and status bookkeeping every driver channel
// shares. Drivers embed it and implement Subscribe.
type Base struct {
	name string

	mu        sync.Mutex
	listeners []listener
	specs     []ChangeSpec
	status    StatusHandler
	closed    bool
	invalid   error
}

// NewBase creates the shared state for a channel called name
func NewBase(name string) *Base {
	return &Base{name: name}
}

// Name returns the physical channel name
func (b *Base) Name() string {
	return b.name
}

// OnChange registers a listener. A spec with an unparsable filter is not
// registered and makes the next Attach fail the channel.
func (b *Base) OnChange(spec ChangeSpec, handler ChangeHandler) {
	matcher, err := Compile(spec)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		log.Warn().
			Err(err).
			Str("channel", b.name).
			Str("filter", spec.Filter).
			Msg("Rejecting change listener with invalid filter")
		if b.invalid == nil {
			b.invalid = fmt.Errorf("listener filter %q: %w", spec.Filter, err)
		}
		return
	}
	b.listeners = append(b.listeners, listener{matcher: matcher, handler: handler})
	b.specs = append(b.specs, spec)
}

// Specs returns the registered listener specs
func (b *Base) Specs() []ChangeSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ChangeSpec, len(b.specs))
	copy(out, b.specs)
	return out
}

// SetStatusHandler stores the handler passed to Subscribe
func (b *Base) SetStatusHandler(handler StatusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = handler
}

// Attach stores the handler passed to Subscribe. When a listener was
// rejected it reports channel_error and returns false; the driver must not
// subscribe then.
func (b *Base) Attach(handler StatusHandler) bool {
	b.SetStatusHandler(handler)

	b.mu.Lock()
	err := b.invalid
	b.mu.Unlock()
	if err != nil {
		b.Report(realtime.StatusChannelError, err)
		return false
	}
	return true
}

// Report forwards a status transition. Nothing is reported after closed.
func (b *Base) Report(status realtime.Status, err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if status == realtime.StatusClosed {
		b.closed = true
	}
	handler := b.status
	b.mu.Unlock()

	if handler != nil {
		handler(status, err)
	}
}

// Closed reports whether the channel reported closed
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Deliver dispatches msg to every matching listener and returns how many
// listeners received it.
func (b *Base) Deliver(msg Message) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	matched := make([]ChangeHandler, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.matcher.Match(msg) {
			matched = append(matched, l.handler)
		}
	}
	b.mu.Unlock()

	if len(matched) == 0 {
		return 0
	}

	ev, err := msg.Event()
	if err != nil {
		log.Warn().Err(err).Str("channel", b.name).Msg("Dropping malformed change message")
		return 0
	}

	for _, h := range matched {
		h(ev)
	}
	return len(matched)
}
