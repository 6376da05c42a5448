package subscription

import (
	"reflect"

	"github.com/buildline/sitesync/realtime"
)

// Handler receives change events for a subscription. A returned error is
// logged and counted; it never affects other handlers or the channel.
type Handler interface {
	HandleChange(event realtime.ChangeEvent) error
}

// Callback adapts a function to Handler
type Callback func(event realtime.ChangeEvent) error

// HandleChange calls c(event)
func (c Callback) HandleChange(event realtime.ChangeEvent) error {
	return c(event)
}

// UnsubscribeFunc removes one registration. Calls after the first are no-ops.
type UnsubscribeFunc func()

func noopUnsubscribe() {}

// callbackHandler gives a Callback a pointer identity so every Subscribe call
// is its own registration.
type callbackHandler struct {
	fn Callback
}

func (c *callbackHandler) HandleChange(event realtime.ChangeEvent) error {
	return c.fn(event)
}

// boxedHandler holds handlers whose values are not comparable and so cannot
// be used as set members directly.
type boxedHandler struct {
	Handler
}

// handlerIdentity returns the value a handler is stored under. Comparable
// handlers (pointers, plain structs) collapse when registered twice on one
// channel; anything else is boxed and stays distinct.
func handlerIdentity(h Handler) Handler {
	if reflect.ValueOf(h).Comparable() {
		return h
	}
	return &boxedHandler{Handler: h}
}
