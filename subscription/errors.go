package subscription

import "errors"

var (
	ErrNoTransport      = errors.New("subscription manager requires a transport")
	ErrNilHandler       = errors.New("subscription handler is nil")
	ErrTableNotAllowed  = errors.New("table is not in the allowed tables list")
	ErrChannelNotFound  = errors.New("no channel for subscription")
	ErrRateLimited      = errors.New("channel operation rate limited")
	ErrCircuitOpen      = errors.New("channel circuit breaker is open")
	ErrCleaningUp       = errors.New("subscription manager is cleaning up")
	errInvalidAllowlist = errors.New("invalid allowed table pattern")
)
