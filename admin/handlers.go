package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/subscription"
	"github.com/rs/zerolog/log"
)

// Subscriptions is the subset of the subscription manager exposed over HTTP
type Subscriptions interface {
	ChannelInfo() []subscription.ChannelInfo
	CircuitBreakerStatus() map[string]subscription.BreakerState
	GetChannelStatus(config realtime.SubscriptionConfig) (realtime.Status, bool)
	ReconnectChannel(config realtime.SubscriptionConfig) error
	UnsubscribeAll()
	State() subscription.State
	ActiveChannelCount() int
	HandlerCount() int
	OpenCircuitCount() int
}

// AdminHandlers handles the debug endpoints of the subscription manager
type AdminHandlers struct {
	subs Subscriptions
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(subs Subscriptions) *AdminHandlers {
	return &AdminHandlers{subs: subs}
}

const filterParamPrefix = "filter."

// parseSubscription builds a subscription config from query parameters:
// table, schema, event and one filter.<column>=<value> per filter column.
func parseSubscription(query url.Values) (realtime.SubscriptionConfig, error) {
	config := realtime.SubscriptionConfig{
		Table:  query.Get("table"),
		Schema: query.Get("schema"),
		Event:  realtime.EventType(query.Get("event")),
	}

	for name, values := range query {
		column, ok := strings.CutPrefix(name, filterParamPrefix)
		if !ok || len(values) == 0 {
			continue
		}
		if column == "" {
			return config, errors.New("filter column name is required")
		}
		if config.Filter == nil {
			config.Filter = make(map[string]any)
		}
		config.Filter[column] = values[0]
	}

	config = config.Normalize()
	return config, config.Validate()
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON error response")
	}
}

// errorStatus maps manager refusals to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, subscription.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, subscription.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, subscription.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, subscription.ErrCleaningUp):
		return http.StatusConflict
	case errors.Is(err, subscription.ErrTableNotAllowed),
		errors.Is(err, realtime.ErrMissingTable),
		errors.Is(err, realtime.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
