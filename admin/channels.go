package admin

import (
	"net/http"

	"github.com/buildline/sitesync/realtime"
	"github.com/rs/zerolog/log"
)

// handleListChannels returns every physical channel with its handler count
func (h *AdminHandlers) handleListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.subs.ChannelInfo())
}

// handleChannelStatus returns the status of the channel for the queried subscription
func (h *AdminHandlers) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	config, err := parseSubscription(r.URL.Query())
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	status, ok := h.subs.GetChannelStatus(config)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no channel for subscription")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"config": config,
	})
}

// handleReconnect forces a fresh channel for the queried subscription
func (h *AdminHandlers) handleReconnect(w http.ResponseWriter, r *http.Request) {
	config, err := parseSubscription(r.URL.Query())
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.subs.ReconnectChannel(config); err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	status, _ := h.subs.GetChannelStatus(config)
	writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"reconnecting": true,
		"status":       status,
	})
}

// handleCircuits returns the breaker state of every key with recorded failures
func (h *AdminHandlers) handleCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.subs.CircuitBreakerStatus())
}

// handleUnsubscribeAll closes every channel
func (h *AdminHandlers) handleUnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	closed := h.subs.ActiveChannelCount()
	h.subs.UnsubscribeAll()
	log.Warn().Int("channels", closed).Str("remote", r.RemoteAddr).Msg("Admin requested unsubscribe all")

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"closed": closed,
		"status": realtime.StatusClosed,
	})
}
