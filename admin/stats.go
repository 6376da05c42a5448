package admin

import "net/http"

// handleStats returns manager counters
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state":           h.subs.State(),
		"active_channels": h.subs.ActiveChannelCount(),
		"handlers":        h.subs.HandlerCount(),
		"open_circuits":   h.subs.OpenCircuitCount(),
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// handleHealth reports healthy unless every tracked channel has an open circuit
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	channels := h.subs.ActiveChannelCount()
	open := h.subs.OpenCircuitCount()
	healthy := open == 0 || open < channels

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, status, map[string]interface{}{
		"healthy": healthy,
		"stats": map[string]interface{}{
			"active_channels": channels,
			"open_circuits":   open,
		},
	})
}
