package handlers

import (
	"encoding/json"
	"net/http"

	"pipewatch/internal/actuation"
)

// Confirmer receives asynchronous actuator confirmations.
type Confirmer interface {
	Confirm(deviceID, commandID string, outcome actuation.Outcome) bool
}

// ConfirmHandler is the callback endpoint actuators post command outcomes
// to when they did not acknowledge synchronously.
type ConfirmHandler struct {
	confirmer Confirmer
}

// NewConfirmHandler creates the actuator confirmation handler.
func NewConfirmHandler(confirmer Confirmer) *ConfirmHandler {
	return &ConfirmHandler{confirmer: confirmer}
}

type confirmRequest struct {
	DeviceID  string `json:"device_id"`
	CommandID string `json:"command_id"`
	Outcome   string `json:"outcome"`
}

// ServeHTTP handles the confirmation callback.
func (h *ConfirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.CommandID == "" {
		writeError(w, http.StatusBadRequest, "device_id and command_id are required")
		return
	}

	outcome := actuation.Outcome(req.Outcome)
	if outcome != actuation.OutcomeConfirmed && outcome != actuation.OutcomeFailed {
		writeError(w, http.StatusBadRequest, "outcome must be confirmed or failed")
		return
	}

	matched := h.confirmer.Confirm(req.DeviceID, req.CommandID, outcome)
	if !matched {
		writeError(w, http.StatusNotFound, "no command awaiting confirmation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
