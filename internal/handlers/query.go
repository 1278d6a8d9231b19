package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pipewatch/internal/alerting"
	"pipewatch/internal/forecast"
	"pipewatch/internal/middleware"
	"pipewatch/internal/models"
	"pipewatch/internal/thresholds"
)

// ForecastSource serves the latest cached forecast per device.
type ForecastSource interface {
	Latest(deviceID string) (*forecast.Result, bool)
}

// AlertSource serves active alerts and accepts external resolutions.
type AlertSource interface {
	Active(pipelineID string) []models.Alert
	Resolve(alertID, note string) error
}

// ValveSource serves last confirmed valve states.
type ValveSource interface {
	ValveState(deviceID string) (models.DeviceValveState, bool)
}

// DeviceRemover stops all scheduling and drops retained state for a device
// leaving the topology.
type DeviceRemover interface {
	RemoveDevice(deviceID string)
}

// QueryHandler exposes the dashboard/bot query surface, runtime threshold
// configuration, and device removal.
type QueryHandler struct {
	forecasts  ForecastSource
	alerts     AlertSource
	valves     ValveSource
	devices    DeviceRemover
	thresholds *thresholds.Store
}

// NewQueryHandler creates a query handler over the core's read surfaces.
func NewQueryHandler(forecasts ForecastSource, alerts AlertSource, valves ValveSource, devices DeviceRemover, store *thresholds.Store) *QueryHandler {
	return &QueryHandler{
		forecasts:  forecasts,
		alerts:     alerts,
		valves:     valves,
		devices:    devices,
		thresholds: store,
	}
}

// Register attaches the query routes to the mux, each wrapped in the given
// middleware chain.
func (h *QueryHandler) Register(mux *http.ServeMux, middlewares ...func(http.Handler) http.Handler) {
	handle := func(path string, fn http.HandlerFunc) {
		mux.Handle(path, middleware.Chain(fn, middlewares...))
	}
	handle("/forecast", h.handleForecast)
	handle("/alerts", h.handleAlerts)
	handle("/alerts/resolve", h.handleResolve)
	handle("/valves", h.handleValves)
	handle("/thresholds", h.handleThresholds)
	handle("/devices", h.handleDevices)
}

func (h *QueryHandler) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	result, ok := h.forecasts.Latest(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "no forecast for device")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *QueryHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pipelineID := r.URL.Query().Get("pipeline_id")
	alerts := h.alerts.Active(pipelineID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

type resolveRequest struct {
	AlertID string `json:"alert_id"`
	Note    string `json:"note"`
}

func (h *QueryHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AlertID == "" {
		writeError(w, http.StatusBadRequest, "alert_id is required")
		return
	}

	if err := h.alerts.Resolve(req.AlertID, req.Note); err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *QueryHandler) handleValves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	state, ok := h.valves.ValveState(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

type thresholdRequest struct {
	Measurement string  `json:"measurement_type"`
	PipelineID  string  `json:"pipeline_id,omitempty"`
	Warning     float64 `json:"warning_threshold"`
	Critical    float64 `json:"critical_threshold"`
}

func (h *QueryHandler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	measurement := models.MeasurementType(req.Measurement)
	if !measurement.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid measurement_type")
		return
	}

	if err := h.thresholds.Set(measurement, req.PipelineID, req.Warning, req.Critical); err != nil {
		if errors.Is(err, thresholds.ErrOrdering) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleDevices removes a device from the topology. Queued readings drain
// and in-flight commands complete before scheduling stops; the device is
// re-tracked automatically if it reports again.
func (h *QueryHandler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	h.devices.RemoveDevice(deviceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
