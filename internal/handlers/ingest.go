package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
)

// Intake accepts validated, normalized readings into the core.
type Intake interface {
	Submit(r models.Reading) error
}

// ReadingsHandler handles sensor reading ingestion via HTTP
type ReadingsHandler struct {
	intake      Intake
	maxBodySize int64
}

// ReadingsConfig holds configuration for the readings handler
type ReadingsConfig struct {
	Intake      Intake
	MaxBodySize int64
}

// NewReadingsHandler creates a new readings handler
func NewReadingsHandler(cfg ReadingsConfig) *ReadingsHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 * 1024 * 1024 // 1MB default
	}

	return &ReadingsHandler{
		intake:      cfg.Intake,
		maxBodySize: maxBodySize,
	}
}

// ReadingInput is the input format for readings (with string timestamp)
type ReadingInput struct {
	PipelineID  string  `json:"pipeline_id"`
	DeviceID    string  `json:"device_id"`
	Measurement string  `json:"measurement_type"`
	Value       float64 `json:"value"`
	Timestamp   string  `json:"timestamp"`
}

// ingestRequest represents the incoming JSON payload (single or batch)
type ingestRequest struct {
	Reading  *ReadingInput  `json:"reading,omitempty"`
	Readings []ReadingInput `json:"readings,omitempty"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific reading
type IngestError struct {
	Index    int    `json:"index"`
	DeviceID string `json:"device_id,omitempty"`
	Error    string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no readings provided")
		return
	}

	response := h.processReadings(inputs)

	w.Header().Set("Content-Type", "application/json")
	if response.Rejected > 0 && response.Accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// parseBody parses the JSON body into a slice of ReadingInput
func parseBody(body []byte) ([]ReadingInput, error) {
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Readings) > 0 {
			return req.Readings, nil
		}
		if req.Reading != nil {
			return []ReadingInput{*req.Reading}, nil
		}
	}

	var batch []ReadingInput
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return batch, nil
	}

	var single ReadingInput
	if err := json.Unmarshal(body, &single); err == nil && single.DeviceID != "" {
		return []ReadingInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected reading object or array of readings")
}

// processReadings validates, normalizes, and submits readings
func (h *ReadingsHandler) processReadings(inputs []ReadingInput) IngestResponse {
	response := IngestResponse{
		Success: true,
		Errors:  make([]IngestError, 0),
	}

	for i, input := range inputs {
		reading, err := convertInput(input)
		if err == nil {
			reading.Normalize()
			err = reading.Validate()
		}
		if err == nil {
			err = h.intake.Submit(*reading)
		}

		if err != nil {
			metrics.ReadingsTotal.WithLabelValues("http", "rejected").Inc()
			response.Errors = append(response.Errors, IngestError{
				Index:    i,
				DeviceID: input.DeviceID,
				Error:    err.Error(),
			})
			response.Rejected++
			continue
		}

		metrics.ReadingsTotal.WithLabelValues("http", "accepted").Inc()
		response.Accepted++
	}

	response.Success = response.Rejected == 0
	return response
}

// convertInput converts ReadingInput to a Reading
func convertInput(input ReadingInput) (*models.Reading, error) {
	ts, err := models.ParseTimestamp(input.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}

	return &models.Reading{
		PipelineID:  input.PipelineID,
		DeviceID:    input.DeviceID,
		Measurement: models.MeasurementType(input.Measurement),
		Value:       input.Value,
		Timestamp:   ts,
	}, nil
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
