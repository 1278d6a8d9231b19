package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// MeasurementType identifies the physical quantity a sensor reports.
type MeasurementType string

const (
	MeasurementTemperature MeasurementType = "temperature"
	MeasurementPressure    MeasurementType = "pressure"
)

// IsValid checks if the measurement type is one we track
func (m MeasurementType) IsValid() bool {
	switch m {
	case MeasurementTemperature, MeasurementPressure:
		return true
	default:
		return false
	}
}

// Reading is a single timestamped sensor sample for a device. Readings are
// produced externally and never mutated by the core after intake.
type Reading struct {
	// Pipeline sector the device belongs to
	PipelineID string `json:"pipeline_id"`

	// Device that produced the sample
	DeviceID string `json:"device_id"`

	// What was measured
	Measurement MeasurementType `json:"measurement_type"`

	// Measured value in the measurement's native unit
	Value float64 `json:"value"`

	// When the sample was taken at the device
	Timestamp time.Time `json:"timestamp"`
}

// Validation errors
var (
	ErrEmptyPipelineID    = errors.New("pipeline ID cannot be empty")
	ErrEmptyDeviceID      = errors.New("device ID cannot be empty")
	ErrInvalidMeasurement = errors.New("invalid measurement type")
	ErrZeroTimestamp      = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp    = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp   = errors.New("invalid timestamp format")
	ErrNonFiniteValue     = errors.New("value must be a finite number")
)

// Validate checks if the Reading has all required fields and valid values
func (r *Reading) Validate() error {
	if r.PipelineID == "" {
		return ErrEmptyPipelineID
	}

	if r.DeviceID == "" {
		return ErrEmptyDeviceID
	}

	if !r.Measurement.IsValid() {
		return ErrInvalidMeasurement
	}

	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return ErrNonFiniteValue
	}

	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if r.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	return nil
}

// Normalize applies field normalization to a Reading
// - trims pipeline and device identifiers
// - lower-cases the measurement type
func (r *Reading) Normalize() {
	r.PipelineID = strings.TrimSpace(r.PipelineID)
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	r.Measurement = MeasurementType(strings.ToLower(strings.TrimSpace(string(r.Measurement))))
}

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
