package models

import "time"

// AlertKind categorizes what an alert is about. Measurement kinds mirror the
// measurement types; system alerts cover actuation and platform failures.
type AlertKind string

const (
	KindTemperature AlertKind = "temperature"
	KindPressure    AlertKind = "pressure"
	KindSystem      AlertKind = "system"
)

// KindForMeasurement maps a measurement type to its alert kind.
func KindForMeasurement(m MeasurementType) AlertKind {
	switch m {
	case MeasurementTemperature:
		return KindTemperature
	case MeasurementPressure:
		return KindPressure
	default:
		return AlertKind(m)
	}
}

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for escalation comparisons (higher is worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is a deduplicated risk notification for one (device, kind) pair.
// At most one active alert exists per pair; repeat triggers update the
// existing record instead of creating duplicates.
type Alert struct {
	ID             string      `json:"id"`
	PipelineID     string      `json:"pipeline_id"`
	DeviceID       string      `json:"device_id"`
	Kind           AlertKind   `json:"alert_kind"`
	Severity       Severity    `json:"severity"`
	Value          float64     `json:"value"`
	Threshold      float64     `json:"threshold"`
	Status         AlertStatus `json:"status"`
	Detail         string      `json:"detail,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	ResolutionNote string      `json:"resolution_note,omitempty"`
}
