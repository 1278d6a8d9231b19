package models

import "time"

// ValveAction is a command direction for an actuator.
type ValveAction string

const (
	ActionOpen  ValveAction = "open"
	ActionClose ValveAction = "close"
)

// TargetPosition is the valve position an action drives toward.
func (a ValveAction) TargetPosition() ValvePosition {
	if a == ActionClose {
		return ValveClosed
	}
	return ValveOpen
}

// ValvePosition is the last confirmed physical position of a device's valve.
type ValvePosition string

const (
	ValveOpen    ValvePosition = "open"
	ValveClosed  ValvePosition = "closed"
	ValveUnknown ValvePosition = "unknown"
)

// CommandStatus tracks a valve command through its lifecycle.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSent      CommandStatus = "sent"
	CommandConfirmed CommandStatus = "confirmed"
	CommandFailed    CommandStatus = "failed"
)

// ValveCommand is a single actuation request. It is created by the control
// loop and owned by the dispatcher until it reaches a terminal state.
type ValveCommand struct {
	CommandID    string        `json:"command_id"`
	DeviceID     string        `json:"device_id"`
	PipelineID   string        `json:"pipeline_id"`
	Action       ValveAction   `json:"action"`
	IssuedAt     time.Time     `json:"issued_at"`
	Status       CommandStatus `json:"status"`
	AttemptCount int           `json:"attempt_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// DeviceValveState holds the last confirmed valve position for a device.
// Only confirmed command completions move Position; an unconfirmed command
// never changes it.
type DeviceValveState struct {
	DeviceID        string        `json:"device_id"`
	PipelineID      string        `json:"pipeline_id"`
	Position        ValvePosition `json:"current_state"`
	LastChangedAt   time.Time     `json:"last_changed_at"`
	LastConfirmedAt *time.Time    `json:"last_confirmed_at,omitempty"`
}
