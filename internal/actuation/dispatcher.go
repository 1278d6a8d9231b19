package actuation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pipewatch/internal/alerting"
	"pipewatch/internal/logger"
	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
)

// Dispatcher errors
var (
	ErrTransport      = errors.New("actuator transport failure")
	ErrConfirmTimeout = errors.New("actuation confirmation timeout")
	ErrRejected       = errors.New("actuator rejected command")
)

// Outcome is the result an actuator reports for a command.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
)

// Client sends one command to the external actuator interface. acked true
// means the actuator confirmed synchronously; otherwise confirmation
// arrives later through Dispatcher.Confirm.
type Client interface {
	Send(ctx context.Context, cmd *models.ValveCommand) (acked bool, err error)
}

// SystemAlerter raises operator-visible alerts after retry exhaustion.
type SystemAlerter interface {
	RaiseSystem(deviceID, pipelineID, detail string) alerting.Change
}

// Config holds the dispatcher's tunables.
type Config struct {
	// Total send attempts before a command fails
	MaxAttempts int

	// Initial backoff between attempts; doubles each retry
	RetryBackoff time.Duration

	// How long a sent command waits for asynchronous confirmation
	ConfirmTimeout time.Duration
}

// Dispatcher owns the ValveCommand lifecycle: pending -> sent ->
// confirmed/failed. It blocks the calling device's control task while a
// command is in flight but never other devices.
type Dispatcher struct {
	client Client
	alerts SystemAlerter
	cfg    Config

	mu      sync.Mutex
	pending map[string]chan Outcome
}

// NewDispatcher creates a dispatcher sending through the given client.
func NewDispatcher(client Client, alerts SystemAlerter, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	return &Dispatcher{
		client:  client,
		alerts:  alerts,
		cfg:     cfg,
		pending: make(map[string]chan Outcome),
	}
}

// Dispatch drives a command to a terminal state and returns nil only when
// the actuator confirmed it. On exhausted retries the command is marked
// failed and a system alert is raised; the caller must leave the device's
// valve state at its last confirmed value.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *models.ValveCommand) error {
	log := logger.WithDevice("dispatcher", cmd.DeviceID)
	cmd.Status = models.CommandPending

	backoff := d.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.ActuationRetries.Inc()
			log.Warn().
				Str("command_id", cmd.CommandID).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying valve command")

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return d.fail(cmd, ctx.Err())
			}
		}

		cmd.AttemptCount++

		// Register before sending so an async confirmation racing the
		// HTTP response is not lost.
		confirmCh := d.register(cmd.CommandID)

		acked, err := d.client.Send(ctx, cmd)
		if err != nil {
			d.unregister(cmd.CommandID)
			cmd.LastError = err.Error()
			lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
			log.Warn().
				Err(err).
				Str("command_id", cmd.CommandID).
				Int("attempt", attempt).
				Msg("valve command send failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		cmd.Status = models.CommandSent

		if acked {
			d.unregister(cmd.CommandID)
			return d.confirm(cmd)
		}

		select {
		case outcome := <-confirmCh:
			d.unregister(cmd.CommandID)
			if outcome == OutcomeConfirmed {
				return d.confirm(cmd)
			}
			cmd.LastError = "actuator reported failure"
			lastErr = ErrRejected
		case <-time.After(d.cfg.ConfirmTimeout):
			d.unregister(cmd.CommandID)
			cmd.LastError = "confirmation timeout"
			lastErr = ErrConfirmTimeout
			log.Warn().
				Str("command_id", cmd.CommandID).
				Int("attempt", attempt).
				Msg("no actuator confirmation before timeout")
		case <-ctx.Done():
			d.unregister(cmd.CommandID)
			return d.fail(cmd, ctx.Err())
		}
	}

	err := d.fail(cmd, lastErr)
	if d.alerts != nil {
		d.alerts.RaiseSystem(cmd.DeviceID, cmd.PipelineID,
			fmt.Sprintf("valve %s command failed after %d attempts: %v",
				cmd.Action, cmd.AttemptCount, lastErr))
	}
	return err
}

// Confirm delivers an asynchronous actuator confirmation for an in-flight
// command. It reports whether a command was waiting for it.
func (d *Dispatcher) Confirm(deviceID, commandID string, outcome Outcome) bool {
	d.mu.Lock()
	ch, ok := d.pending[commandID]
	d.mu.Unlock()

	if !ok {
		log := logger.WithDevice("dispatcher", deviceID)
		log.Warn().
			Str("command_id", commandID).
			Str("outcome", string(outcome)).
			Msg("confirmation for unknown command")
		return false
	}

	select {
	case ch <- outcome:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) confirm(cmd *models.ValveCommand) error {
	cmd.Status = models.CommandConfirmed
	metrics.ValveCommandsTotal.WithLabelValues(string(cmd.Action), "confirmed").Inc()
	log := logger.WithDevice("dispatcher", cmd.DeviceID)
	log.Info().
		Str("command_id", cmd.CommandID).
		Str("action", string(cmd.Action)).
		Int("attempts", cmd.AttemptCount).
		Msg("valve command confirmed")
	return nil
}

func (d *Dispatcher) fail(cmd *models.ValveCommand, err error) error {
	cmd.Status = models.CommandFailed
	if err != nil {
		cmd.LastError = err.Error()
	}
	metrics.ValveCommandsTotal.WithLabelValues(string(cmd.Action), "failed").Inc()
	log := logger.WithDevice("dispatcher", cmd.DeviceID)
	log.Error().
		Err(err).
		Str("command_id", cmd.CommandID).
		Str("action", string(cmd.Action)).
		Int("attempts", cmd.AttemptCount).
		Msg("valve command failed")
	return err
}

func (d *Dispatcher) register(commandID string) chan Outcome {
	ch := make(chan Outcome, 1)
	d.mu.Lock()
	d.pending[commandID] = ch
	d.mu.Unlock()
	return ch
}

func (d *Dispatcher) unregister(commandID string) {
	d.mu.Lock()
	delete(d.pending, commandID)
	d.mu.Unlock()
}
