package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pipewatch/internal/alerting"
	"pipewatch/internal/logger"
	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
	"pipewatch/internal/risk"
)

// Loop errors
var (
	ErrQueueFull = errors.New("device reading queue full")
	ErrStopped   = errors.New("control loop stopped")
)

// Dispatcher drives a valve command to a terminal state. A nil error means
// the actuator confirmed the command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd *models.ValveCommand) error
}

// AlertEvaluator receives classified current readings so measurement alerts
// track live values, not only forecasts.
type AlertEvaluator interface {
	Evaluate(deviceID, pipelineID string, kind models.AlertKind, tier risk.Tier, value, threshold float64) alerting.Change
}

// Config holds the control loop's tunables.
type Config struct {
	// Consecutive NORMAL readings required before an auto-closed valve reopens
	ReopenAfter int

	// Per-device reading queue capacity
	QueueSize int
}

// phase is the per-device valve state machine. opening/closing are
// transient while a command is in flight and block a second command for
// the same device.
type phase int

const (
	phaseUnknown phase = iota
	phaseOpen
	phaseOpening
	phaseClosed
	phaseClosing
)

type device struct {
	id         string
	pipelineID string
	ch         chan models.Reading

	// mu guards valve and ph for concurrent query access; all other
	// fields are owned by the device's goroutine.
	mu    sync.Mutex
	valve models.DeviceValveState
	ph    phase

	lastTimestamp time.Time
	autoClosed    bool
	normalStreak  int
}

// Loop consumes live readings and converts DANGER classifications into
// idempotent valve commands. Each device runs as its own single-writer
// task; readings for one device are processed serially in timestamp order
// while devices proceed in parallel.
type Loop struct {
	classifier *risk.Classifier
	dispatcher Dispatcher
	alerts     AlertEvaluator
	cfg        Config

	mu      sync.Mutex
	devices map[string]*device
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates a control loop issuing commands through the dispatcher.
func NewLoop(classifier *risk.Classifier, dispatcher Dispatcher, alerts AlertEvaluator, cfg Config) *Loop {
	if cfg.ReopenAfter < 1 {
		cfg.ReopenAfter = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		classifier: classifier,
		dispatcher: dispatcher,
		alerts:     alerts,
		cfg:        cfg,
		devices:    make(map[string]*device),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit hands a reading to the owning device task, creating the task on
// first observation of the device. The send never blocks; a full device
// queue rejects the reading.
func (l *Loop) Submit(r models.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}

	d, ok := l.devices[r.DeviceID]
	if !ok {
		d = &device{
			id:         r.DeviceID,
			pipelineID: r.PipelineID,
			ch:         make(chan models.Reading, l.cfg.QueueSize),
			valve: models.DeviceValveState{
				DeviceID:   r.DeviceID,
				PipelineID: r.PipelineID,
				Position:   models.ValveUnknown,
			},
			ph: phaseUnknown,
		}
		l.devices[r.DeviceID] = d
		l.wg.Add(1)
		go l.run(d)
	}

	select {
	case d.ch <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// ValveState returns the device's last confirmed valve state.
func (l *Loop) ValveState(deviceID string) (models.DeviceValveState, bool) {
	l.mu.Lock()
	d, ok := l.devices[deviceID]
	l.mu.Unlock()
	if !ok {
		return models.DeviceValveState{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valve, true
}

// Remove stops scheduling for a device leaving the topology. An in-flight
// command completes or times out normally; queued readings drain first.
func (l *Loop) Remove(deviceID string) {
	l.mu.Lock()
	d, ok := l.devices[deviceID]
	if ok {
		delete(l.devices, deviceID)
		close(d.ch)
	}
	l.mu.Unlock()
}

// Stop shuts down all device tasks and waits for in-flight work.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	for id, d := range l.devices {
		delete(l.devices, id)
		close(d.ch)
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.cancel()
}

func (l *Loop) run(d *device) {
	defer l.wg.Done()

	log := logger.WithDevice("control", d.id)
	log.Debug().Msg("device control task started")
	defer log.Debug().Msg("device control task stopped")

	for r := range d.ch {
		l.handle(d, r)
	}
}

func (l *Loop) handle(d *device, r models.Reading) {
	log := logger.WithDevice("control", d.id)

	// Stale readings must not reverse a more recent valve decision.
	if r.Timestamp.Before(d.lastTimestamp) {
		metrics.ReadingsDroppedStale.Inc()
		log.Debug().
			Time("reading_ts", r.Timestamp).
			Time("last_ts", d.lastTimestamp).
			Msg("dropping out-of-order reading")
		return
	}
	d.lastTimestamp = r.Timestamp

	tier, err := l.classifier.Classify(r.Measurement, r.Value, r.PipelineID)
	if err != nil {
		metrics.ReadingValidationErrors.WithLabelValues("unknown_measurement").Inc()
		log.Warn().
			Err(err).
			Str("measurement", string(r.Measurement)).
			Msg("skipping unclassifiable reading")
		return
	}
	metrics.ControlReadingsTotal.WithLabelValues(tier.String()).Inc()

	if l.alerts != nil {
		if cfg, terr := l.classifier.Thresholds(r.Measurement, r.PipelineID); terr == nil {
			l.alerts.Evaluate(d.id, r.PipelineID, models.KindForMeasurement(r.Measurement),
				tier, r.Value, risk.CrossedThreshold(cfg, tier))
		}
	}

	switch tier {
	case risk.TierDanger:
		d.normalStreak = 0
		// Idempotence: gate on the last confirmed position, not on the
		// last attempt, so actuator unavailability cannot cause storms
		// of duplicate close commands while already closed.
		if d.confirmedPosition() != models.ValveClosed {
			l.issue(d, models.ActionClose, r)
		}

	case risk.TierWarning:
		d.normalStreak = 0

	case risk.TierNormal:
		// Only valves this automated path closed reopen automatically;
		// manual or external closes stay closed.
		if d.confirmedPosition() == models.ValveClosed && d.autoClosed {
			d.normalStreak++
			if d.normalStreak >= l.cfg.ReopenAfter {
				l.issue(d, models.ActionOpen, r)
			}
		}
	}
}

// issue runs one command to a terminal state within the device's task.
// Dispatch blocks this device only; other devices' tasks keep running.
func (l *Loop) issue(d *device, action models.ValveAction, r models.Reading) {
	log := logger.WithDevice("control", d.id)

	cmd := &models.ValveCommand{
		CommandID:  uuid.New().String(),
		DeviceID:   d.id,
		PipelineID: r.PipelineID,
		Action:     action,
		IssuedAt:   time.Now().UTC(),
		Status:     models.CommandPending,
	}

	if action == models.ActionClose {
		d.setPhase(phaseClosing)
	} else {
		d.setPhase(phaseOpening)
	}

	log.Info().
		Str("command_id", cmd.CommandID).
		Str("action", string(action)).
		Float64("value", r.Value).
		Str("measurement", string(r.Measurement)).
		Msg("issuing valve command")

	err := l.dispatcher.Dispatch(l.ctx, cmd)
	if err != nil {
		// Unconfirmed commands never move the valve state; the phase
		// falls back to the last confirmed position.
		d.revertPhase()
		log.Error().
			Err(err).
			Str("command_id", cmd.CommandID).
			Msg("valve command did not complete")
		return
	}

	d.confirmPosition(action.TargetPosition())
	if action == models.ActionClose {
		d.autoClosed = true
	} else {
		d.autoClosed = false
	}
	d.normalStreak = 0
}

// confirmedPosition reads the last confirmed valve position.
func (d *device) confirmedPosition() models.ValvePosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valve.Position
}

func (d *device) setPhase(p phase) {
	d.mu.Lock()
	d.ph = p
	d.mu.Unlock()
}

// revertPhase drops a transient opening/closing phase back to the phase
// implied by the last confirmed position.
func (d *device) revertPhase() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.valve.Position {
	case models.ValveOpen:
		d.ph = phaseOpen
	case models.ValveClosed:
		d.ph = phaseClosed
	default:
		d.ph = phaseUnknown
	}
}

// confirmPosition records a confirmed command completion.
func (d *device) confirmPosition(pos models.ValvePosition) {
	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.valve.Position = pos
	d.valve.LastChangedAt = now
	d.valve.LastConfirmedAt = &now
	if pos == models.ValveClosed {
		d.ph = phaseClosed
	} else {
		d.ph = phaseOpen
	}
}
