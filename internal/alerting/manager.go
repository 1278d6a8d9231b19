package alerting

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pipewatch/internal/logger"
	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
	"pipewatch/internal/risk"
)

// ErrAlertNotFound is returned when resolving an alert that is not active.
var ErrAlertNotFound = errors.New("no active alert with that ID")

// Transition is a notified alert state change. Unchanged and
// resolution-pending evaluations never notify.
type Transition string

const (
	TransitionCreated   Transition = "created"
	TransitionEscalated Transition = "escalated"
	TransitionResolved  Transition = "resolved"
)

// Change is the outcome of one evaluation for a (device, kind) pair.
type Change int

const (
	ChangeUnchanged Change = iota
	ChangeCreated
	ChangeEscalated
	ChangeResolutionPending
	ChangeResolved
)

func (c Change) String() string {
	switch c {
	case ChangeCreated:
		return "created"
	case ChangeEscalated:
		return "escalated"
	case ChangeResolutionPending:
		return "resolution_pending"
	case ChangeResolved:
		return "resolved"
	default:
		return "unchanged"
	}
}

// Emitter receives notifications for Created/Escalated/Resolved transitions.
// Delivery is asynchronous; a failing emitter never rolls back alert state.
type Emitter interface {
	Emit(alert models.Alert, transition Transition)
}

// Config holds the manager's tunables.
type Config struct {
	// Consecutive NORMAL evaluations required before an active alert resolves
	ResolveAfter int

	// Resolved alerts retained for queries
	HistorySize int
}

type alertKey struct {
	deviceID string
	kind     models.AlertKind
}

type entry struct {
	alert        models.Alert
	normalStreak int
}

// Manager owns the per-(device, kind) alert state machine:
// NoAlert -> Active(sev) -> Active(higher)* -> ResolutionPending -> Resolved.
// At most one active alert exists per pair at any time.
type Manager struct {
	mu           sync.Mutex
	active       map[alertKey]*entry
	history      []models.Alert
	resolveAfter int
	historySize  int
	emitter      Emitter
	now          func() time.Time
}

// NewManager creates an alert manager emitting through the given emitter.
// A nil emitter disables notifications (useful in tests).
func NewManager(cfg Config, emitter Emitter) *Manager {
	if cfg.ResolveAfter < 1 {
		cfg.ResolveAfter = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 256
	}
	return &Manager{
		active:       make(map[alertKey]*entry),
		resolveAfter: cfg.ResolveAfter,
		historySize:  cfg.HistorySize,
		emitter:      emitter,
		now:          time.Now,
	}
}

// Evaluate feeds one classified observation into the state machine and
// returns the resulting change. Repeat triggers at the same or lower
// severity only refresh the active alert's value and timestamp.
func (m *Manager) Evaluate(deviceID, pipelineID string, kind models.AlertKind, tier risk.Tier, value, threshold float64) Change {
	m.mu.Lock()
	key := alertKey{deviceID: deviceID, kind: kind}
	e, exists := m.active[key]
	now := m.now()

	var change Change
	var notify *models.Alert
	var transition Transition

	if tier == risk.TierNormal {
		if !exists {
			change = ChangeUnchanged
		} else {
			e.normalStreak++
			if e.normalStreak >= m.resolveAfter {
				resolved := m.resolveLocked(key, e, "risk returned to normal", now)
				change = ChangeResolved
				notify, transition = &resolved, TransitionResolved
			} else {
				change = ChangeResolutionPending
			}
		}
	} else {
		severity := tier.Severity()
		if !exists {
			alert := models.Alert{
				ID:         uuid.New().String(),
				PipelineID: pipelineID,
				DeviceID:   deviceID,
				Kind:       kind,
				Severity:   severity,
				Value:      value,
				Threshold:  threshold,
				Status:     models.AlertActive,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			m.active[key] = &entry{alert: alert}
			change = ChangeCreated
			notify, transition = &alert, TransitionCreated
		} else {
			e.normalStreak = 0
			e.alert.Value = value
			e.alert.Threshold = threshold
			e.alert.UpdatedAt = now
			if severity.Rank() > e.alert.Severity.Rank() {
				e.alert.Severity = severity
				escalated := e.alert
				change = ChangeEscalated
				notify, transition = &escalated, TransitionEscalated
			} else {
				change = ChangeUnchanged
			}
		}
	}

	metrics.ActiveAlerts.Set(float64(len(m.active)))
	m.mu.Unlock()

	metrics.AlertTransitionsTotal.WithLabelValues(change.String()).Inc()
	if notify != nil && m.emitter != nil {
		m.emitter.Emit(*notify, transition)
	}
	return change
}

// RaiseSystem creates (or refreshes) a critical system-kind alert for a
// device, used for actuation failures. System alerts resolve only through
// explicit resolution.
func (m *Manager) RaiseSystem(deviceID, pipelineID, detail string) Change {
	m.mu.Lock()
	key := alertKey{deviceID: deviceID, kind: models.KindSystem}
	now := m.now()

	e, exists := m.active[key]
	var change Change
	var notify *models.Alert

	if exists {
		e.alert.Detail = detail
		e.alert.UpdatedAt = now
		change = ChangeUnchanged
	} else {
		alert := models.Alert{
			ID:         uuid.New().String(),
			PipelineID: pipelineID,
			DeviceID:   deviceID,
			Kind:       models.KindSystem,
			Severity:   models.SeverityCritical,
			Status:     models.AlertActive,
			Detail:     detail,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.active[key] = &entry{alert: alert}
		change = ChangeCreated
		notify = &alert
	}

	metrics.ActiveAlerts.Set(float64(len(m.active)))
	m.mu.Unlock()

	metrics.AlertTransitionsTotal.WithLabelValues(change.String()).Inc()
	if notify != nil && m.emitter != nil {
		m.emitter.Emit(*notify, TransitionCreated)
	}
	if change == ChangeCreated {
		log := logger.WithDevice("alerting", deviceID)
		log.Error().
			Str("detail", detail).
			Msg("system alert raised")
	}
	return change
}

// Resolve resolves an active alert by ID with an operator-supplied note.
func (m *Manager) Resolve(alertID, note string) error {
	m.mu.Lock()

	for key, e := range m.active {
		if e.alert.ID == alertID {
			resolved := m.resolveLocked(key, e, note, m.now())
			metrics.ActiveAlerts.Set(float64(len(m.active)))
			m.mu.Unlock()

			metrics.AlertTransitionsTotal.WithLabelValues(ChangeResolved.String()).Inc()
			if m.emitter != nil {
				m.emitter.Emit(resolved, TransitionResolved)
			}
			return nil
		}
	}

	m.mu.Unlock()
	return ErrAlertNotFound
}

// Active returns the active alerts, optionally filtered by pipeline,
// ordered by creation time.
func (m *Manager) Active(pipelineID string) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]models.Alert, 0, len(m.active))
	for _, e := range m.active {
		if pipelineID != "" && e.alert.PipelineID != pipelineID {
			continue
		}
		alerts = append(alerts, e.alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })
	return alerts
}

// History returns recently resolved alerts, newest first.
func (m *Manager) History() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, len(m.history))
	for i, a := range m.history {
		out[len(m.history)-1-i] = a
	}
	return out
}

// resolveLocked finalizes an active alert and moves it to history.
// Caller holds m.mu.
func (m *Manager) resolveLocked(key alertKey, e *entry, note string, now time.Time) models.Alert {
	e.alert.Status = models.AlertResolved
	resolvedAt := now
	e.alert.ResolvedAt = &resolvedAt
	e.alert.ResolutionNote = note
	resolved := e.alert

	delete(m.active, key)
	if len(m.history) >= m.historySize {
		m.history = m.history[1:]
	}
	m.history = append(m.history, resolved)
	return resolved
}
