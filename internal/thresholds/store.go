package thresholds

import (
	"errors"
	"sync"
	"sync/atomic"

	"pipewatch/internal/models"
)

// Store errors
var (
	// ErrOrdering is returned when a write would leave warning >= critical.
	// The prior configuration is kept intact.
	ErrOrdering = errors.New("warning threshold must be below critical threshold")

	// ErrUnknownMeasurement is returned when no thresholds exist for a
	// measurement type. Classification must not silently default to normal.
	ErrUnknownMeasurement = errors.New("no thresholds configured for measurement type")
)

// Config is one warning/critical threshold pair for a measurement type.
type Config struct {
	Measurement models.MeasurementType `json:"measurement_type" yaml:"measurement"`
	Warning     float64                `json:"warning_threshold" yaml:"warning"`
	Critical    float64                `json:"critical_threshold" yaml:"critical"`
}

// snapshot is an immutable view of all configured thresholds. Readers load
// it via an atomic pointer so a concurrent update can never expose a torn
// warning/critical pair.
type snapshot struct {
	global     map[models.MeasurementType]Config
	byPipeline map[string]map[models.MeasurementType]Config
}

// Store holds per-measurement thresholds, globally and per pipeline sector.
// Reads are lock-free; writes serialize on a mutex and swap a fresh snapshot.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewStore creates an empty threshold store.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(&snapshot{
		global:     make(map[models.MeasurementType]Config),
		byPipeline: make(map[string]map[models.MeasurementType]Config),
	})
	return s
}

// Set installs a threshold pair for a measurement type. An empty pipelineID
// sets the global default; otherwise the pair applies to that pipeline only
// and overrides the global default during lookup.
func (s *Store) Set(m models.MeasurementType, pipelineID string, warning, critical float64) error {
	if warning >= critical {
		return ErrOrdering
	}

	cfg := Config{Measurement: m, Warning: warning, Critical: critical}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.Load().clone()
	if pipelineID == "" {
		next.global[m] = cfg
	} else {
		byMeasurement, ok := next.byPipeline[pipelineID]
		if !ok {
			byMeasurement = make(map[models.MeasurementType]Config)
			next.byPipeline[pipelineID] = byMeasurement
		}
		byMeasurement[m] = cfg
	}
	s.snap.Store(next)
	return nil
}

// Lookup resolves the effective thresholds for a measurement in a pipeline:
// the pipeline-specific pair when present, else the global default.
func (s *Store) Lookup(m models.MeasurementType, pipelineID string) (Config, error) {
	snap := s.snap.Load()

	if pipelineID != "" {
		if byMeasurement, ok := snap.byPipeline[pipelineID]; ok {
			if cfg, ok := byMeasurement[m]; ok {
				return cfg, nil
			}
		}
	}

	if cfg, ok := snap.global[m]; ok {
		return cfg, nil
	}

	return Config{}, ErrUnknownMeasurement
}

func (sn *snapshot) clone() *snapshot {
	next := &snapshot{
		global:     make(map[models.MeasurementType]Config, len(sn.global)),
		byPipeline: make(map[string]map[models.MeasurementType]Config, len(sn.byPipeline)),
	}
	for m, cfg := range sn.global {
		next.global[m] = cfg
	}
	for pipeline, byMeasurement := range sn.byPipeline {
		inner := make(map[models.MeasurementType]Config, len(byMeasurement))
		for m, cfg := range byMeasurement {
			inner[m] = cfg
		}
		next.byPipeline[pipeline] = inner
	}
	return next
}
