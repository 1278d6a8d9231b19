package risk

import (
	"pipewatch/internal/models"
	"pipewatch/internal/thresholds"
)

// ErrUnknownMeasurement re-exports the store's sentinel so callers of the
// classifier need not import the thresholds package to match it.
var ErrUnknownMeasurement = thresholds.ErrUnknownMeasurement

// Tier is the severity classification of a value relative to thresholds.
type Tier int

const (
	TierNormal Tier = iota
	TierWarning
	TierDanger
)

func (t Tier) String() string {
	switch t {
	case TierDanger:
		return "DANGER"
	case TierWarning:
		return "WARNING"
	default:
		return "NORMAL"
	}
}

// Level is the numeric risk level (0, 1 or 2) exposed on forecast results.
func (t Tier) Level() int { return int(t) }

// Severity maps a tier to the alert severity it produces.
func (t Tier) Severity() models.Severity {
	switch t {
	case TierDanger:
		return models.SeverityCritical
	case TierWarning:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// Aggregate returns the maximum tier present. An empty input is NORMAL.
func Aggregate(tiers []Tier) Tier {
	max := TierNormal
	for _, t := range tiers {
		if t > max {
			max = t
		}
	}
	return max
}

// Classifier maps (measurement, value) pairs to tiers using the threshold
// store. It holds no mutable state of its own and is safe for concurrent
// use across devices.
type Classifier struct {
	store *thresholds.Store
}

// NewClassifier creates a classifier backed by the given threshold store.
func NewClassifier(store *thresholds.Store) *Classifier {
	return &Classifier{store: store}
}

// Classify resolves the effective thresholds for the measurement in the
// pipeline and returns the tier. Boundaries are inclusive toward the higher
// tier: value == critical is DANGER, value == warning is WARNING.
func (c *Classifier) Classify(m models.MeasurementType, value float64, pipelineID string) (Tier, error) {
	cfg, err := c.store.Lookup(m, pipelineID)
	if err != nil {
		return TierNormal, err
	}
	return classifyAgainst(cfg, value), nil
}

// Thresholds exposes the effective threshold pair used for classification,
// for callers that report the crossed threshold alongside the value.
func (c *Classifier) Thresholds(m models.MeasurementType, pipelineID string) (thresholds.Config, error) {
	return c.store.Lookup(m, pipelineID)
}

func classifyAgainst(cfg thresholds.Config, value float64) Tier {
	switch {
	case value >= cfg.Critical:
		return TierDanger
	case value >= cfg.Warning:
		return TierWarning
	default:
		return TierNormal
	}
}

// CrossedThreshold returns the threshold value the tier crossed, for alert
// payloads. NORMAL reports the warning threshold it stayed under.
func CrossedThreshold(cfg thresholds.Config, tier Tier) float64 {
	if tier == TierDanger {
		return cfg.Critical
	}
	return cfg.Warning
}
