package forecast

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"pipewatch/internal/models"
	"pipewatch/internal/risk"
)

// Engine errors
var (
	// ErrInsufficientHistory means the window is too short to fit a trend.
	// The caller skips forecasting for the device this cycle.
	ErrInsufficientHistory = errors.New("not enough samples to forecast")

	// ErrInvalidWindow means the window's timestamps are not monotonically
	// non-decreasing. A data quality problem, reported but never fatal.
	ErrInvalidWindow = errors.New("window timestamps are not in order")
)

// Point is a single forecasted value at a fixed future horizon.
type Point struct {
	Horizon     time.Duration          `json:"-"`
	HorizonMin  int                    `json:"horizon_minutes"`
	Measurement models.MeasurementType `json:"measurement_type"`
	Value       float64                `json:"forecasted_value"`
	Tier        risk.Tier              `json:"-"`
	TierName    string                 `json:"risk_tier"`
	ForecastAt  time.Time              `json:"forecast_timestamp"`
}

// Result is one forecast cycle's output for a device. Points are ordered by
// ascending horizon; OverallTier is the aggregate of all point tiers.
type Result struct {
	DeviceID     string    `json:"device_id"`
	PipelineID   string    `json:"pipeline_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	Points       []Point   `json:"points"`
	OverallTier  risk.Tier `json:"-"`
	OverallName  string    `json:"overall_risk_tier"`
	OverallLevel int       `json:"overall_risk_level"`
}

// Bounds is the physically plausible value range for a measurement type.
// Forecasts outside it are clamped, not rejected.
type Bounds struct {
	Min float64
	Max float64
}

// Config holds the engine's tunables.
type Config struct {
	// Minimum samples per measurement type before a trend is fitted
	MinSamples int

	// Future offsets at which forecast points are evaluated, ascending
	Horizons []time.Duration

	// Plausible value range per measurement type
	Bounds map[models.MeasurementType]Bounds
}

// Engine fits a linear trend per measurement type over a reading window and
// extrapolates it at fixed horizons. It is a pure function of its inputs;
// the caller supplies the window and owns all scheduling.
type Engine struct {
	cfg        Config
	classifier *risk.Classifier
	now        func() time.Time
}

// NewEngine creates a forecast engine using the classifier for point tiers.
func NewEngine(cfg Config, classifier *risk.Classifier) *Engine {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	if len(cfg.Horizons) == 0 {
		cfg.Horizons = []time.Duration{5 * time.Minute, 10 * time.Minute}
	}
	sort.Slice(cfg.Horizons, func(i, j int) bool { return cfg.Horizons[i] < cfg.Horizons[j] })
	return &Engine{cfg: cfg, classifier: classifier, now: time.Now}
}

// Forecast fits one trend per measurement type present in the window and
// evaluates it at each configured horizon, measured from the newest sample.
func (e *Engine) Forecast(deviceID, pipelineID string, window []models.Reading) (*Result, error) {
	if err := checkOrdering(window); err != nil {
		return nil, err
	}

	series := splitByMeasurement(window)
	if len(series) == 0 {
		return nil, ErrInsufficientHistory
	}

	generatedAt := e.now()
	result := &Result{
		DeviceID:    deviceID,
		PipelineID:  pipelineID,
		GeneratedAt: generatedAt,
	}

	measurements := make([]models.MeasurementType, 0, len(series))
	for m := range series {
		measurements = append(measurements, m)
	}
	sort.Slice(measurements, func(i, j int) bool { return measurements[i] < measurements[j] })

	tiers := make([]risk.Tier, 0, len(measurements)*len(e.cfg.Horizons))
	for _, horizon := range e.cfg.Horizons {
		for _, m := range measurements {
			samples := series[m]
			if len(samples) < e.cfg.MinSamples {
				return nil, fmt.Errorf("%w: %s has %d of %d samples",
					ErrInsufficientHistory, m, len(samples), e.cfg.MinSamples)
			}

			value := e.clamp(m, extrapolate(samples, horizon))
			tier, err := e.classifier.Classify(m, value, pipelineID)
			if err != nil {
				return nil, err
			}

			tiers = append(tiers, tier)
			result.Points = append(result.Points, Point{
				Horizon:     horizon,
				HorizonMin:  int(horizon / time.Minute),
				Measurement: m,
				Value:       value,
				Tier:        tier,
				TierName:    tier.String(),
				ForecastAt:  generatedAt,
			})
		}
	}

	result.OverallTier = risk.Aggregate(tiers)
	result.OverallName = result.OverallTier.String()
	result.OverallLevel = result.OverallTier.Level()
	return result, nil
}

// extrapolate fits a least-squares line over the samples and evaluates it at
// horizon past the newest sample. A degenerate x spread falls back to the
// series mean (zero slope).
func extrapolate(samples []models.Reading, horizon time.Duration) float64 {
	base := samples[0].Timestamp
	n := float64(len(samples))

	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.Timestamp.Sub(base).Minutes()
		sumX += x
		sumY += s.Value
		sumXY += x * s.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return sumY / n
	}

	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	last := samples[len(samples)-1].Timestamp.Sub(base).Minutes()
	return intercept + slope*(last+horizon.Minutes())
}

func (e *Engine) clamp(m models.MeasurementType, value float64) float64 {
	bounds, ok := e.cfg.Bounds[m]
	if !ok {
		return value
	}
	if value < bounds.Min {
		return bounds.Min
	}
	if value > bounds.Max {
		return bounds.Max
	}
	return value
}

func checkOrdering(window []models.Reading) error {
	for i := 1; i < len(window); i++ {
		if window[i].Timestamp.Before(window[i-1].Timestamp) {
			return ErrInvalidWindow
		}
	}
	return nil
}

func splitByMeasurement(window []models.Reading) map[models.MeasurementType][]models.Reading {
	series := make(map[models.MeasurementType][]models.Reading)
	for _, r := range window {
		series[r.Measurement] = append(series[r.Measurement], r)
	}
	return series
}
