package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "90s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds runtime configuration for the monitor.
type Config struct {
	// HTTP listen address for intake, queries and metrics
	HTTPAddr string `yaml:"http_addr"`

	// Log level: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	Kafka    KafkaConfig    `yaml:"kafka"`
	Actuator ActuatorConfig `yaml:"actuator"`
	Forecast ForecastConfig `yaml:"forecast"`
	Alerting AlertingConfig `yaml:"alerting"`
	Control  ControlConfig  `yaml:"control"`

	// Thresholds seeded at startup; runtime updates go through the API
	Thresholds []ThresholdSeed `yaml:"thresholds"`
}

// ThresholdSeed is one startup threshold pair. Empty pipeline_id seeds the
// global default.
type ThresholdSeed struct {
	Measurement string  `yaml:"measurement"`
	PipelineID  string  `yaml:"pipeline_id"`
	Warning     float64 `yaml:"warning"`
	Critical    float64 `yaml:"critical"`
}

// KafkaConfig covers the alert sink producer and the reading consumer.
// Empty Brokers disables Kafka entirely (HTTP-only operation).
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	AlertsTopic   string   `yaml:"alerts_topic"`
	ReadingsTopic string   `yaml:"readings_topic"`
	GroupID       string   `yaml:"group_id"`

	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the Kafka alert publisher.
type ProducerConfig struct {
	PoolSize     int      `yaml:"pool_size"`
	WriteTimeout Duration `yaml:"write_timeout"`
	RequiredAcks int      `yaml:"required_acks"`
	Compression  string   `yaml:"compression"`
}

// ActuatorConfig tunes command dispatch toward the valve actuators.
type ActuatorConfig struct {
	// Base URL of the actuator (or simulator) HTTP endpoint
	BaseURL string `yaml:"base_url"`

	// Per-request transport timeout
	RequestTimeout Duration `yaml:"request_timeout"`

	// Total send attempts before a command fails
	MaxAttempts int `yaml:"max_attempts"`

	// Initial backoff between attempts; doubles each retry
	RetryBackoff Duration `yaml:"retry_backoff"`

	// How long to wait for an asynchronous confirmation after a send
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
}

// ForecastConfig tunes the trend extrapolation cycle.
type ForecastConfig struct {
	// How often the periodic forecast evaluation runs
	Interval Duration `yaml:"interval"`

	// Future offsets, in minutes, at which forecasts are evaluated
	HorizonsMin []int `yaml:"horizons_min"`

	// Minimum samples per measurement before a trend is fitted
	MinSamples int `yaml:"min_samples"`

	// Readings retained per device for fitting
	WindowSize int `yaml:"window_size"`

	// Plausible value clamp per measurement type
	Bounds map[string]BoundsConfig `yaml:"bounds"`
}

// BoundsConfig is a plausible min/max range for forecasted values.
type BoundsConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// AlertingConfig tunes the alert state machine and notification delivery.
type AlertingConfig struct {
	// Consecutive NORMAL evaluations required before an alert resolves
	ResolveAfter int `yaml:"resolve_after"`

	// Delivery attempts per notification before it is dropped
	NotifyAttempts int `yaml:"notify_attempts"`

	// Initial backoff between notification retries; doubles each retry
	NotifyBackoff Duration `yaml:"notify_backoff"`

	// Notification queue capacity
	QueueSize int `yaml:"queue_size"`

	// Resolved alerts retained for queries
	HistorySize int `yaml:"history_size"`
}

// ControlConfig tunes the reactive valve control loop.
type ControlConfig struct {
	// Consecutive NORMAL readings required before an auto-closed valve reopens
	ReopenAfter int `yaml:"reopen_after"`

	// Per-device reading queue capacity
	QueueSize int `yaml:"queue_size"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Kafka: KafkaConfig{
			AlertsTopic:   "pipewatch.alerts",
			ReadingsTopic: "pipewatch.readings",
			GroupID:       "pipewatch",
			Producer: ProducerConfig{
				PoolSize:     4,
				WriteTimeout: Duration(10 * time.Second),
				RequiredAcks: -1,
				Compression:  "snappy",
			},
		},
		Actuator: ActuatorConfig{
			BaseURL:        "http://localhost:9090",
			RequestTimeout: Duration(5 * time.Second),
			MaxAttempts:    3,
			RetryBackoff:   Duration(500 * time.Millisecond),
			ConfirmTimeout: Duration(10 * time.Second),
		},
		Forecast: ForecastConfig{
			Interval:    Duration(60 * time.Second),
			HorizonsMin: []int{5, 10},
			MinSamples:  5,
			WindowSize:  120,
			Bounds: map[string]BoundsConfig{
				"temperature": {Min: -50, Max: 300},
				"pressure":    {Min: 0, Max: 500},
			},
		},
		Alerting: AlertingConfig{
			ResolveAfter:   2,
			NotifyAttempts: 3,
			NotifyBackoff:  Duration(250 * time.Millisecond),
			QueueSize:      1000,
			HistorySize:    256,
		},
		Control: ControlConfig{
			ReopenAfter: 3,
			QueueSize:   256,
		},
		Thresholds: []ThresholdSeed{
			{Measurement: "temperature", Warning: 80, Critical: 95},
			{Measurement: "pressure", Warning: 90, Critical: 105},
		},
	}
}

// Load builds the config from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PIPEWATCH_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("PIPEWATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PIPEWATCH_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PIPEWATCH_ACTUATOR_URL"); v != "" {
		c.Actuator.BaseURL = v
	}
}

func (c *Config) validate() error {
	if c.Forecast.MinSamples < 2 {
		return fmt.Errorf("forecast.min_samples must be at least 2, got %d", c.Forecast.MinSamples)
	}
	if len(c.Forecast.HorizonsMin) == 0 {
		return fmt.Errorf("forecast.horizons_min must not be empty")
	}
	for _, h := range c.Forecast.HorizonsMin {
		if h <= 0 {
			return fmt.Errorf("forecast horizon must be positive, got %d", h)
		}
	}
	if c.Alerting.ResolveAfter < 1 {
		return fmt.Errorf("alerting.resolve_after must be at least 1, got %d", c.Alerting.ResolveAfter)
	}
	if c.Control.ReopenAfter < 1 {
		return fmt.Errorf("control.reopen_after must be at least 1, got %d", c.Control.ReopenAfter)
	}
	if c.Actuator.MaxAttempts < 1 {
		return fmt.Errorf("actuator.max_attempts must be at least 1, got %d", c.Actuator.MaxAttempts)
	}
	for _, t := range c.Thresholds {
		if t.Warning >= t.Critical {
			return fmt.Errorf("threshold for %s: warning %v must be below critical %v",
				t.Measurement, t.Warning, t.Critical)
		}
	}
	return nil
}

// Horizons converts the configured horizon minutes to durations.
func (c *ForecastConfig) Horizons() []time.Duration {
	horizons := make([]time.Duration, 0, len(c.HorizonsMin))
	for _, m := range c.HorizonsMin {
		horizons = append(horizons, time.Duration(m)*time.Minute)
	}
	return horizons
}
