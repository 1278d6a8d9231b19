package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Intake metrics
	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_readings_total",
			Help: "Total number of readings received",
		},
		[]string{"source", "status"}, // source: http, kafka; status: accepted, rejected
	)

	ReadingsDroppedStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewatch_readings_dropped_stale_total",
			Help: "Readings dropped for arriving out of timestamp order",
		},
	)

	ReadingValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_reading_validation_errors_total",
			Help: "Total number of reading validation errors",
		},
		[]string{"error_type"},
	)

	// Forecast metrics
	ForecastCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_forecast_cycles_total",
			Help: "Forecast evaluations per device, by outcome",
		},
		[]string{"outcome"}, // ok, insufficient_history, invalid_window, error
	)

	ForecastCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipewatch_forecast_cycle_duration_seconds",
			Help:    "Time taken to evaluate one device's forecast",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Alerting metrics
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_alert_transitions_total",
			Help: "Alert state machine transitions by change kind",
		},
		[]string{"change"},
	)

	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewatch_active_alerts",
			Help: "Number of currently active alerts",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_notifications_total",
			Help: "Alert notifications by delivery outcome",
		},
		[]string{"status"}, // delivered, failed, dropped
	)

	NotificationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewatch_notification_retries_total",
			Help: "Total number of alert notification retries",
		},
	)

	NotifyQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewatch_notify_queue_size",
			Help: "Current depth of the notification queue",
		},
	)

	// Control loop metrics
	ControlReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_control_readings_total",
			Help: "Readings evaluated by the control loop, by tier",
		},
		[]string{"tier"},
	)

	ValveCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_valve_commands_total",
			Help: "Valve commands by action and terminal status",
		},
		[]string{"action", "status"},
	)

	ActuationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewatch_actuation_retries_total",
			Help: "Total number of actuator send retries",
		},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"},
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipewatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
