package alerting

import (
	"context"
	"sync"
	"time"

	"pipewatch/internal/logger"
	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
)

// Sink delivers a single notification to an external destination
// (Kafka topic, dashboard, chat bot).
type Sink interface {
	Notify(ctx context.Context, alert models.Alert, transition Transition) error
}

// EmitterConfig holds the retry emitter's tunables.
type EmitterConfig struct {
	// Delivery attempts per notification before it is dropped
	Attempts int

	// Initial backoff between attempts; doubles each retry
	Backoff time.Duration

	// Queue capacity; Emit drops when full rather than blocking the
	// alert state machine
	QueueSize int

	// Delivery worker count
	Workers int
}

type notification struct {
	alert      models.Alert
	transition Transition
}

// RetryEmitter delivers notifications asynchronously through a bounded
// queue with per-notification bounded retry. Delivery failure is logged
// and counted but never reaches the alert state machine.
type RetryEmitter struct {
	sink     Sink
	queue    chan notification
	attempts int
	backoff  time.Duration
	workers  int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetryEmitter creates an emitter delivering through the given sink.
func NewRetryEmitter(sink Sink, cfg EmitterConfig) *RetryEmitter {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RetryEmitter{
		sink:     sink,
		queue:    make(chan notification, cfg.QueueSize),
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		workers:  cfg.Workers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the delivery workers.
func (e *RetryEmitter) Start() {
	log := logger.WithComponent("notifier")
	log.Info().Int("workers", e.workers).Msg("starting notification workers")

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop shuts the workers down. Queued notifications are abandoned; alert
// state is the source of truth regardless of delivery.
func (e *RetryEmitter) Stop() {
	e.cancel()
	e.wg.Wait()
}

// Emit enqueues a notification without blocking. A full queue drops the
// notification and counts it.
func (e *RetryEmitter) Emit(alert models.Alert, transition Transition) {
	select {
	case e.queue <- notification{alert: alert, transition: transition}:
		metrics.NotifyQueueSize.Set(float64(len(e.queue)))
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		log := logger.WithComponent("notifier")
		log.Warn().
			Str("alert_id", alert.ID).
			Str("transition", string(transition)).
			Msg("notification queue full, dropping")
	}
}

func (e *RetryEmitter) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case n := <-e.queue:
			metrics.NotifyQueueSize.Set(float64(len(e.queue)))
			e.deliver(n)
		}
	}
}

func (e *RetryEmitter) deliver(n notification) {
	log := logger.WithComponent("notifier")
	backoff := e.backoff

	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			metrics.NotificationRetries.Inc()
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-e.ctx.Done():
				return
			}
		}

		ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
		err := e.sink.Notify(ctx, n.alert, n.transition)
		cancel()

		if err == nil {
			metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
			return
		}

		log.Warn().
			Err(err).
			Str("alert_id", n.alert.ID).
			Str("transition", string(n.transition)).
			Int("attempt", attempt).
			Msg("notification delivery failed")
	}

	metrics.NotificationsTotal.WithLabelValues("failed").Inc()
	log.Error().
		Str("alert_id", n.alert.ID).
		Str("transition", string(n.transition)).
		Int("attempts", e.attempts).
		Msg("notification dropped after retries")
}

// LogSink is the fallback sink used when no Kafka brokers are configured.
// It writes notifications to the structured log.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(_ context.Context, alert models.Alert, transition Transition) error {
	log := logger.WithComponent("alert_sink")
	log.Info().
		Str("alert_id", alert.ID).
		Str("device_id", alert.DeviceID).
		Str("pipeline_id", alert.PipelineID).
		Str("kind", string(alert.Kind)).
		Str("severity", string(alert.Severity)).
		Str("transition", string(transition)).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Msg("alert notification")
	return nil
}
