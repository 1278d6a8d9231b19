package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"pipewatch/internal/alerting"
	"pipewatch/internal/config"
	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
)

// Publisher errors
var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrSerializeFailed = errors.New("failed to serialize alert event")
)

// alertEvent is the wire format published for each alert transition.
type alertEvent struct {
	Alert      models.Alert `json:"alert"`
	Transition string       `json:"transition"`
	EmittedAt  time.Time    `json:"emitted_at"`
}

// AlertPublisher publishes alert transition events to a Kafka topic, keyed
// by device so one device's alerts stay ordered on a partition. It
// implements alerting.Sink; retry lives in the emitter, so each Notify is
// a single write attempt.
type AlertPublisher struct {
	topic   string
	writers []*kafka.Writer
	pool    chan *kafka.Writer
	closed  atomic.Bool

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// NewAlertPublisher creates a publisher with a pool of writers.
func NewAlertPublisher(brokers []string, topic string, cfg config.ProducerConfig) (*AlertPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p := &AlertPublisher{
		topic:   topic,
		writers: make([]*kafka.Writer, cfg.PoolSize),
		pool:    make(chan *kafka.Writer, cfg.PoolSize),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // Partition by device
			WriteTimeout: cfg.WriteTimeout.Std(),
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  getCompression(cfg.Compression),
			Async:        false, // Sync for reliability
		}
		p.writers[i] = writer
		p.pool <- writer
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Notify implements alerting.Sink.
func (p *AlertPublisher) Notify(ctx context.Context, alert models.Alert, transition alerting.Transition) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(alertEvent{
		Alert:      alert,
		Transition: string(transition),
		EmittedAt:  time.Now().UTC(),
	})
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.DeviceID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "pipeline_id", Value: []byte(alert.PipelineID)},
			{Key: "alert_id", Value: []byte(alert.ID)},
			{Key: "transition", Value: []byte(transition)},
		},
		Time: time.Now(),
	}

	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(1)
		return ctx.Err()
	}

	start := time.Now()
	err = writer.WriteMessages(ctx, msg)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.messagesSent.Add(1)
	p.bytesWritten.Add(uint64(len(data)))
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// Close closes all writers in the pool
func (p *AlertPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing writers: %v", errs)
	}
	return nil
}

// Stats returns publisher statistics
func (p *AlertPublisher) Stats() PublisherStats {
	return PublisherStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// PublisherStats holds publisher metrics
type PublisherStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}

// HealthCheck verifies the publisher can reach Kafka
func (p *AlertPublisher) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = writer.Stats()
	return nil
}
