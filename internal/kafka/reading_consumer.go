package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"pipewatch/internal/logger"
	"pipewatch/internal/metrics"
	"pipewatch/internal/models"
)

// ReadingHandler receives each decoded reading from the topic.
type ReadingHandler func(r models.Reading) error

// ReadingConsumer consumes sensor readings from a Kafka topic and feeds
// them into the intake path. Devices should be keyed to partitions by the
// producer so per-device ordering holds; the control loop still drops
// anything stale.
type ReadingConsumer struct {
	reader  *kafka.Reader
	handler ReadingHandler
}

// NewReadingConsumer creates a group consumer for the readings topic.
func NewReadingConsumer(brokers []string, topic, groupID string, handler ReadingHandler) *ReadingConsumer {
	return &ReadingConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
		handler: handler,
	}
}

// Run consumes until the context is cancelled. Undecodable or invalid
// messages are counted and skipped, never fatal.
func (c *ReadingConsumer) Run(ctx context.Context) error {
	log := logger.WithComponent("reading_consumer")
	log.Info().Msg("reading consumer started")
	defer log.Info().Msg("reading consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		var reading models.Reading
		if err := json.Unmarshal(msg.Value, &reading); err != nil {
			metrics.ReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
			log.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Msg("undecodable reading message")
			c.commit(ctx, msg)
			continue
		}

		reading.Normalize()
		if err := reading.Validate(); err != nil {
			metrics.ReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
			log.Warn().
				Err(err).
				Str("device_id", reading.DeviceID).
				Msg("invalid reading message")
			c.commit(ctx, msg)
			continue
		}

		if err := c.handler(reading); err != nil {
			metrics.ReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
			log.Warn().
				Err(err).
				Str("device_id", reading.DeviceID).
				Msg("reading not accepted")
		} else {
			metrics.ReadingsTotal.WithLabelValues("kafka", "accepted").Inc()
		}

		c.commit(ctx, msg)
	}
}

func (c *ReadingConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		log := logger.WithComponent("reading_consumer")
		log.Warn().
			Err(err).
			Int64("offset", msg.Offset).
			Msg("offset commit failed")
	}
}

// Close releases the underlying reader.
func (c *ReadingConsumer) Close() error {
	return c.reader.Close()
}
