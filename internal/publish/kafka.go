// Package publish delivers indicator updates to the external Kafka event
// bus for downstream strategy evaluation and persistence.
package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"indicator-enginev1/internal/model"
)

// publishMaxElapsed bounds retries for one batch before it is dropped.
// Updates are superseded by the next refresh, so indefinite retry would
// only deliver stale values late.
const publishMaxElapsed = 15 * time.Second

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string // e.g. "indicator-updates"
}

// Kafka publishes indicator update batches. Messages are keyed by
// symbol:indicator:timeframe so one indicator's stream stays ordered
// within a partition.
type Kafka struct {
	writer *kafka.Writer
}

// New creates a Kafka publisher.
func New(cfg Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("publish: at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "indicator-updates"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	log.Printf("[publish] kafka writer ready (brokers=%v topic=%s)", cfg.Brokers, cfg.Topic)
	return &Kafka{writer: w}, nil
}

// PublishBatch delivers one batch of updates, retrying transient broker
// errors with exponential backoff. Satisfies model.UpdatePublisher.
func (k *Kafka) PublishBatch(ctx context.Context, updates []model.IndicatorUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(updates))
	for i := range updates {
		u := &updates[i]
		msgs[i] = kafka.Message{
			Key:   []byte(u.Key()),
			Value: u.JSON(),
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = publishMaxElapsed
	err := backoff.Retry(func() error {
		return k.writer.WriteMessages(ctx, msgs...)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("publish %d updates: %w", len(updates), err)
	}
	return nil
}

// Close flushes and releases the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
