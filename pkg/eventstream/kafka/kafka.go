// Package kafka publishes memory lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the bootstrap broker list.
	Brokers []string

	// Topic receives all memory events. Keyed by user id so one user's
	// events stay ordered within a partition.
	Topic string

	// WriteTimeout bounds a single publish. Defaults to 5s.
	WriteTimeout time.Duration
}

// Publisher writes events to Kafka.
type Publisher struct {
	writer  *kafkago.Writer
	timeout time.Duration
}

var _ eventstream.Publisher = (*Publisher)(nil)

// New creates a Kafka publisher.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		timeout: timeout,
	}, nil
}

// Publish implements eventstream.Publisher.
func (p *Publisher) Publish(ctx context.Context, event eventstream.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.UserID),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
