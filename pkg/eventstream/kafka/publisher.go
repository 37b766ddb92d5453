// Package kafka implements an eventstream publisher backed by Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/spoolhq/spool/pkg/eventstream"
)

// Publisher writes conversation events to a Kafka topic, keyed by
// conversation id so events for one conversation stay ordered within a
// partition.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the list of broker addresses.
	Brokers []string

	// Topic is the topic events are written to.
	Topic string
}

// NewPublisher creates a Kafka-backed eventstream publisher.
func NewPublisher(c Config, logger *slog.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(c.Brokers...),
		Topic:    c.Topic,
		Balancer: &kafkago.Hash{},
	}

	return &Publisher{
		writer: writer,
		logger: logger,
	}, nil
}

// Publish writes the event to the configured topic.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.ConversationEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("writing event to kafka: %w", err)
	}

	p.logger.Debug("published event",
		"event_type", event.EventType,
		"conversation_id", event.ConversationID,
	)

	return nil
}

// Close flushes pending messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
