// Package kafka publishes billing events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/customer-portal/internal/billing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes billing events as JSON, keyed by customer so a customer's
// events stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	prefix string
}

var _ billing.Publisher = (*Publisher)(nil)

// NewPublisher constructs a publisher for brokers. Topics are
// "<prefix>.<event type>".
func NewPublisher(brokers []string, prefix string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, prefix)
}

func newPublisher(writer messageWriter, prefix string) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "billing"
	}
	return &Publisher{writer: writer, prefix: prefix}
}

// Publish implements billing.Publisher.
func (p *Publisher) Publish(ctx context.Context, event billing.Event) error {
	msg, err := p.message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Topic returns the topic an event type is written to.
func (p *Publisher) Topic(eventType string) string {
	return p.prefix + "." + eventType
}

// Close flushes pending messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) message(event billing.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: p.Topic(event.Type),
		Key:   []byte(event.CustomerID.String()),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	}, nil
}
