// Package events publishes marketplace notifications to Kafka so other
// services can follow request and offer changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/meanishn/platform/internal/ports"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ports.Notifier by writing one message per
// notification, keyed by request id so a request's events stay ordered.
type Publisher struct {
	writer Writer
	topic  string
}

// NewWriter creates a Kafka writer for the given brokers.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(w Writer, topic string) *Publisher {
	return &Publisher{writer: w, topic: topic}
}

// Message builds the Kafka message for n, carrying the active trace context.
func (p *Publisher) Message(ctx context.Context, n ports.Notification) (kafka.Message, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := headerCarrier{{Key: "kind", Value: []byte(n.Kind)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	return kafka.Message{
		Topic:   p.topic,
		Key:     []byte(n.RequestID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    n.At,
	}, nil
}

func (p *Publisher) Notify(ctx context.Context, n ports.Notification) error {
	msg, err := p.Message(ctx, n)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
