// Package events publishes audit entries to Kafka so other systems can
// follow link lifecycle changes and bulk operations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

// DefaultTopic receives audit events when no topic is configured.
const DefaultTopic = "shortlinks.audit"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a core.AuditSink backed by a Kafka writer. A Publisher
// created without brokers drops every entry.
type Publisher struct {
	writer messageWriter
	topic  string
}

var _ core.AuditSink = (*Publisher)(nil)

// NewPublisher creates an asynchronous publisher. Delivery failures are
// reported through the writer's completion callback and logged.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if len(brokers) == 0 {
		return &Publisher{topic: topic}
	}
	return &Publisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					slog.Error("kafka write failed", "topic", topic, "messages", len(msgs), "error", err)
				}
			},
		},
	}
}

// Enabled reports whether entries are actually sent.
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

// RecordAudit publishes entry keyed by its code, so all events for one
// link land on the same partition. Entries without a code are keyed by
// action.
func (p *Publisher) RecordAudit(ctx context.Context, entry core.AuditEntry) error {
	if p.writer == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	key := entry.Code
	if key == "" {
		key = string(entry.Action)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  entry.CreatedAt,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "severity", Value: []byte(entry.Severity)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
