// Package kafka forwards audit events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"qrverify/internal/platform/kafka/producer"
	audit "qrverify/pkg/platform/audit"
)

// DefaultTopic receives verification audit events.
const DefaultTopic = "qrverify.audit.events"

// Producer is the subset of producer.Producer the store needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Store publishes each event as JSON, keyed by user so a member's events
// stay ordered within one partition.
type Store struct {
	producer Producer
	topic    string
}

func New(p Producer, topic string) *Store {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Store{producer: p, topic: topic}
}

func (s *Store) Append(ctx context.Context, e audit.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	msg := &producer.Message{
		Topic: s.topic,
		Key:   []byte(e.UserID),
		Value: payload,
		Headers: map[string]string{
			"event_type":      e.Action,
			"category":        string(audit.AuditEvent(e.Action).Category()),
			"verification_id": e.VerificationID,
		},
	}
	if err := s.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
