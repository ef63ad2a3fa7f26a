package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishCodeIssued publishes auth.code.issued events. The payload carries
// the masked address only, never the plaintext code or full email.
func (p *EventPublisher) PublishCodeIssued(ctx context.Context, event domain.CodeIssuedEvent) error {
	payload := struct {
		MaskedEmail string         `json:"masked_email"`
		IssuedAt    time.Time      `json:"issued_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		Delivered   bool           `json:"delivered"`
		IPAddress   *string        `json:"ip_address,omitempty"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		MaskedEmail: event.MaskedEmail,
		IssuedAt:    event.IssuedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
		Delivered:   event.Delivered,
		IPAddress:   event.IPAddress,
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.code.issued", "", event.IssuedAt, payload)
}

// PublishSessionIssued publishes auth.session.issued events.
func (p *EventPublisher) PublishSessionIssued(ctx context.Context, event domain.SessionIssuedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		UserID    string         `json:"user_id"`
		Role      string         `json:"role"`
		NewUser   bool           `json:"new_user"`
		IssuedAt  time.Time      `json:"issued_at"`
		ExpiresAt time.Time      `json:"expires_at"`
		IPAddress *string        `json:"ip_address,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Role:      string(event.Role),
		NewUser:   event.NewUser,
		IssuedAt:  event.IssuedAt.UTC(),
		ExpiresAt: event.ExpiresAt.UTC(),
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.session.issued", event.UserID, event.IssuedAt, payload)
}

// PublishSessionRevoked publishes auth.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		UserID    string         `json:"user_id"`
		RevokedAt time.Time      `json:"revoked_at"`
		Reason    string         `json:"reason"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		RevokedAt: event.RevokedAt.UTC(),
		Reason:    event.Reason,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.session.revoked", event.UserID, event.RevokedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
