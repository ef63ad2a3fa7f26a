package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishCodeIssued logs auth.code.issued events.
func (p *StubPublisher) PublishCodeIssued(_ context.Context, event domain.CodeIssuedEvent) error {
	payload := map[string]any{
		"masked_email": event.MaskedEmail,
		"issued_at":    event.IssuedAt,
		"expires_at":   event.ExpiresAt,
		"delivered":    event.Delivered,
		"ip_address":   event.IPAddress,
		"metadata":     event.Metadata,
	}
	p.logEvent("auth.code.issued", "", event.IssuedAt, payload)
	return nil
}

// PublishSessionIssued logs auth.session.issued events.
func (p *StubPublisher) PublishSessionIssued(_ context.Context, event domain.SessionIssuedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"user_id":    event.UserID,
		"role":       event.Role,
		"new_user":   event.NewUser,
		"issued_at":  event.IssuedAt,
		"expires_at": event.ExpiresAt,
		"ip_address": event.IPAddress,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.session.issued", event.UserID, event.IssuedAt, payload)
	return nil
}

// PublishSessionRevoked logs auth.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"user_id":    event.UserID,
		"revoked_at": event.RevokedAt,
		"reason":     event.Reason,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
