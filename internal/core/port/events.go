package port

import (
	"context"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
)

// EventPublisher fans auth lifecycle events out to downstream consumers
// (audit, analytics). Publishing is best-effort; failures are logged and
// never fail the originating request.
type EventPublisher interface {
	PublishCodeIssued(ctx context.Context, event domain.CodeIssuedEvent) error
	PublishSessionIssued(ctx context.Context, event domain.SessionIssuedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
}
