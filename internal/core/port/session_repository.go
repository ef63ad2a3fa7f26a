package port

import (
	"context"
	"time"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
)

// SessionRepository persists login sessions keyed by token hash.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Revoke marks the session revoked; revoking an already-revoked or
	// unknown session returns repository.ErrNotFound so callers can stay
	// idempotent.
	Revoke(ctx context.Context, tokenHash string, at time.Time, reason string) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionCache is an optional read-through cache in front of the session
// repository, keyed by token hash.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*domain.Session, error)
	Set(ctx context.Context, session domain.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}
