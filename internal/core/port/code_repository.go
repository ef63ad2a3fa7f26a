package port

import (
	"context"
	"time"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
)

// CodeRepository persists verification codes. Implementations must provide
// the conditional consume semantics documented on Consume; everything else
// is plain row access.
type CodeRepository interface {
	// Create inserts a fresh code row.
	Create(ctx context.Context, code domain.VerificationCode) error

	// GetCurrentByEmail returns the newest unconsumed, unsuperseded code for
	// the email, or repository.ErrNotFound. Expiry is not filtered here so
	// the caller can distinguish an expired code for operator logs.
	GetCurrentByEmail(ctx context.Context, email string) (*domain.VerificationCode, error)

	// SupersedeActive logically invalidates every active code for the email
	// and returns how many rows were affected.
	SupersedeActive(ctx context.Context, email string, at time.Time) (int, error)

	// IncrementAttempts atomically bumps the failed-attempt counter and
	// returns the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// Consume sets consumed_at on the row only if it is still null, as a
	// single atomic update. When another call already consumed the code the
	// implementation returns repository.ErrAlreadyConsumed. This is the
	// at-most-once guarantee for concurrent duplicate submissions.
	Consume(ctx context.Context, id string, at time.Time) error
}
