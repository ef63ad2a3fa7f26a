package port

import (
	"context"
	"time"
)

// Mailer delivers verification codes to users. Implementations are treated
// as opaque, possibly slow and possibly failing; callers bound each send
// with a timeout and never roll back persisted state on failure.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error
}
