package port

import (
	"context"
	"time"
)

// RateLimitStore records and counts attempts inside a sliding window. It is
// consulted before code issuance (per email) and by the per-IP HTTP
// middleware. Counters are approximate: failures here must not
// block the auth decision itself.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}
