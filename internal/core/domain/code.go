package domain

import "time"

// CodeState enumerates the lifecycle states of a verification code.
type CodeState string

const (
	CodeStateActive     CodeState = "active"
	CodeStateConsumed   CodeState = "consumed"
	CodeStateExpired    CodeState = "expired"
	CodeStateSuperseded CodeState = "superseded"
)

// VerificationCode mirrors the persisted representation in the
// verification_codes table. Only the hash of the code is ever stored;
// the plaintext exists solely in transit to the mail sender.
type VerificationCode struct {
	ID           string
	Email        string
	CodeHash     string
	AttemptCount int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	SupersededAt *time.Time
}

// State reports the lifecycle state of the code at the supplied moment.
// Consumed and superseded are terminal regardless of expiry.
func (c VerificationCode) State(at time.Time) CodeState {
	switch {
	case c.ConsumedAt != nil:
		return CodeStateConsumed
	case c.SupersededAt != nil:
		return CodeStateSuperseded
	case !c.ExpiresAt.After(at):
		return CodeStateExpired
	default:
		return CodeStateActive
	}
}

// IsActive reports whether the code can still be verified at the supplied moment.
func (c VerificationCode) IsActive(at time.Time) bool {
	return c.State(at) == CodeStateActive
}
