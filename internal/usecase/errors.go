package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEmail indicates the supplied address fails syntactic validation.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrNoActiveCode indicates no outstanding code exists for the address.
	// Covers never-requested and already-superseded codes alike.
	ErrNoActiveCode = errors.New("no active verification code")
	// ErrCodeExpired indicates the outstanding code's TTL has elapsed.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrInvalidCode indicates the submitted code does not match.
	ErrInvalidCode = errors.New("verification code does not match")
	// ErrTooManyAttempts indicates the attempt ceiling has been reached; the
	// code is permanently dead even if the correct value is submitted later.
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrCodeAlreadyConsumed indicates the code was consumed by a concurrent
	// or earlier submission. The caller must not issue a session.
	ErrCodeAlreadyConsumed = errors.New("verification code already consumed")
	// ErrDeliveryFailed indicates the code was persisted but the mail send
	// failed or timed out. The stored code remains valid.
	ErrDeliveryFailed = errors.New("verification code delivery failed")
	// ErrSessionNotFound indicates no active session matches the token.
	// Expired and revoked sessions are reported identically.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidCredentials indicates the admin email/password pair is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// RateLimitExceededError reports a denied request along with how long the
// caller should wait before the sliding window frees up.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Scope, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}
