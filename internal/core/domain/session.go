package domain

import "time"

// Session represents a persisted login session. The opaque session token
// handed to the client is never stored; only its hash is.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	Role         Role
	IP           *string
	UserAgent    *string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// IsActive reports whether the session is still valid (not revoked and not
// expired at the supplied moment).
func (s Session) IsActive(at time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(at)
}

// Revoke marks the session as revoked. Returns true when the session
// changed state, false when it was already revoked.
func (s *Session) Revoke(at time.Time, reason string) bool {
	if s.RevokedAt != nil {
		return false
	}
	s.RevokedAt = &at
	s.RevokeReason = &reason
	return true
}
