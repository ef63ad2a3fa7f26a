package domain

import "time"

// CodeIssuedEvent is published after a verification code has been persisted
// and handed to the mail sender. The plaintext code never appears here.
type CodeIssuedEvent struct {
	EventID     string
	Email       string
	MaskedEmail string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Delivered   bool
	IPAddress   *string
	Metadata    map[string]any
}

// SessionIssuedEvent is published when a verification succeeds and a session
// is created, covering both ordinary logins and signup-via-login.
type SessionIssuedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	Role      Role
	NewUser   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
	IPAddress *string
	Metadata  map[string]any
}

// SessionRevokedEvent is published when a session is invalidated by logout.
type SessionRevokedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	RevokedAt time.Time
	Reason    string
	Metadata  map[string]any
}
