package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse reports dependency readiness per component.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
}

// SessionSummary provides a compact view of session context.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SendCodeRequest defines the payload for the send-code endpoint.
type SendCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// SendCodeResponse acknowledges a code request. The response is identical
// whether or not a mail was actually sent, so addresses cannot be probed.
type SendCodeResponse struct {
	OK bool `json:"ok"`
}

// VerifyCodeRequest defines the payload for the verify-code endpoint.
type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

// VerifyCodeResponse is returned on successful verification. AlreadyVerified
// marks a duplicate submission whose code was consumed moments earlier; no
// new cookie accompanies it.
type VerifyCodeResponse struct {
	OK              bool         `json:"ok"`
	AlreadyVerified bool         `json:"already_verified,omitempty"`
	NewUser         bool         `json:"new_user,omitempty"`
	User            *UserSummary `json:"user,omitempty"`
}

// AdminLoginRequest defines the payload for the internal admin login.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SessionInfoResponse describes the current authenticated session.
type SessionInfoResponse struct {
	User    UserSummary    `json:"user"`
	Session SessionSummary `json:"session"`
}

func newUserSummary(user domain.User) UserSummary {
	return UserSummary{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}
}

func newSessionSummary(session domain.Session) SessionSummary {
	return SessionSummary{
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}
}
