package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/usecase"
)

const sessionContextKey = "session"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireSession validates the session cookie and stores the resolved
// session in the request context. Missing, expired and revoked sessions are
// indistinguishable to the client.
func RequireSession(sessions *usecase.SessionService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		session, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrSessionNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "authentication required"))
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "authentication failed"))
			return
		}

		c.Set(sessionContextKey, session)
		c.Set(UserIDKey, session.UserID)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = session.UserID
		}

		c.Next()
	}
}

// RequireRole checks that the authenticated session carries one of the
// given roles. Use after RequireSession.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := GetSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		for _, role := range roles {
			if session.Role == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden,
			newErrorResponse(c, "insufficient permissions"))
	}
}

// GetSession retrieves the validated session from context (helper for handlers).
func GetSession(c *gin.Context) (*domain.Session, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return nil, false
	}
	session, ok := value.(*domain.Session)
	return session, ok
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers).
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
