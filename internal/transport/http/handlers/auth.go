package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
	"github.com/harborlight/portal-auth-service/internal/transport/http/middleware"
	"github.com/harborlight/portal-auth-service/internal/usecase"
)

// invalidCodeMessage is deliberately shared by every verification rejection
// an end user can trigger, so the response does not reveal whether a code
// exists, expired, or simply mismatched.
const invalidCodeMessage = "invalid or expired code"

// AuthHandler exposes the passwordless authentication endpoints.
type AuthHandler struct {
	issuer   *usecase.CodeIssuerService
	verifier *usecase.CodeVerifierService
	sessions *usecase.SessionService
	cfg      *config.AppConfig
	logger   *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(issuer *usecase.CodeIssuerService, verifier *usecase.CodeVerifierService, sessions *usecase.SessionService, cfg *config.AppConfig, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}

	return &AuthHandler{
		issuer:   issuer,
		verifier: verifier,
		sessions: sessions,
		cfg:      cfg,
		logger:   log,
	}
}

// RegisterRoutes binds authentication routes, applying per-route middleware
// ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, sendCodeMW, verifyMW, adminMW []gin.HandlerFunc) {
	r.POST("/send-code", append(append([]gin.HandlerFunc{}, sendCodeMW...), h.sendCode)...)
	r.POST("/verify-code", append(append([]gin.HandlerFunc{}, verifyMW...), h.verifyCode)...)
	r.POST("/logout", h.logout)
	r.GET("/session", middleware.RequireSession(h.sessions, h.cookieName()), h.sessionInfo)
	r.POST("/admin-login", append(append([]gin.HandlerFunc{}, adminMW...), h.adminLogin)...)
}

func (h *AuthHandler) sendCode(c *gin.Context) {
	var req SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "a valid email address is required"))
		return
	}

	_, err := h.issuer.Issue(c.Request.Context(), usecase.IssueCodeInput{
		Email: req.Email,
		IP:    c.ClientIP(),
	})
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		switch {
		case errors.Is(err, usecase.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "a valid email address is required"))
			return
		case errors.As(err, &rateErr):
			// accepted silently: the response must not reveal issuance history
			h.logger.Info("send-code rate limited",
				zap.String("email", logger.MaskEmail(req.Email)),
				zap.Duration("retry_after", rateErr.RetryAfter),
			)
		case errors.Is(err, usecase.ErrDeliveryFailed):
			// accepted silently: the address may not exist, which is exactly
			// what we refuse to disclose
			h.logger.Warn("send-code delivery failed",
				zap.String("email", logger.MaskEmail(req.Email)),
				zap.Error(err),
			)
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "unable to process request"))
			return
		}
	}

	c.JSON(http.StatusOK, SendCodeResponse{OK: true})
}

func (h *AuthHandler) verifyCode(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and code are required"))
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(), usecase.VerifyCodeInput{
		Email:     req.Email,
		Code:      req.Code,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, usecase.ErrCodeAlreadyConsumed) {
			// duplicate submission that lost the consume race: not an error
			// from the user's perspective, but no new session either
			c.JSON(http.StatusOK, VerifyCodeResponse{OK: true, AlreadyVerified: true})
			return
		}

		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidEmail, Status: http.StatusBadRequest, Message: "a valid email address is required"},
			{Err: usecase.ErrNoActiveCode, Status: http.StatusUnauthorized, Message: invalidCodeMessage},
			{Err: usecase.ErrCodeExpired, Status: http.StatusUnauthorized, Message: invalidCodeMessage},
			{Err: usecase.ErrInvalidCode, Status: http.StatusUnauthorized, Message: invalidCodeMessage},
			{Err: usecase.ErrTooManyAttempts, Status: http.StatusUnauthorized, Message: invalidCodeMessage},
		}, http.StatusInternalServerError, "unable to process request")
		return
	}

	h.setSessionCookie(c, result.Token)

	user := newUserSummary(result.User)
	c.JSON(http.StatusOK, VerifyCodeResponse{
		OK:      true,
		NewUser: result.IsNewUser,
		User:    &user,
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	token, err := c.Cookie(h.cookieName())
	if err == nil && token != "" {
		if err := h.sessions.Invalidate(c.Request.Context(), token); err != nil {
			h.logger.Warn("logout invalidate failed", zap.Error(err))
		}
	}

	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) sessionInfo(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	user, err := h.sessions.CurrentUser(c.Request.Context(), session)
	if err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "unable to process request"))
		return
	}

	c.JSON(http.StatusOK, SessionInfoResponse{
		User:    newUserSummary(*user),
		Session: newSessionSummary(*session),
	})
}

func (h *AuthHandler) adminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and password are required"))
		return
	}

	result, err := h.sessions.AdminLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		}, http.StatusInternalServerError, "unable to process request")
		return
	}

	h.setSessionCookie(c, result.Token)

	user := newUserSummary(result.User)
	c.JSON(http.StatusOK, VerifyCodeResponse{OK: true, User: &user})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cookieName(),
		token,
		int(h.cfg.Auth.SessionTTL.Seconds()),
		"/",
		h.cfg.Auth.CookieDomain,
		h.secureCookies(),
		true,
	)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName(), "", -1, "/", h.cfg.Auth.CookieDomain, h.secureCookies(), true)
}

func (h *AuthHandler) cookieName() string {
	if h.cfg != nil && h.cfg.Auth.CookieName != "" {
		return h.cfg.Auth.CookieName
	}
	return "portal_session"
}

func (h *AuthHandler) secureCookies() bool {
	return h.cfg == nil || h.cfg.App.Env != "development"
}
