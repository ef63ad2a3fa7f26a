package usecase

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
	"github.com/harborlight/portal-auth-service/internal/infra/security"
)

const (
	defaultCodeLength  = 6
	defaultCodeTTL     = 10 * time.Minute
	defaultIssueMax    = 3
	defaultIssueWindow = 15 * time.Minute

	codeIssueRateLimitScope = "code_issue"
)

// CodeIssuerService generates verification codes and hands them to the
// mail sender. Only the SHA-256 hash of a code is ever persisted.
type CodeIssuerService struct {
	cfg        *config.AppConfig
	codes      port.CodeRepository
	rateLimits port.RateLimitStore
	mailer     port.Mailer
	events     port.EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// IssueCodeInput captures a code request from the send-code endpoint.
type IssueCodeInput struct {
	Email string
	IP    string
}

// IssueCodeResult describes a successfully issued code. The plaintext code
// is deliberately absent: it travels only to the mailer.
type IssueCodeResult struct {
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewCodeIssuerService constructs a CodeIssuerService.
func NewCodeIssuerService(cfg *config.AppConfig, codes port.CodeRepository, rateLimits port.RateLimitStore, mailer port.Mailer, events port.EventPublisher, log *zap.Logger) *CodeIssuerService {
	if log == nil {
		log = zap.NewNop()
	}

	return &CodeIssuerService{
		cfg:        cfg,
		codes:      codes,
		rateLimits: rateLimits,
		mailer:     mailer,
		events:     events,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *CodeIssuerService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue validates the address, enforces the per-email issuance ceiling,
// supersedes any outstanding code, persists a fresh hashed code and sends
// the plaintext by email. A denied rate limit returns before any store
// mutation. Delivery failure leaves the stored code valid and is reported
// as ErrDeliveryFailed so the transport can decide how much to reveal.
func (s *CodeIssuerService) Issue(ctx context.Context, input IssueCodeInput) (*IssueCodeResult, error) {
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	if err := s.enforceIssueRateLimit(ctx, email, now); err != nil {
		return nil, err
	}

	superseded, err := s.codes.SupersedeActive(ctx, email, now)
	if err != nil {
		return nil, fmt.Errorf("supersede active codes: %w", err)
	}
	if superseded > 0 {
		s.logger.Debug("superseded outstanding codes",
			zap.String("email", logger.MaskEmail(email)),
			zap.Int("count", superseded),
		)
	}

	plaintext, err := security.GenerateNumericCode(s.codeLength())
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	expiresAt := now.Add(s.codeTTL())
	code := domain.VerificationCode{
		ID:        uuid.NewString(),
		Email:     email,
		CodeHash:  security.HashToken(plaintext),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := s.codes.Create(ctx, code); err != nil {
		return nil, fmt.Errorf("store verification code: %w", err)
	}

	if err := s.mailer.SendVerificationCode(ctx, email, plaintext, expiresAt); err != nil {
		s.logger.Warn("verification code delivery failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		s.publishCodeIssuedEvent(ctx, email, now, expiresAt, false, input.IP)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.publishCodeIssuedEvent(ctx, email, now, expiresAt, true, input.IP)

	s.logger.Info("verification code issued",
		zap.String("email", logger.MaskEmail(email)),
		zap.Time("expires_at", expiresAt),
	)

	return &IssueCodeResult{
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *CodeIssuerService) enforceIssueRateLimit(ctx context.Context, email string, now time.Time) error {
	if s.rateLimits == nil {
		return nil
	}

	limit := defaultIssueMax
	window := defaultIssueWindow
	if s.cfg != nil {
		if s.cfg.Auth.IssueMaxPerEmail > 0 {
			limit = s.cfg.Auth.IssueMaxPerEmail
		}
		if s.cfg.Auth.IssueWindow > 0 {
			window = s.cfg.Auth.IssueWindow
		}
	}

	storageKey := fmt.Sprintf("%s:%s", codeIssueRateLimitScope, email)

	if err := s.rateLimits.TrimWindow(ctx, storageKey, window, now); err != nil {
		s.logger.Warn("issue rate limit trim failed", zap.String("scope", codeIssueRateLimitScope), zap.Error(err))
		return nil
	}

	count, err := s.rateLimits.CountAttempts(ctx, storageKey, window, now)
	if err != nil {
		s.logger.Warn("issue rate limit count failed", zap.String("scope", codeIssueRateLimitScope), zap.Error(err))
		return nil
	}

	if count >= limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, storageKey, window, now); err == nil && ok {
			reset := oldest.Add(window)
			if reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			s.logger.Warn("issue rate limit oldest lookup failed", zap.Error(err))
		}
		return &RateLimitExceededError{Scope: codeIssueRateLimitScope, RetryAfter: retryAfter}
	}

	if err := s.rateLimits.RecordAttempt(ctx, storageKey, now); err != nil {
		s.logger.Warn("issue rate limit record failed", zap.Error(err))
	}

	return nil
}

func (s *CodeIssuerService) publishCodeIssuedEvent(ctx context.Context, email string, issuedAt, expiresAt time.Time, delivered bool, ip string) {
	if s.events == nil {
		return
	}

	event := domain.CodeIssuedEvent{
		EventID:     uuid.NewString(),
		Email:       email,
		MaskedEmail: logger.MaskEmail(email),
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		Delivered:   delivered,
	}
	if trimmed := strings.TrimSpace(ip); trimmed != "" {
		event.IPAddress = &trimmed
	}

	if err := s.events.PublishCodeIssued(ctx, event); err != nil {
		s.logger.Warn("publish code issued event failed", zap.Error(err))
	}
}

func (s *CodeIssuerService) codeLength() int {
	if s.cfg != nil && s.cfg.Auth.CodeLength > 0 {
		return s.cfg.Auth.CodeLength
	}
	return defaultCodeLength
}

func (s *CodeIssuerService) codeTTL() time.Duration {
	if s.cfg != nil && s.cfg.Auth.CodeTTL > 0 {
		return s.cfg.Auth.CodeTTL
	}
	return defaultCodeTTL
}

// NormalizeEmail lowercases and trims the address and rejects anything that
// is not a bare RFC 5322 address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", ErrInvalidEmail
	}

	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", ErrInvalidEmail
	}

	return trimmed, nil
}
