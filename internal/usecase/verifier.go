package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
	"github.com/harborlight/portal-auth-service/internal/infra/security"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

const defaultMaxCodeAttempts = 5

// CodeVerifierService checks submitted codes against the stored hash and,
// on the single winning submission, turns the code into a session.
type CodeVerifierService struct {
	cfg      *config.AppConfig
	codes    port.CodeRepository
	sessions *SessionService
	logger   *zap.Logger
	now      func() time.Time
}

// VerifyCodeInput captures a submission from the verify-code endpoint.
type VerifyCodeInput struct {
	Email     string
	Code      string
	IP        string
	UserAgent string
}

// VerifyCodeResult carries the session issued to the CAS winner.
type VerifyCodeResult struct {
	Token     string
	Session   domain.Session
	User      domain.User
	IsNewUser bool
}

// NewCodeVerifierService constructs a CodeVerifierService.
func NewCodeVerifierService(cfg *config.AppConfig, codes port.CodeRepository, sessions *SessionService, log *zap.Logger) *CodeVerifierService {
	if log == nil {
		log = zap.NewNop()
	}

	return &CodeVerifierService{
		cfg:      cfg,
		codes:    codes,
		sessions: sessions,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *CodeVerifierService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Verify resolves the outstanding code for the address and walks the
// rejection ladder: missing, expired, attempt ceiling, hash mismatch.
// A matching code is consumed with a conditional update so that of two
// concurrent duplicate submissions exactly one reaches session issuance;
// the loser observes ErrCodeAlreadyConsumed.
func (s *CodeVerifierService) Verify(ctx context.Context, input VerifyCodeInput) (*VerifyCodeResult, error) {
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	submitted := strings.TrimSpace(input.Code)
	if submitted == "" {
		return nil, ErrInvalidCode
	}

	code, err := s.codes.GetCurrentByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveCode
		}
		return nil, fmt.Errorf("lookup verification code: %w", err)
	}

	now := s.now().UTC()
	if code.State(now) == domain.CodeStateExpired {
		s.logger.Info("verification rejected: code expired",
			zap.String("email", logger.MaskEmail(email)),
			zap.Time("expired_at", code.ExpiresAt),
		)
		return nil, ErrCodeExpired
	}

	ceiling := s.maxAttempts()
	if code.AttemptCount >= ceiling {
		return nil, ErrTooManyAttempts
	}

	if !security.ConstantTimeEquals(security.HashToken(submitted), code.CodeHash) {
		attempts, incErr := s.codes.IncrementAttempts(ctx, code.ID)
		if incErr != nil {
			return nil, fmt.Errorf("record failed attempt: %w", incErr)
		}
		if attempts >= ceiling {
			s.logger.Info("verification code locked by attempt ceiling",
				zap.String("email", logger.MaskEmail(email)),
				zap.Int("attempts", attempts),
			)
		}
		return nil, ErrInvalidCode
	}

	if err := s.codes.Consume(ctx, code.ID, now); err != nil {
		if errors.Is(err, repository.ErrAlreadyConsumed) {
			s.logger.Info("duplicate verification lost consume race",
				zap.String("email", logger.MaskEmail(email)),
			)
			return nil, ErrCodeAlreadyConsumed
		}
		return nil, fmt.Errorf("consume verification code: %w", err)
	}

	issued, err := s.sessions.IssueSession(ctx, IssueSessionInput{
		Email:     email,
		IP:        input.IP,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	return &VerifyCodeResult{
		Token:     issued.Token,
		Session:   issued.Session,
		User:      issued.User,
		IsNewUser: issued.IsNewUser,
	}, nil
}

func (s *CodeVerifierService) maxAttempts() int {
	if s.cfg != nil && s.cfg.Auth.MaxCodeAttempts > 0 {
		return s.cfg.Auth.MaxCodeAttempts
	}
	return defaultMaxCodeAttempts
}
