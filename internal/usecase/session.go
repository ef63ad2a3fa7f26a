package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
	"github.com/harborlight/portal-auth-service/internal/infra/security"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

const (
	defaultSessionTTL  = 720 * time.Hour
	sessionTokenBytes  = 32
	logoutRevokeReason = "user_logout"
)

// SessionService issues, validates and revokes opaque login sessions.
// Clients hold the raw token; the service stores only its hash.
type SessionService struct {
	cfg      *config.AppConfig
	sessions port.SessionRepository
	cache    port.SessionCache
	users    port.UserRepository
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// IssueSessionInput carries the verified identity a session is created for.
type IssueSessionInput struct {
	Email     string
	IP        string
	UserAgent string
}

// IssueSessionResult carries the raw token (for the cookie) together with
// the persisted session and the resolved user. IsNewUser distinguishes
// signup-via-login from a returning member.
type IssueSessionResult struct {
	Token     string
	Session   domain.Session
	User      domain.User
	IsNewUser bool
}

// NewSessionService constructs a SessionService.
func NewSessionService(cfg *config.AppConfig, sessions port.SessionRepository, cache port.SessionCache, users port.UserRepository, events port.EventPublisher, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}

	return &SessionService{
		cfg:      cfg,
		sessions: sessions,
		cache:    cache,
		users:    users,
		events:   events,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// IssueSession resolves or creates the user for a verified email and mints
// a fresh opaque session token. First-time addresses become member accounts
// on the spot; the admin role is never assigned here.
func (s *SessionService) IssueSession(ctx context.Context, input IssueSessionInput) (*IssueSessionResult, error) {
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	user, isNew, err := s.resolveOrCreateUser(ctx, email, now)
	if err != nil {
		return nil, err
	}

	return s.mintSession(ctx, *user, isNew, input.IP, input.UserAgent, now)
}

// AdminLogin authenticates a provisioned admin account with email and
// password, then issues an ordinary session. It never creates users and
// rejects accounts without a seeded credential hash.
func (s *SessionService) AdminLogin(ctx context.Context, email, password string) (*IssueSessionResult, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if strings.TrimSpace(password) == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsAdmin() || user.CredentialHash == nil {
		return nil, ErrInvalidCredentials
	}

	matches, err := security.VerifyCredential(password, *user.CredentialHash)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	if !matches {
		s.logger.Info("admin login rejected",
			zap.String("email", logger.MaskEmail(normalized)),
		)
		return nil, ErrInvalidCredentials
	}

	return s.mintSession(ctx, *user, false, "", "", s.now().UTC())
}

// Validate resolves a raw token to its active session, trying the cache
// before Postgres. Unknown, revoked and expired sessions all come back as
// ErrSessionNotFound.
func (s *SessionService) Validate(ctx context.Context, token string) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}

	hash := security.HashToken(token)
	now := s.now().UTC()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, hash); err == nil {
			if cached.IsActive(now) {
				return cached, nil
			}
			// stale entry: fall through to the repository for the verdict
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("session cache lookup failed", zap.Error(err))
		}
	}

	session, err := s.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	if !session.IsActive(now) {
		if s.cache != nil {
			if err := s.cache.Delete(ctx, hash); err != nil {
				s.logger.Warn("session cache evict failed", zap.Error(err))
			}
		}
		return nil, ErrSessionNotFound
	}

	s.warmCache(ctx, *session, now)

	return session, nil
}

// CurrentUser loads the user a validated session belongs to.
func (s *SessionService) CurrentUser(ctx context.Context, session *domain.Session) (*domain.User, error) {
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return user, nil
}

// Invalidate revokes the session behind a raw token. Unknown and
// already-revoked tokens are silently accepted so logout stays idempotent.
func (s *SessionService) Invalidate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	hash := security.HashToken(token)
	now := s.now().UTC()

	session, err := s.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup session: %w", err)
	}

	if err := s.sessions.Revoke(ctx, hash, now, logoutRevokeReason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, hash); err != nil {
			s.logger.Warn("session cache evict failed", zap.Error(err))
		}
	}

	s.publishSessionRevokedEvent(ctx, *session, now)

	return nil
}

// PurgeExpired deletes session rows whose expiry has passed. Intended to be
// called periodically; the cache needs no sweep since its entries carry TTLs.
func (s *SessionService) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()

	count, err := s.sessions.DeleteExpiredBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	if count > 0 {
		s.logger.Info("expired sessions purged", zap.Int("count", count))
	}
	return count, nil
}

func (s *SessionService) mintSession(ctx context.Context, user domain.User, isNew bool, ip, userAgent string, now time.Time) (*IssueSessionResult, error) {
	token, err := security.GenerateSecureToken(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(token),
		Role:      user.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL()),
	}
	if trimmed := strings.TrimSpace(ip); trimmed != "" {
		session.IP = &trimmed
	}
	if trimmed := strings.TrimSpace(userAgent); trimmed != "" {
		session.UserAgent = &trimmed
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("touch last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.warmCache(ctx, session, now)
	s.publishSessionIssuedEvent(ctx, session, isNew, ip)

	s.logger.Info("session issued",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.Bool("new_user", isNew),
	)

	return &IssueSessionResult{
		Token:     token,
		Session:   session,
		User:      user,
		IsNewUser: isNew,
	}, nil
}

func (s *SessionService) resolveOrCreateUser(ctx context.Context, email string, now time.Time) (*domain.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}

	created := domain.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayNameFromEmail(email),
		Role:        domain.RoleMember,
		CreatedAt:   now,
	}

	if err := s.users.Create(ctx, created); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created on first login",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("user_id", created.ID),
	)

	return &created, true, nil
}

func (s *SessionService) warmCache(ctx context.Context, session domain.Session, now time.Time) {
	if s.cache == nil {
		return
	}

	ttl := s.cacheTTL()
	if remaining := session.ExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	if err := s.cache.Set(ctx, session, ttl); err != nil {
		s.logger.Warn("session cache warm failed", zap.Error(err))
	}
}

func (s *SessionService) publishSessionIssuedEvent(ctx context.Context, session domain.Session, isNew bool, ip string) {
	if s.events == nil {
		return
	}

	event := domain.SessionIssuedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Role:      session.Role,
		NewUser:   isNew,
		IssuedAt:  session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}
	if trimmed := strings.TrimSpace(ip); trimmed != "" {
		event.IPAddress = &trimmed
	}

	if err := s.events.PublishSessionIssued(ctx, event); err != nil {
		s.logger.Warn("publish session issued event failed", zap.Error(err))
	}
}

func (s *SessionService) publishSessionRevokedEvent(ctx context.Context, session domain.Session, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.SessionRevokedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		RevokedAt: at,
		Reason:    logoutRevokeReason,
	}

	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish session revoked event failed", zap.Error(err))
	}
}

func (s *SessionService) sessionTTL() time.Duration {
	if s.cfg != nil && s.cfg.Auth.SessionTTL > 0 {
		return s.cfg.Auth.SessionTTL
	}
	return defaultSessionTTL
}

func (s *SessionService) cacheTTL() time.Duration {
	if s.cfg != nil && s.cfg.Redis.SessionCacheTTL > 0 {
		return s.cfg.Redis.SessionCacheTTL
	}
	return 10 * time.Minute
}

func displayNameFromEmail(email string) string {
	if idx := strings.Index(email, "@"); idx > 0 {
		return email[:idx]
	}
	return email
}
