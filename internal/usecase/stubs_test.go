package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

var errStoreUnavailable = errors.New("store unavailable")

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Auth: config.AuthSettings{
			CodeLength:       6,
			CodeTTL:          10 * time.Minute,
			MaxCodeAttempts:  5,
			IssueMaxPerEmail: 3,
			IssueWindow:      15 * time.Minute,
			SessionTTL:       720 * time.Hour,
		},
		Redis: config.RedisSettings{
			SessionCacheTTL: 10 * time.Minute,
		},
	}
}

// stubCodeRepo is an in-memory port.CodeRepository with the same conditional
// consume semantics as the Postgres implementation, safe for concurrent use.
type stubCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*domain.VerificationCode

	createErr  error
	consumeErr error
}

func newStubCodeRepo() *stubCodeRepo {
	return &stubCodeRepo{codes: make(map[string]*domain.VerificationCode)}
}

func (r *stubCodeRepo) Create(_ context.Context, code domain.VerificationCode) error {
	if r.createErr != nil {
		return r.createErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	copied := code
	r.codes[code.ID] = &copied
	return nil
}

func (r *stubCodeRepo) GetCurrentByEmail(_ context.Context, email string) (*domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []*domain.VerificationCode
	for _, code := range r.codes {
		if code.Email == email && code.ConsumedAt == nil && code.SupersededAt == nil {
			matches = append(matches, code)
		}
	}
	if len(matches) == 0 {
		return nil, repository.ErrNotFound
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	copied := *matches[0]
	return &copied, nil
}

func (r *stubCodeRepo) SupersedeActive(_ context.Context, email string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, code := range r.codes {
		if code.Email == email && code.ConsumedAt == nil && code.SupersededAt == nil {
			ts := at
			code.SupersededAt = &ts
			count++
		}
	}
	return count, nil
}

func (r *stubCodeRepo) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.codes[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	code.AttemptCount++
	return code.AttemptCount, nil
}

func (r *stubCodeRepo) Consume(_ context.Context, id string, at time.Time) error {
	if r.consumeErr != nil {
		return r.consumeErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.codes[id]
	if !ok {
		return repository.ErrNotFound
	}
	if code.ConsumedAt != nil {
		return repository.ErrAlreadyConsumed
	}
	ts := at
	code.ConsumedAt = &ts
	return nil
}

func (r *stubCodeRepo) get(id string) *domain.VerificationCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.codes[id]; ok {
		copied := *code
		return &copied
	}
	return nil
}

func (r *stubCodeRepo) all() []domain.VerificationCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.VerificationCode, 0, len(r.codes))
	for _, code := range r.codes {
		out = append(out, *code)
	}
	return out
}

// stubUserRepo is an in-memory port.UserRepository.
type stubUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User

	createErr error
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]*domain.User)}
}

func (r *stubUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepo) Create(_ context.Context, user domain.User) error {
	if r.createErr != nil {
		return r.createErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	copied := user
	r.users[user.ID] = &copied
	return nil
}

func (r *stubUserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	ts := at
	user.LastLogin = &ts
	return nil
}

func (r *stubUserRepo) add(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := user
	r.users[user.ID] = &copied
}

func (r *stubUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// stubSessionRepo is an in-memory port.SessionRepository keyed by token hash.
type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session

	createErr error
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *stubSessionRepo) Create(_ context.Context, session domain.Session) error {
	if r.createErr != nil {
		return r.createErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	copied := session
	r.sessions[session.TokenHash] = &copied
	return nil
}

func (r *stubSessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[tokenHash]; ok {
		copied := *session
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubSessionRepo) Revoke(_ context.Context, tokenHash string, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[tokenHash]
	if !ok || session.RevokedAt != nil {
		return repository.ErrNotFound
	}
	ts := at
	session.RevokedAt = &ts
	session.RevokeReason = &reason
	return nil
}

func (r *stubSessionRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for hash, session := range r.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(r.sessions, hash)
			count++
		}
	}
	return count, nil
}

func (r *stubSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// stubSessionCache is an in-memory port.SessionCache.
type stubSessionCache struct {
	mu      sync.Mutex
	entries map[string]domain.Session

	sets    int
	deletes int
}

func newStubSessionCache() *stubSessionCache {
	return &stubSessionCache{entries: make(map[string]domain.Session)}
}

func (c *stubSessionCache) Get(_ context.Context, tokenHash string) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.entries[tokenHash]; ok {
		copied := session
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (c *stubSessionCache) Set(_ context.Context, session domain.Session, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[session.TokenHash] = session
	c.sets++
	return nil
}

func (c *stubSessionCache) Delete(_ context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tokenHash)
	c.deletes++
	return nil
}

// stubRateLimitStore is an in-memory sliding window store.
type stubRateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time

	failAll bool
}

func newStubRateLimitStore() *stubRateLimitStore {
	return &stubRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *stubRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if s.failAll {
		return errStoreUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *stubRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if s.failAll {
		return 0, errStoreUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

func (s *stubRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	if s.failAll {
		return errStoreUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *stubRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if s.failAll {
		return time.Time{}, false, errStoreUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && !at.After(reference) {
			if !found || at.Before(oldest) {
				oldest = at
				found = true
			}
		}
	}
	return oldest, found, nil
}

func (s *stubRateLimitStore) totalAttempts(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts[identifier])
}

// stubMailer records sends and optionally fails.
type stubMailer struct {
	mu    sync.Mutex
	sends []sentMail

	err error
}

type sentMail struct {
	email string
	code  string
}

func (m *stubMailer) SendVerificationCode(_ context.Context, email, code string, _ time.Time) error {
	if m.err != nil {
		return m.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sentMail{email: email, code: code})
	return nil
}

func (m *stubMailer) lastSent() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sends) == 0 {
		return sentMail{}, false
	}
	return m.sends[len(m.sends)-1], true
}

func (m *stubMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

// stubEventPublisher counts published events.
type stubEventPublisher struct {
	mu              sync.Mutex
	codesIssued     []domain.CodeIssuedEvent
	sessionsIssued  []domain.SessionIssuedEvent
	sessionsRevoked []domain.SessionRevokedEvent
}

func (p *stubEventPublisher) PublishCodeIssued(_ context.Context, event domain.CodeIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codesIssued = append(p.codesIssued, event)
	return nil
}

func (p *stubEventPublisher) PublishSessionIssued(_ context.Context, event domain.SessionIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionsIssued = append(p.sessionsIssued, event)
	return nil
}

func (p *stubEventPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionsRevoked = append(p.sessionsRevoked, event)
	return nil
}
