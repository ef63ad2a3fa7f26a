package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/security"
	"github.com/harborlight/portal-auth-service/internal/repository"
	"github.com/harborlight/portal-auth-service/internal/transport/http/routes"
	"github.com/harborlight/portal-auth-service/internal/usecase"
)

type memCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*domain.VerificationCode
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{codes: make(map[string]*domain.VerificationCode)}
}

func (r *memCodeRepo) Create(_ context.Context, code domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := code
	r.codes[code.ID] = &copied
	return nil
}

func (r *memCodeRepo) GetCurrentByEmail(_ context.Context, email string) (*domain.VerificationCode, error) {
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

func (r *memCodeRepo) SupersedeActive(_ context.Context, email string, at time.Time) (int, error) {
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

func (r *memCodeRepo) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	code.AttemptCount++
	return code.AttemptCount, nil
}

func (r *memCodeRepo) Consume(_ context.Context, id string, at time.Time) error {
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

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := session
	r.sessions[session.TokenHash] = &copied
	return nil
}

func (r *memSessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *memSessionRepo) Revoke(_ context.Context, tokenHash string, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[tokenHash]
	if !ok || session.RevokedAt != nil {
		return repository.ErrNotFound
	}
	session.Revoke(at, reason)
	return nil
}

func (r *memSessionRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
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

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) add(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := user
	r.users[user.ID] = &copied
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
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

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memUserRepo) Create(_ context.Context, user domain.User) error {
	r.add(user)
	return nil
}

func (r *memUserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
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

type memSessionCache struct {
	mu      sync.Mutex
	entries map[string]domain.Session
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{entries: make(map[string]domain.Session)}
}

func (c *memSessionCache) Get(_ context.Context, tokenHash string) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.entries[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (c *memSessionCache) Set(_ context.Context, session domain.Session, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[session.TokenHash] = session
	return nil
}

func (c *memSessionCache) Delete(_ context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tokenHash)
	return nil
}

type memRateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newMemRateLimitStore() *memRateLimitStore {
	return &memRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *memRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	threshold := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(threshold) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *memRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threshold := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(threshold) {
			count++
		}
	}
	return count, nil
}

func (s *memRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *memRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threshold := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.After(threshold) && (!found || at.Before(oldest)) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

type capturedMail struct {
	email string
	code  string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []capturedMail
}

func (m *captureMailer) SendVerificationCode(_ context.Context, email, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, capturedMail{email: email, code: code})
	return nil
}

func (m *captureMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].code
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type nopEvents struct{}

func (nopEvents) PublishCodeIssued(context.Context, domain.CodeIssuedEvent) error { return nil }
func (nopEvents) PublishSessionIssued(context.Context, domain.SessionIssuedEvent) error {
	return nil
}
func (nopEvents) PublishSessionRevoked(context.Context, domain.SessionRevokedEvent) error {
	return nil
}

type authFixture struct {
	engine   *gin.Engine
	mailer   *captureMailer
	codes    *memCodeRepo
	users    *memUserRepo
	issuer   *usecase.CodeIssuerService
	verifier *usecase.CodeVerifierService
	cfg      *config.AppConfig
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		App: config.AppSettings{Name: "portal-auth-service", Env: "test"},
		Auth: config.AuthSettings{
			CodeLength:       6,
			CodeTTL:          10 * time.Minute,
			MaxCodeAttempts:  5,
			IssueMaxPerEmail: 3,
			IssueWindow:      15 * time.Minute,
			SessionTTL:       720 * time.Hour,
			CookieName:       "portal_session",
		},
		Redis: config.RedisSettings{SessionCacheTTL: 10 * time.Minute},
	}

	codes := newMemCodeRepo()
	users := newMemUserRepo()
	mailer := &captureMailer{}

	sessionService := usecase.NewSessionService(cfg, newMemSessionRepo(), newMemSessionCache(), users, nopEvents{}, zap.NewNop())
	issuer := usecase.NewCodeIssuerService(cfg, codes, newMemRateLimitStore(), mailer, nopEvents{}, zap.NewNop())
	verifier := usecase.NewCodeVerifierService(cfg, codes, sessionService, zap.NewNop())

	engine := routes.Register(routes.Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
		Services: routes.ServiceSet{
			Issuer:   issuer,
			Verifier: verifier,
			Sessions: sessionService,
		},
	})

	return &authFixture{
		engine:   engine,
		mailer:   mailer,
		codes:    codes,
		users:    users,
		issuer:   issuer,
		verifier: verifier,
		cfg:      cfg,
	}
}

func (f *authFixture) postJSON(t *testing.T, path string, payload any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *authFixture) get(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response", name)
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
}

func TestSendAndVerifyFlow(t *testing.T) {
	f := newAuthFixture(t)
	email := "ana@example.org"

	w := f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	if w.Code != http.StatusOK {
		t.Fatalf("send-code status = %d, body %s", w.Code, w.Body.String())
	}
	code := f.mailer.lastCode()
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code in mail, got %q", code)
	}

	w = f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("verify-code status = %d, body %s", w.Code, w.Body.String())
	}

	var verifyBody struct {
		OK      bool `json:"ok"`
		NewUser bool `json:"new_user"`
		User    *struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	}
	decodeBody(t, w, &verifyBody)
	if !verifyBody.OK || !verifyBody.NewUser {
		t.Fatalf("expected ok new-user response, got %+v", verifyBody)
	}
	if verifyBody.User == nil || verifyBody.User.Email != email || verifyBody.User.Role != "member" {
		t.Fatalf("unexpected user summary: %+v", verifyBody.User)
	}

	cookie := sessionCookie(t, w, "portal_session")
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be http-only")
	}
	if cookie.Value == code {
		t.Fatalf("session token must not be the verification code")
	}

	w = f.get(t, "/api/v1/auth/session", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("session status = %d, body %s", w.Code, w.Body.String())
	}
	var sessionBody struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	decodeBody(t, w, &sessionBody)
	if sessionBody.User.Email != email {
		t.Fatalf("session user = %q, want %q", sessionBody.User.Email, email)
	}
}

func TestVerifyCodeReplayRejected(t *testing.T) {
	f := newAuthFixture(t)
	email := "replay@example.org"

	f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	code := f.mailer.lastCode()

	w := f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("first verify status = %d", w.Code)
	}

	w = f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": code})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", w.Code)
	}
	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &errBody)
	if errBody.Error != "invalid or expired code" {
		t.Fatalf("replay message = %q", errBody.Error)
	}
}

func TestVerifyCodeWrongThenCorrect(t *testing.T) {
	f := newAuthFixture(t)
	email := "retry@example.org"

	f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	code := f.mailer.lastCode()

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	w := f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": wrong})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code status = %d, want 401", w.Code)
	}

	w = f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("correct code after one miss status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	f := newAuthFixture(t)
	email := "late@example.org"

	issuedAt := time.Now().UTC().Add(-11 * time.Minute)
	f.issuer.WithClock(func() time.Time { return issuedAt })

	f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	code := f.mailer.lastCode()

	w := f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": code})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired code status = %d, want 401", w.Code)
	}
}

func TestSendCodeRateLimitIsSilent(t *testing.T) {
	f := newAuthFixture(t)
	email := "eager@example.org"

	for i := 0; i < 3; i++ {
		w := f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
		if w.Code != http.StatusOK {
			t.Fatalf("send %d status = %d", i+1, w.Code)
		}
	}
	if f.mailer.count() != 3 {
		t.Fatalf("expected 3 mails, got %d", f.mailer.count())
	}

	w := f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	if w.Code != http.StatusOK {
		t.Fatalf("rate-limited send status = %d, want 200", w.Code)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	decodeBody(t, w, &body)
	if !body.OK {
		t.Fatalf("rate-limited send must still report ok")
	}
	if f.mailer.count() != 3 {
		t.Fatalf("rate-limited send must not deliver mail, got %d mails", f.mailer.count())
	}
}

func TestSendCodeRejectsInvalidEmail(t *testing.T) {
	f := newAuthFixture(t)

	w := f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": "not-an-address"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid email status = %d, want 400", w.Code)
	}
	if f.mailer.count() != 0 {
		t.Fatalf("no mail expected for invalid address")
	}
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	f := newAuthFixture(t)
	email := "fresh@example.org"

	f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	first := f.mailer.lastCode()

	f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	second := f.mailer.lastCode()
	if first == second {
		t.Skip("generated codes collided")
	}

	w := f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": first})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("superseded code status = %d, want 401", w.Code)
	}

	w = f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": second})
	if w.Code != http.StatusOK {
		t.Fatalf("latest code status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestLogoutClearsSession(t *testing.T) {
	f := newAuthFixture(t)
	email := "leaver@example.org"

	f.postJSON(t, "/api/v1/auth/send-code", gin.H{"email": email})
	w := f.postJSON(t, "/api/v1/auth/verify-code", gin.H{"email": email, "code": f.mailer.lastCode()})
	cookie := sessionCookie(t, w, "portal_session")

	w = f.postJSON(t, "/api/v1/auth/logout", gin.H{}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	cleared := sessionCookie(t, w, "portal_session")
	if cleared.MaxAge >= 0 && cleared.Value != "" {
		t.Fatalf("logout must clear the cookie, got %+v", cleared)
	}

	w = f.get(t, "/api/v1/auth/session", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("session after logout status = %d, want 401", w.Code)
	}
}

func TestSessionRequiresCookie(t *testing.T) {
	f := newAuthFixture(t)

	w := f.get(t, "/api/v1/auth/session")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie status = %d, want 401", w.Code)
	}

	w = f.get(t, "/api/v1/auth/session", &http.Cookie{Name: "portal_session", Value: "bogus"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus cookie status = %d, want 401", w.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	f := newAuthFixture(t)

	hash, err := security.HashCredential("sturdy passphrase")
	if err != nil {
		t.Fatalf("hash credential: %v", err)
	}
	f.users.add(domain.User{
		ID:             uuid.NewString(),
		Email:          "ops@harborlight.org",
		DisplayName:    "Operations",
		Role:           domain.RoleAdmin,
		CredentialHash: &hash,
		CreatedAt:      time.Now().UTC(),
	})

	w := f.postJSON(t, "/api/v1/auth/admin-login", gin.H{"email": "ops@harborlight.org", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", w.Code)
	}

	w = f.postJSON(t, "/api/v1/auth/admin-login", gin.H{"email": "ops@harborlight.org", "password": "sturdy passphrase"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin login status = %d, body %s", w.Code, w.Body.String())
	}
	cookie := sessionCookie(t, w, "portal_session")

	w = f.get(t, "/api/v1/auth/session", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("admin session status = %d", w.Code)
	}
	var body struct {
		User struct {
			Role string `json:"role"`
		} `json:"user"`
	}
	decodeBody(t, w, &body)
	if body.User.Role != "admin" {
		t.Fatalf("admin session role = %q", body.User.Role)
	}
}
