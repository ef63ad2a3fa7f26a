package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
)

func injectSession(session *domain.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(sessionContextKey, session)
		c.Next()
	}
}

func testSession(role domain.Role) *domain.Session {
	return &domain.Session{
		ID:        "session-1",
		UserID:    "user-1",
		TokenHash: "hash",
		Role:      role,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/admin", injectSession(testSession(domain.RoleAdmin)), RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireRole_RejectsOtherRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/admin", injectSession(testSession(domain.RoleMember)), RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRequireRole_RejectsMissingSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/admin", RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGetSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := GetSession(c); ok {
		t.Fatalf("expected no session on empty context")
	}

	session := testSession(domain.RoleMember)
	c.Set(sessionContextKey, session)

	got, ok := GetSession(c)
	if !ok || got.ID != session.ID {
		t.Fatalf("expected stored session, got %+v ok=%v", got, ok)
	}
}
