package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadyCheck probes one dependency.
type ReadyCheck func(ctx context.Context) error

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	startedAt time.Time
	checks    map[string]ReadyCheck
}

// NewHealthHandler builds a new health handler instance. Checks are probed
// by the readiness endpoint only; liveness never touches dependencies.
func NewHealthHandler(checks map[string]ReadyCheck) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now().UTC(),
		checks:    checks,
	}
}

// Status reports liveness.
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
	})
}

// Ready probes every registered dependency with a short timeout and reports
// 503 if any fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadyResponse{Status: status, Checks: results})
}
