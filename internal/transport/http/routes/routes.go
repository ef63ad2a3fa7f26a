package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/transport/http/handlers"
	"github.com/harborlight/portal-auth-service/internal/transport/http/middleware"
	"github.com/harborlight/portal-auth-service/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Issuer   *usecase.CodeIssuerService
	Verifier *usecase.CodeVerifierService
	Sessions *usecase.SessionService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))

	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	checks := make(map[string]handlers.ReadyCheck, 2)
	if deps.Database != nil {
		checks["database"] = deps.Database.Ping
	}
	if deps.Cache != nil {
		checks["redis"] = deps.Cache.HealthCheck
	}

	healthHandler := handlers.NewHealthHandler(checks)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(
			deps.Services.Issuer,
			deps.Services.Verifier,
			deps.Services.Sessions,
			deps.Config,
			deps.Logger,
		)

		authHandler.RegisterRoutes(authGroup,
			buildIPRateLimit(deps, "auth_send_code_ip", deps.Config.RateLimit.SendCodeMaxPerIP),
			buildIPRateLimit(deps, "auth_verify_ip", deps.Config.RateLimit.VerifyMaxPerIP),
			buildIPRateLimit(deps, "auth_admin_login_ip", deps.Config.RateLimit.AdminLoginMaxPerIP),
		)
	}

	return r
}

func buildIPRateLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
