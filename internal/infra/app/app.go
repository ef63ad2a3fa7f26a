package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/database"
	kafkainfra "github.com/harborlight/portal-auth-service/internal/infra/kafka"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
	"github.com/harborlight/portal-auth-service/internal/infra/mail"
	redisinfra "github.com/harborlight/portal-auth-service/internal/infra/redis"
	"github.com/harborlight/portal-auth-service/internal/infra/telemetry"
	postgresrepo "github.com/harborlight/portal-auth-service/internal/repository/postgres"
	redisrepo "github.com/harborlight/portal-auth-service/internal/repository/redis"
	"github.com/harborlight/portal-auth-service/internal/transport/http/middleware"
	"github.com/harborlight/portal-auth-service/internal/transport/http/routes"
	"github.com/harborlight/portal-auth-service/internal/usecase"
)

const sessionPurgeInterval = time.Hour

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	tracer   *telemetry.TracerProvider
	sessions *usecase.SessionService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.Enabled {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	sessionCache := redisrepo.NewSessionCache(redisClient.Client(), cfg.Redis.SessionCachePrefix)

	rateLimitWindow := maxDuration(cfg.RateLimit.WindowDuration, cfg.Auth.IssueWindow)
	if rateLimitWindow <= 0 {
		rateLimitWindow = 15 * time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	var mailer port.Mailer
	if cfg.App.Env == "development" {
		log.Info("development environment, logging verification codes instead of sending mail")
		mailer = mail.NewLoggingMailer(log)
	} else {
		mailer = mail.NewSMTPMailer(cfg.SMTP, log)
	}

	sessionService := usecase.NewSessionService(cfg, repos.Sessions, sessionCache, repos.Users, eventPublisher, log)
	issuerService := usecase.NewCodeIssuerService(cfg, repos.Codes, rateLimitStore, mailer, eventPublisher, log)
	verifierService := usecase.NewCodeVerifierService(cfg, repos.Codes, sessionService, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Issuer:   issuerService,
			Verifier: verifierService,
			Sessions: sessionService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		tracer:   tracer,
		sessions: sessionService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			if err := a.tracer.Shutdown(context.Background()); err != nil {
				a.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting portal auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	go a.runSessionPurge(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) runSessionPurge(ctx context.Context) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.sessions.PurgeExpired(ctx); err != nil {
				a.logger.Warn("session purge failed", zap.Error(err))
			}
		}
	}
}

func maxDuration(values ...time.Duration) time.Duration {
	var max time.Duration
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
