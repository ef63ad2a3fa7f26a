package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	SMTP      SMTPSettings      `mapstructure:"smtp"`
	Auth      AuthSettings      `mapstructure:"auth"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	CORS      CORSSettings      `mapstructure:"cors"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection and key namespaces.
type RedisSettings struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	DB                 int           `mapstructure:"db"`
	Password           string        `mapstructure:"password"`
	TLSEnabled         bool          `mapstructure:"tls_enabled"`
	SessionCachePrefix string        `mapstructure:"session_cache_prefix"`
	SessionCacheTTL    time.Duration `mapstructure:"session_cache_ttl"`
	RateLimitPrefix    string        `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the audit event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// SMTPSettings configures the outbound mail collaborator.
type SMTPSettings struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// AuthSettings holds the verification-code and session parameters. The
// defaults are deliberately configuration, not constants.
type AuthSettings struct {
	CodeLength       int           `mapstructure:"code_length"`
	CodeTTL          time.Duration `mapstructure:"code_ttl"`
	MaxCodeAttempts  int           `mapstructure:"max_code_attempts"`
	IssueMaxPerEmail int           `mapstructure:"issue_max_per_email"`
	IssueWindow      time.Duration `mapstructure:"issue_window"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	CookieName       string        `mapstructure:"cookie_name"`
	CookieDomain     string        `mapstructure:"cookie_domain"`
}

// RateLimitSettings configures the per-IP HTTP middleware ceilings.
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	SendCodeMaxPerIP   int           `mapstructure:"send_code_max_per_ip"`
	VerifyMaxPerIP     int           `mapstructure:"verify_max_per_ip"`
	AdminLoginMaxPerIP int           `mapstructure:"admin_login_max_per_ip"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Enabled      bool    `mapstructure:"enabled"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PORTAL")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_cache_prefix",
		"redis.session_cache_ttl",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"smtp.host",
		"smtp.port",
		"smtp.username",
		"smtp.password",
		"smtp.from",
		"smtp.send_timeout",
		"auth.code_length",
		"auth.code_ttl",
		"auth.max_code_attempts",
		"auth.issue_max_per_email",
		"auth.issue_window",
		"auth.session_ttl",
		"auth.cookie_name",
		"auth.cookie_domain",
		"rate_limit.window_duration",
		"rate_limit.send_code_max_per_ip",
		"rate_limit.verify_max_per_ip",
		"rate_limit.admin_login_max_per_ip",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"telemetry.enabled",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "portal-auth-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "portal")
	v.SetDefault("postgres.password", "portal_password")
	v.SetDefault("postgres.database", "portal")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_cache_prefix", "portal:session")
	v.SetDefault("redis.session_cache_ttl", "10m")
	v.SetDefault("redis.rate_limit_prefix", "portal:rate-limit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "portal")
	v.SetDefault("kafka.async", true)

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@harborlight.org")
	v.SetDefault("smtp.send_timeout", "10s")

	v.SetDefault("auth.code_length", 6)
	v.SetDefault("auth.code_ttl", "10m")
	v.SetDefault("auth.max_code_attempts", 5)
	v.SetDefault("auth.issue_max_per_email", 3)
	v.SetDefault("auth.issue_window", "15m")
	v.SetDefault("auth.session_ttl", "720h")
	v.SetDefault("auth.cookie_name", "portal_session")
	v.SetDefault("auth.cookie_domain", "")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.send_code_max_per_ip", 10)
	v.SetDefault("rate_limit.verify_max_per_ip", 20)
	v.SetDefault("rate_limit.admin_login_max_per_ip", 5)

	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "portal-auth-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PORTAL_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
