// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends selectable via STORE_BACKEND.
const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the recovery HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN holding profiles, memberships and (optionally) codes and locks.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL (redis://host:6379/0) used when STORE_BACKEND=redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// StoreBackend selects where cleanup locks and verification codes live: redis, postgres or memory.
	StoreBackend string `mapstructure:"STORE_BACKEND"`

	// KratosPublicURL is the Ory Kratos public API base URL (login flows, logout).
	KratosPublicURL string `mapstructure:"KRATOS_PUBLIC_URL"`
	// KratosAdminURL is the Ory Kratos admin API base URL (identity lookup and deletion).
	KratosAdminURL string `mapstructure:"KRATOS_ADMIN_URL"`
	// KratosTimeout bounds every call to Kratos (e.g. "5s").
	KratosTimeout string `mapstructure:"KRATOS_TIMEOUT"`

	// SMTPHost is the SMTP relay host for cleanup-code mail. Empty with CODE_RETURN_TO_CLIENT=false is a startup error.
	SMTPHost string `mapstructure:"SMTP_HOST"`
	// SMTPPort is the SMTP port; 465 uses implicit TLS, anything else STARTTLS when offered.
	SMTPPort int `mapstructure:"SMTP_PORT"`
	// SMTPUser is the SMTP auth user.
	SMTPUser string `mapstructure:"SMTP_USER"`
	// SMTPPass is the SMTP auth password.
	SMTPPass string `mapstructure:"SMTP_PASS"`
	// SMTPFrom is the envelope sender; defaults to SMTPUser.
	SMTPFrom string `mapstructure:"SMTP_FROM"`
	// SMTPFromName is the optional display name in the From header.
	SMTPFromName string `mapstructure:"SMTP_FROM_NAME"`

	// CodeReturnToClient when true enables dev code mode: no mail, plaintext code kept for GET /dev/recovery/code.
	// Must not be true when Env is production.
	CodeReturnToClient bool `mapstructure:"CODE_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// CleanupLockTTL is how long a cleanup lock lives if its holder never releases it (e.g. "30s").
	CleanupLockTTL string `mapstructure:"CLEANUP_LOCK_TTL"`
	// VerificationCodeTTL is the lifetime of an issued cleanup code (e.g. "5m").
	VerificationCodeTTL string `mapstructure:"VERIFICATION_CODE_TTL"`
	// CodeSweepInterval is how often expired code records are swept (e.g. "2m").
	CodeSweepInterval string `mapstructure:"CODE_SWEEP_INTERVAL"`
	// MaxCodeAttempts is how many wrong codes a record tolerates before it is discarded.
	MaxCodeAttempts int `mapstructure:"MAX_CODE_ATTEMPTS"`

	// ClassifierAttemptTimeout bounds one parallel profile+membership lookup (e.g. "500ms").
	ClassifierAttemptTimeout string `mapstructure:"CLASSIFIER_ATTEMPT_TIMEOUT"`
	// ClassifierMaxAttempts is the classifier attempt budget.
	ClassifierMaxAttempts int `mapstructure:"CLASSIFIER_MAX_ATTEMPTS"`

	// RecoveryTicketSecret is the HMAC secret for recovery tickets handed out with recovery redirects.
	RecoveryTicketSecret string `mapstructure:"RECOVERY_TICKET_SECRET"`
	// RecoveryTicketTTL is the recovery ticket lifetime (e.g. "15m").
	RecoveryTicketTTL string `mapstructure:"RECOVERY_TICKET_TTL"`

	// DegradedPolicyFile is an optional Rego file overriding the degraded-classification policy.
	DegradedPolicyFile string `mapstructure:"DEGRADED_POLICY_FILE"`

	// RateLimitPerMinute is the per-IP request budget for each recovery endpoint.
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, recovery events are emitted to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for recovery events (default orphan-recovery-events).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STORE_BACKEND", StoreBackendRedis)
	v.SetDefault("KRATOS_PUBLIC_URL", "http://localhost:4433")
	v.SetDefault("KRATOS_ADMIN_URL", "http://localhost:4434")
	v.SetDefault("KRATOS_TIMEOUT", "5s")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASS", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMTP_FROM_NAME", "")
	v.SetDefault("CODE_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("CLEANUP_LOCK_TTL", "30s")
	v.SetDefault("VERIFICATION_CODE_TTL", "5m")
	v.SetDefault("CODE_SWEEP_INTERVAL", "2m")
	v.SetDefault("MAX_CODE_ATTEMPTS", 5)
	v.SetDefault("CLASSIFIER_ATTEMPT_TIMEOUT", "500ms")
	v.SetDefault("CLASSIFIER_MAX_ATTEMPTS", 3)
	v.SetDefault("RECOVERY_TICKET_SECRET", "")
	v.SetDefault("RECOVERY_TICKET_TTL", "15m")
	v.SetDefault("DEGRADED_POLICY_FILE", "")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "orphan-recovery")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "orphan-recovery-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "orphan-recovery-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	switch cfg.StoreBackend {
	case StoreBackendRedis, StoreBackendPostgres, StoreBackendMemory:
	default:
		return nil, errors.New("config: STORE_BACKEND must be one of redis, postgres, memory")
	}

	if cfg.CodeReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: CODE_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.StoreBackend == StoreBackendMemory && cfg.Env == "production" {
		return nil, errors.New("config: STORE_BACKEND=memory is not a distributed store and must not be used when APP_ENV=production")
	}

	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 5
	}
	if cfg.ClassifierMaxAttempts <= 0 {
		cfg.ClassifierMaxAttempts = 3
	}
	if cfg.ClassifierMaxAttempts > 10 {
		return nil, errors.New("config: CLASSIFIER_MAX_ATTEMPTS must be at most 10")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 10
	}

	return &cfg, nil
}

// LockTTL parses CleanupLockTTL. Returns 30s if unset or invalid.
func (c *Config) LockTTL() time.Duration {
	return parseDuration(c.CleanupLockTTL, 30*time.Second)
}

// CodeTTL parses VerificationCodeTTL. Returns 5m if unset or invalid.
func (c *Config) CodeTTL() time.Duration {
	return parseDuration(c.VerificationCodeTTL, 5*time.Minute)
}

// SweepInterval parses CodeSweepInterval. Returns 2m if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.CodeSweepInterval, 2*time.Minute)
}

// AttemptTimeout parses ClassifierAttemptTimeout. Returns 500ms if unset or invalid.
func (c *Config) AttemptTimeout() time.Duration {
	return parseDuration(c.ClassifierAttemptTimeout, 500*time.Millisecond)
}

// TicketTTL parses RecoveryTicketTTL. Returns 15m if unset or invalid.
func (c *Config) TicketTTL() time.Duration {
	return parseDuration(c.RecoveryTicketTTL, 15*time.Minute)
}

// KratosRequestTimeout parses KratosTimeout. Returns 5s if unset or invalid.
func (c *Config) KratosRequestTimeout() time.Duration {
	return parseDuration(c.KratosTimeout, 5*time.Second)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
