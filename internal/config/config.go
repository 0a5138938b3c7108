package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the successdesk server.
type Config struct {
	Port        int
	Version     string
	Environment string

	Providers  ProvidersConfig
	Quota      QuotaConfig
	Classifier ClassifierConfig
	Database   DatabaseConfig
	Catalog    CatalogConfig
	Session    SessionConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Retention  RetentionConfig
	Telemetry  TelemetryConfig
	Logging    LoggingConfig
}

// ProvidersConfig carries the shared credentials and call limits for each vendor.
type ProvidersConfig struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	AnthropicKey     string
	AnthropicBaseURL string

	CallTimeout     time.Duration
	ValidateTimeout time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

type QuotaConfig struct {
	FreeMessageLimit int
	// ChatMessageLimit caps messages per chat. Zero disables it.
	ChatMessageLimit int
	CredentialSecret string
}

type ClassifierConfig struct {
	Model           string
	ConfidenceFloor float64
}

type DatabaseConfig struct {
	// Path of the SQLite file. Empty selects the in-memory store.
	Path           string
	MaxConnections int
}

type CatalogConfig struct {
	OverrideFile string
}

type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	CookieName string
}

type AuthConfig struct {
	OperatorAPIKeys []string
}

type RateLimitConfig struct {
	RequestsPerMin int
	Burst          int
}

type RetentionConfig struct {
	Schedule       string
	SessionIdleTTL time.Duration
	TraceRetention time.Duration
	ClientLogSize  int

	// ArchiveDir, when set, receives expired traces as JSONL before purge.
	ArchiveDir      string
	ArchiveCompress bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from a .env file (if present) and environment
// variables, then validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        envInt("SUCCESSDESK_PORT", 8080),
		Version:     envStr("SUCCESSDESK_VERSION", "0.1.0"),
		Environment: envStr("SUCCESSDESK_ENV", "development"),
		Providers: ProvidersConfig{
			OpenAIKey:          envStr("OPENAI_API_KEY", ""),
			OpenAIBaseURL:      envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AnthropicKey:       envStr("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL:   envStr("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			CallTimeout:        envDuration("LLM_TIMEOUT", 60*time.Second),
			ValidateTimeout:    envDuration("VALIDATE_TIMEOUT", 15*time.Second),
			BreakerMaxFailures: uint32(envInt("BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: envDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Quota: QuotaConfig{
			FreeMessageLimit: envInt("FREE_MESSAGE_LIMIT", 10),
			ChatMessageLimit: envInt("CHAT_MESSAGE_LIMIT", 0),
			CredentialSecret: envStr("CREDENTIAL_SECRET", ""),
		},
		Classifier: ClassifierConfig{
			Model:           envStr("CLASSIFIER_MODEL", "gpt-4o-mini"),
			ConfidenceFloor: envFloat("CONFIDENCE_FLOOR", 0.7),
		},
		Database: DatabaseConfig{
			Path:           envStr("DATABASE_PATH", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Catalog: CatalogConfig{
			OverrideFile: envStr("CATALOG_FILE", ""),
		},
		Session: SessionConfig{
			Secret:     envStr("SESSION_SECRET", ""),
			TTL:        envDuration("SESSION_TTL", 720*time.Hour),
			CookieName: envStr("SESSION_COOKIE", "successdesk_session"),
		},
		Auth: AuthConfig{
			OperatorAPIKeys: envList("OPERATOR_API_KEYS"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
			Burst:          envInt("RATE_LIMIT_BURST", 10),
		},
		Retention: RetentionConfig{
			Schedule:       envStr("RETENTION_SCHEDULE", "@every 1h"),
			SessionIdleTTL: envDuration("SESSION_IDLE_TTL", 720*time.Hour),
			TraceRetention: envDuration("TRACE_RETENTION", 168*time.Hour),
			ClientLogSize:  envInt("CLIENT_LOG_BUFFER", 500),

			ArchiveDir:      envStr("RETENTION_ARCHIVE_DIR", ""),
			ArchiveCompress: envBool("RETENTION_ARCHIVE_COMPRESS", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "successdesk"),
		},
		Logging: LoggingConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: envStr("LOG_FORMAT", "console"),
		},
	}

	if cfg.Quota.CredentialSecret == "" {
		cfg.Quota.CredentialSecret = cfg.Session.Secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("SUCCESSDESK_PORT must be in 1..65535, got %d", c.Port))
	}
	if c.Quota.FreeMessageLimit < 0 {
		errs = append(errs, fmt.Errorf("FREE_MESSAGE_LIMIT must not be negative, got %d", c.Quota.FreeMessageLimit))
	}
	if c.Quota.ChatMessageLimit < 0 {
		errs = append(errs, fmt.Errorf("CHAT_MESSAGE_LIMIT must not be negative, got %d", c.Quota.ChatMessageLimit))
	}
	if c.Classifier.ConfidenceFloor < 0 || c.Classifier.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("CONFIDENCE_FLOOR must be in [0,1], got %v", c.Classifier.ConfidenceFloor))
	}
	if c.Classifier.Model == "" {
		errs = append(errs, errors.New("CLASSIFIER_MODEL must not be empty"))
	}
	if c.Providers.CallTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.Providers.ValidateTimeout <= 0 {
		errs = append(errs, errors.New("VALIDATE_TIMEOUT must be positive"))
	}
	if c.RateLimit.RequestsPerMin < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("RETENTION_SCHEDULE %q: %w", c.Retention.Schedule, err))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
