package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string

	CurrencyCode      string
	TaxRate           decimal.Decimal
	BuyersPremiumRate decimal.Decimal
	PremiumTiersJSON  string

	ProviderTimeout  time.Duration
	DBTimeout        time.Duration
	IdempotencyTTL   time.Duration
	ReconcileLockTTL time.Duration

	ReconcilePollWindow time.Duration
	ReconcilePollMax    int

	AuditEnabled      bool
	AuditSamplingRate float64

	LogLevel  string
	LogFormat string

	MetricsNamespace  string
	HTTPBucketsCSV    string
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64

	BodyLimitBytes        int64
	SecurityHeadersEnable bool
	WebhookReplayTTL      time.Duration
	ShutdownTimeout       time.Duration

	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	taxRate, err := parseRate(k.String("TAX_RATE"), "0.0")
	if err != nil {
		return nil, fmt.Errorf("TAX_RATE: %w", err)
	}
	premiumRate, err := parseRate(k.String("BUYERS_PREMIUM_RATE"), "0.0")
	if err != nil {
		return nil, fmt.Errorf("BUYERS_PREMIUM_RATE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:       strings.TrimSpace(k.String("STRIPE_BASE_URL")),

		CurrencyCode:      valueOrDefault(k.String("CURRENCY_CODE"), "USD"),
		TaxRate:           taxRate,
		BuyersPremiumRate: premiumRate,
		PremiumTiersJSON:  strings.TrimSpace(k.String("PREMIUM_TIERS")),

		ProviderTimeout:  parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
		DBTimeout:        parseDuration(k.String("DB_TIMEOUT"), "5s"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ReconcileLockTTL: parseDuration(k.String("RECONCILE_LOCK_TTL"), "15s"),

		ReconcilePollWindow: parseDuration(k.String("RECONCILE_POLL_WINDOW"), "1m"),
		ReconcilePollMax:    int(k.Int64("RECONCILE_POLL_MAX")),

		AuditEnabled:      parseBool(valueOrDefault(k.String("AUDIT_ENABLED"), "true")),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),

		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),

		MetricsNamespace:  valueOrDefault(k.String("METRICS_NAMESPACE"), "lotline"),
		HTTPBucketsCSV:    k.String("HTTP_METRICS_BUCKETS_MS"),
		TracingEnabled:    parseBool(k.String("TRACING_ENABLED")),
		TracingEndpoint:   strings.TrimSpace(k.String("TRACING_ENDPOINT")),
		TracingSampleRate: parseFloat(k.String("TRACING_SAMPLE_RATE"), 1.0),

		BodyLimitBytes:        k.Int64("BODY_LIMIT_BYTES"),
		SecurityHeadersEnable: parseBool(valueOrDefault(k.String("SECURITY_HEADERS_ENABLE"), "true")),
		WebhookReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		ShutdownTimeout:       parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		CheckoutSuccessURL: strings.TrimSpace(k.String("CHECKOUT_SUCCESS_URL")),
		CheckoutCancelURL:  strings.TrimSpace(k.String("CHECKOUT_CANCEL_URL")),
	}
	if cfg.BodyLimitBytes <= 0 {
		cfg.BodyLimitBytes = 1 << 20
	}
	if cfg.ReconcilePollMax <= 0 {
		cfg.ReconcilePollMax = 30
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func parseRate(value, fallback string) (decimal.Decimal, error) {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := decimal.NewFromString(base)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("rate %s outside [0,1]", d)
	}
	return d, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseFloat(value string, fallback float64) float64 {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	d, err := decimal.NewFromString(base)
	if err != nil {
		return fallback
	}
	f, _ := d.Float64()
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
