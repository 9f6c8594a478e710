package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-engine/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	SecureHeaders      bool
	MigrateOnStart     bool

	CartTTL          time.Duration
	SyncTokenTTL     time.Duration
	SyncReplayWindow time.Duration
	IdempotencyTTL   time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	LockMaxWait      time.Duration

	PricingSettingsURL      string
	PricingSettingsFile     string
	PricingSettingsCacheTTL time.Duration
	// PricingFallback is injected into the settings provider and used whenever the
	// configured source cannot be read.
	PricingFallback pricing.Settings
	CurrencyCode    string

	PromocodeRateLimit string

	Outbound OutboundConfig
	Obs      ObsConfig

	WorkerConcurrency int
	CartPurgeCron     string
	TokenGCCron       string
}

// OutboundConfig tunes the resilient HTTP clients.
type OutboundConfig struct {
	Timeout             time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	RetryJitter         float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration
}

// ObsConfig covers logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsBucketCSV string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files. Required
// keys are checked by RequireAPI / RequireWorker since not every binary needs them.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),
		SecureHeaders:      parseBoolDefault(k.String("SECURE_HEADERS_ENABLE"), true),
		MigrateOnStart:     parseBoolDefault(k.String("DB_MIGRATE_ON_START"), true),

		CartTTL:          parseDuration(k.String("CART_TTL"), "720h"),
		SyncTokenTTL:     parseDuration(k.String("CART_SYNC_TOKEN_TTL"), "720h"),
		SyncReplayWindow: parseDuration(k.String("CART_SYNC_REPLAY_WINDOW"), "2m"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		LockMaxWait:      parseDuration(k.String("LOCK_MAX_WAIT"), "3s"),

		PricingSettingsURL:      strings.TrimSpace(k.String("PRICING_SETTINGS_URL")),
		PricingSettingsFile:     strings.TrimSpace(k.String("PRICING_SETTINGS_FILE")),
		PricingSettingsCacheTTL: parseDuration(k.String("PRICING_SETTINGS_CACHE_TTL"), "5m"),
		CurrencyCode:            valueOrDefault(k.String("CURRENCY_CODE"), "INR"),

		PromocodeRateLimit: valueOrDefault(k.String("PROMOCODE_RATE_LIMIT"), "30-M"),

		Outbound: OutboundConfig{
			Timeout:             parseDuration(k.String("OUTBOUND_TIMEOUT"), "3s"),
			RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
			RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
			RetryJitter:         parseFloat(k.String("RETRY_JITTER"), 0.2),
			CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
			CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsBucketCSV: k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		CartPurgeCron:     valueOrDefault(k.String("CART_PURGE_CRON"), "@hourly"),
		TokenGCCron:       valueOrDefault(k.String("CART_SYNC_TOKEN_GC_CRON"), "@daily"),
	}

	fallback, err := fallbackSettings(k)
	if err != nil {
		return nil, err
	}
	cfg.PricingFallback = fallback

	return cfg, nil
}

// fallbackSettings starts from the canonical defaults and applies any overrides.
func fallbackSettings(k *koanf.Koanf) (pricing.Settings, error) {
	s := pricing.DefaultSettings()
	base, err := pricing.ParseTaxBase(k.String("PRICING_TAX_BASE"))
	if err != nil {
		return pricing.Settings{}, fmt.Errorf("PRICING_TAX_BASE: %w", err)
	}
	s.TaxBase = base

	if v := strings.TrimSpace(k.String("PRICING_FALLBACK_TAX_RATE_PERCENT")); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return pricing.Settings{}, fmt.Errorf("PRICING_FALLBACK_TAX_RATE_PERCENT: %w", err)
		}
		s.TaxRateBps = pricing.PercentToBps(d)
	}
	std := s.ShippingTiers[pricing.StandardMethod]
	for key, dst := range map[string]*pricing.Money{
		"PRICING_FALLBACK_STANDARD_RATE":           &std.Rate,
		"PRICING_FALLBACK_STANDARD_FREE_THRESHOLD": &std.FreeShippingThreshold,
		"PRICING_FALLBACK_COD_SURCHARGE":           &s.CODSurcharge,
	} {
		v := strings.TrimSpace(k.String(key))
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return pricing.Settings{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = pricing.FromMajor(d)
	}
	s.ShippingTiers[pricing.StandardMethod] = std
	if err := s.Validate(); err != nil {
		return pricing.Settings{}, fmt.Errorf("fallback pricing settings: %w", err)
	}
	return s, nil
}

// RequireAPI checks the keys the HTTP API cannot start without.
func (c *Config) RequireAPI() error {
	if err := c.RequireWorker(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// RequireWorker checks the keys the background worker cannot start without.
func (c *Config) RequireWorker() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	return nil
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
		return strings.TrimSpace(value)
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

func parseInt(value string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return n
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return f
	}
	return fallback
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
