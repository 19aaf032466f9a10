package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	CORSAllowedOrigins []string

	// Simulation controls.
	TestMode            bool
	TestPaymentSuccess  bool
	TestProcessingDelay time.Duration
	ProcessingDelayMin  time.Duration
	ProcessingDelayMax  time.Duration
	RefundDelayMin      time.Duration
	RefundDelayMax      time.Duration
	UPISuccessRate      float64
	CardSuccessRate     float64

	// Webhook delivery.
	WebhookRequestTimeout     time.Duration
	WebhookRetryIntervalsTest bool
	WebhookMaxAttempts        int
	WebhookResponseBodyLimit  int

	// Queue runtime.
	QueueRedisPrefix       string
	QueueVisibilityTimeout time.Duration
	QueueConcurrency       int
	QueueMaxAttempts       int

	// Idempotency cache.
	IdempotencyTTL time.Duration

	// Worker liveness heartbeat.
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration

	// Distributed lock.
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	// API rate limiting.
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Webhook circuit breaker.
	CircuitWebhookMinReq      int
	CircuitWebhookFailureRate float64
	CircuitWebhookOpenFor     time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		TestMode:            parseBool(k.String("TEST_MODE")),
		TestPaymentSuccess:  parseBoolDefault(k.String("TEST_PAYMENT_SUCCESS"), true),
		TestProcessingDelay: parseDuration(k.String("TEST_PROCESSING_DELAY"), "1s"),
		ProcessingDelayMin:  parseDuration(k.String("PROCESSING_DELAY_MIN"), "5s"),
		ProcessingDelayMax:  parseDuration(k.String("PROCESSING_DELAY_MAX"), "10s"),
		RefundDelayMin:      parseDuration(k.String("REFUND_DELAY_MIN"), "3s"),
		RefundDelayMax:      parseDuration(k.String("REFUND_DELAY_MAX"), "5s"),
		UPISuccessRate:      parseFloat(k.String("UPI_SUCCESS_RATE"), 0.90),
		CardSuccessRate:     parseFloat(k.String("CARD_SUCCESS_RATE"), 0.95),

		WebhookRequestTimeout:     parseDuration(k.String("WEBHOOK_REQUEST_TIMEOUT"), "5s"),
		WebhookRetryIntervalsTest: parseBool(k.String("WEBHOOK_RETRY_INTERVALS_TEST")),
		WebhookMaxAttempts:        parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 5),
		WebhookResponseBodyLimit:  parseInt(k.String("WEBHOOK_RESPONSE_BODY_LIMIT"), 1000),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "gw"),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 8),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 5),

		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		HeartbeatInterval: parseDuration(k.String("WORKER_HEARTBEAT_INTERVAL"), "10s"),
		HeartbeatTTL:      parseDuration(k.String("WORKER_HEARTBEAT_TTL"), "30s"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 300),

		CircuitWebhookMinReq:      parseInt(k.String("CIRCUIT_WEBHOOK_MIN_REQUESTS"), 10),
		CircuitWebhookFailureRate: parseFloat(k.String("CIRCUIT_WEBHOOK_FAILURE_RATE"), 0.5),
		CircuitWebhookOpenFor:     parseDuration(k.String("CIRCUIT_WEBHOOK_OPEN_FOR"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ProcessingDelayMax < cfg.ProcessingDelayMin {
		cfg.ProcessingDelayMax = cfg.ProcessingDelayMin
	}
	if cfg.RefundDelayMax < cfg.RefundDelayMin {
		cfg.RefundDelayMax = cfg.RefundDelayMin
	}

	return cfg, nil
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
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
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	// Bare numbers are treated as milliseconds.
	if ms, err := strconv.Atoi(base); err == nil {
		return time.Duration(ms) * time.Millisecond
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

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}
