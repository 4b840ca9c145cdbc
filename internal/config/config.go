// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Optional, backs the processed webhook event ledger

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeTimeout       time.Duration
	StripeCurrency      string

	// Onboarding
	SessionCleanupInterval time.Duration

	// Security
	AdminSecret  string
	CORSOrigins  []string
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "json"
	DefaultStripeTimeout          = 10 * time.Second
	DefaultStripeCurrency         = "usd"
	DefaultSessionCleanupInterval = time.Hour
	DefaultRateLimitRPM           = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		StripeSecretKey:        os.Getenv("STRIPE_SECRET_KEY"),     // Required, no default
		StripeWebhookSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"), // Required, no default
		StripeTimeout:          getEnvDuration("STRIPE_TIMEOUT", DefaultStripeTimeout),
		StripeCurrency:         strings.ToLower(getEnv("STRIPE_CURRENCY", DefaultStripeCurrency)),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", DefaultSessionCleanupInterval),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
		CORSOrigins:            getEnvList("CORS_ORIGINS", []string{"*"}),
		RateLimitRPM:           int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must be a secret or restricted key (sk_... or rk_...)")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.StripeTimeout <= 0 {
		return fmt.Errorf("STRIPE_TIMEOUT must be positive")
	}
	if c.SessionCleanupInterval <= 0 {
		return fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
