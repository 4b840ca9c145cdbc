package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func setRequired(t *testing.T) {
	t.Helper()
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_test")
}

func TestLoad_WithValidConfig(t *testing.T) {
	setRequired(t)
	setEnv(t, "PORT", "9090")
	setEnv(t, "STRIPE_TIMEOUT", "3s")
	setEnv(t, "CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.StripeTimeout)
	assert.Equal(t, DefaultStripeCurrency, cfg.StripeCurrency)
	assert.Equal(t, DefaultSessionCleanupInterval, cfg.SessionCleanupInterval)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestLoad_MissingStripeSecretKey(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_test")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY is required")
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET is required")
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setRequired(t)
	setEnv(t, "STRIPE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultStripeTimeout, cfg.StripeTimeout)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		StripeSecretKey:        "sk_test_123",
		StripeWebhookSecret:    "whsec_test",
		StripeTimeout:          time.Second,
		SessionCleanupInterval: time.Minute,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "publishable key rejected", mutate: func(c *Config) { c.StripeSecretKey = "pk_test_123" }, wantErr: "secret or restricted key"},
		{name: "restricted key accepted", mutate: func(c *Config) { c.StripeSecretKey = "rk_live_1" }},
		{name: "zero timeout", mutate: func(c *Config) { c.StripeTimeout = 0 }, wantErr: "STRIPE_TIMEOUT"},
		{name: "zero cleanup interval", mutate: func(c *Config) { c.SessionCleanupInterval = 0 }, wantErr: "SESSION_CLEANUP_INTERVAL"},
		{name: "production needs admin secret", mutate: func(c *Config) { c.Env = "production" }, wantErr: "ADMIN_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}
