package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/observability"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("EXAMCORE_DATABASE_URL", "postgres://localhost/examcore_test?sslmode=disable")
	t.Setenv("EXAMCORE_ACCESS_TOKEN_SECRET", "access-secret")
	t.Setenv("EXAMCORE_REFRESH_TOKEN_SECRET", "refresh-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.IdentityTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.ResetPasswordTTL)
	assert.Equal(t, 300*time.Second, cfg.Auth.OTPTTL)
	assert.Equal(t, "redis", cfg.Auth.OTPBackend)
	assert.Equal(t, "Student", cfg.Auth.DefaultRole)
	assert.Equal(t, "redis", cfg.Auth.RateLimitBackend)
	assert.Equal(t, 1.0, cfg.Observability.OTelSampleRatio)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EXAMCORE_PORT", "8080")
	t.Setenv("EXAMCORE_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("EXAMCORE_OTP_BACKEND", "MEMORY")
	t.Setenv("EXAMCORE_LOG_LEVEL", "DEBUG")
	t.Setenv("EXAMCORE_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("EXAMCORE_SMTP_HOST", "smtp.example.com")
	t.Setenv("EXAMCORE_SMTP_FROM", "no-reply@example.com")
	t.Setenv("EXAMCORE_FE_URL", "https://exam.example.com/")
	t.Setenv("EXAMCORE_RATE_LIMIT_BACKEND", "Memory")
	t.Setenv("EXAMCORE_OTEL_SAMPLE_RATIO", "0.25")
	t.Setenv("EXAMCORE_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, "memory", cfg.Auth.OTPBackend)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, "https://exam.example.com", cfg.Server.FrontendURL)
	assert.Equal(t, "memory", cfg.Auth.RateLimitBackend)
	assert.Equal(t, 0.25, cfg.Observability.OTelSampleRatio)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.Server.TrustedProxies)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "3000", HealthPort: "9090"},
			Auth: AuthConfig{
				AccessTokenSecret:  "a",
				RefreshTokenSecret: "b",
				AccessTokenTTL:     time.Minute,
				RefreshTokenTTL:    time.Hour,
				IdentityTTL:        time.Hour,
				OTPBackend:         "redis",

				RateLimitBackend:       "redis",
				LoginRequestsPerMinute: 20,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"same ports", func(c *Config) { c.Server.HealthPort = "3000" }, "must be different"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/40"} }, "invalid trusted proxy"},
		{"missing secrets", func(c *Config) { c.Auth.AccessTokenSecret = "" }, "secrets are required"},
		{"equal secrets", func(c *Config) { c.Auth.RefreshTokenSecret = "a" }, "must differ"},
		{"bad otp backend", func(c *Config) { c.Auth.OTPBackend = "file" }, "invalid OTP backend"},
		{"bad rate limit backend", func(c *Config) { c.Auth.RateLimitBackend = "etcd" }, "invalid rate limit backend"},
		{"zero login rate", func(c *Config) { c.Auth.LoginRequestsPerMinute = 0 }, "must be positive"},
		{"otel sample ratio out of range", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = "localhost:4317"
			c.Observability.OTelServiceName = "examcore"
			c.Observability.OTelSampleRatio = 1.5
		}, "sample ratio"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "examcore"
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			cfg.Storage.PostgresURL = "postgres://localhost/examcore"
			cfg.Storage.RedisURL = "redis://localhost:6379"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_INT", "not-a-number")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_FLOAT", "0.5")

	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, 7, getEnvInt("TEST_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, 0.5, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_"+t.Name(), "fallback"))

	os.Unsetenv("TEST_LIST")
	assert.Equal(t, []string{"*"}, getEnvList("TEST_LIST", []string{"*"}))
}
