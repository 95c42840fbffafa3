package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	SMTP          SMTPConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// FrontendURL is used to build links in outbound mail
	FrontendURL    string
	AllowedOrigins []string
	Environment    string

	// TrustedProxies are CIDRs allowed to set X-Forwarded-For
	TrustedProxies []string
}

// AuthConfig holds token, session cache and one-time code settings
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	// IdentityTTL bounds how long a login snapshot stays in the session cache
	IdentityTTL      time.Duration
	ResetPasswordTTL time.Duration
	OTPTTL           time.Duration

	// OTPBackend is "redis" or "memory"
	OTPBackend string

	// DefaultRole is assigned on self registration
	DefaultRole string

	LoginRequestsPerMinute int
	// RateLimitBackend is "redis" (shared across replicas) or "memory"
	RateLimitBackend string
}

// SMTPConfig holds outbound mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Enabled reports whether mail should be delivered over SMTP
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables. A .env file in the working
// directory is read first when present; real environment variables win over it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		SMTP:          loadSMTPConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("EXAMCORE_HOST", "0.0.0.0"),
		Port:            getEnv("EXAMCORE_PORT", "3000"),
		ReadTimeout:     getEnvDuration("EXAMCORE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("EXAMCORE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("EXAMCORE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("EXAMCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("EXAMCORE_HEALTH_PORT", "9090"),
		FrontendURL:     strings.TrimRight(getEnv("EXAMCORE_FE_URL", "http://localhost:5173"), "/"),
		AllowedOrigins:  getEnvList("EXAMCORE_ALLOWED_ORIGINS", []string{"*"}),
		Environment:     getEnv("EXAMCORE_ENV", "development"),
		TrustedProxies:  getEnvList("EXAMCORE_TRUSTED_PROXIES", nil),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("EXAMCORE_DATABASE_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("EXAMCORE_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("EXAMCORE_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("EXAMCORE_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	if idle := getEnvDuration("EXAMCORE_DATABASE_MAX_IDLE_TIME", 0); idle > 0 {
		cfg.PostgresMaxIdleTime = idle
	}

	// S3 config
	cfg.S3Endpoint = getEnv("EXAMCORE_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("EXAMCORE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("EXAMCORE_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("EXAMCORE_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("EXAMCORE_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("EXAMCORE_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.S3PublicURL = getEnv("EXAMCORE_S3_PUBLIC_URL", cfg.S3PublicURL)

	// Redis config
	if redisURL := getEnv("EXAMCORE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("EXAMCORE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("EXAMCORE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisPoolSize := getEnvInt("EXAMCORE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadAuthConfig loads token and cache lifetimes from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:      getEnv("EXAMCORE_ACCESS_TOKEN_SECRET", ""),
		RefreshTokenSecret:     getEnv("EXAMCORE_REFRESH_TOKEN_SECRET", ""),
		AccessTokenTTL:         getEnvDuration("EXAMCORE_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:        getEnvDuration("EXAMCORE_REFRESH_TOKEN_TTL", 24*time.Hour),
		IdentityTTL:            getEnvDuration("EXAMCORE_IDENTITY_TTL", 24*time.Hour),
		ResetPasswordTTL:       getEnvDuration("EXAMCORE_RESET_PASSWORD_TTL", 24*time.Hour),
		OTPTTL:                 getEnvDuration("EXAMCORE_OTP_TTL", 300*time.Second),
		OTPBackend:             strings.ToLower(getEnv("EXAMCORE_OTP_BACKEND", "redis")),
		DefaultRole:            getEnv("EXAMCORE_DEFAULT_ROLE", "Student"),
		LoginRequestsPerMinute: getEnvInt("EXAMCORE_LOGIN_REQUESTS_PER_MINUTE", 20),
		RateLimitBackend:       strings.ToLower(getEnv("EXAMCORE_RATE_LIMIT_BACKEND", "redis")),
	}
}

// loadSMTPConfig loads outbound mail settings from environment
func loadSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:     getEnv("EXAMCORE_SMTP_HOST", ""),
		Port:     getEnvInt("EXAMCORE_SMTP_PORT", 587),
		Username: getEnv("EXAMCORE_SMTP_USERNAME", ""),
		Password: getEnv("EXAMCORE_SMTP_PASSWORD", ""),
		From:     getEnv("EXAMCORE_SMTP_FROM", ""),
		FromName: getEnv("EXAMCORE_SMTP_FROM_NAME", "Examcore"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("EXAMCORE_LOG_LEVEL", "info"))),
		MetricsEnabled:     getEnvBool("EXAMCORE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("EXAMCORE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("EXAMCORE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("EXAMCORE_OTEL_SERVICE_NAME", "examcore"),
		OTelServiceVersion: getEnv("EXAMCORE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("EXAMCORE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("EXAMCORE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Auth.AccessTokenSecret == "" || c.Auth.RefreshTokenSecret == "" {
		return fmt.Errorf("access and refresh token secrets are required")
	}
	if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.IdentityTTL <= 0 {
		return fmt.Errorf("token and identity lifetimes must be positive")
	}
	switch c.Auth.OTPBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid OTP backend: %s (must be redis or memory)", c.Auth.OTPBackend)
	}
	switch c.Auth.RateLimitBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be redis or memory)", c.Auth.RateLimitBackend)
	}
	if c.Auth.LoginRequestsPerMinute <= 0 {
		return fmt.Errorf("login requests per minute must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
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
	return out
}
