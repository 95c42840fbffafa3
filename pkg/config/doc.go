// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads an optional .env file (github.com/joho/godotenv) and then the process
// environment, applies defaults and validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	EXAMCORE_HOST="0.0.0.0"
//	EXAMCORE_PORT="3000"
//	EXAMCORE_HEALTH_PORT="9090"
//	EXAMCORE_FE_URL="https://exam.example.com"
//	EXAMCORE_ALLOWED_ORIGINS="https://exam.example.com,https://admin.example.com"
//	EXAMCORE_TRUSTED_PROXIES="10.0.0.0/8"  # peers whose X-Forwarded-For is honoured
//
// Storage settings:
//
//	EXAMCORE_DATABASE_URL="postgres://localhost/examcore?sslmode=disable"
//	EXAMCORE_DATABASE_MAX_CONNS="20"
//	EXAMCORE_REDIS_URL="redis://localhost:6379/0"
//	EXAMCORE_S3_ENDPOINT="http://localhost:9000"
//	EXAMCORE_S3_BUCKET="examcore"
//	EXAMCORE_S3_USE_PATH_STYLE="true"
//
// Auth settings:
//
//	EXAMCORE_ACCESS_TOKEN_SECRET="..."     # required
//	EXAMCORE_REFRESH_TOKEN_SECRET="..."    # required, must differ from the access secret
//	EXAMCORE_ACCESS_TOKEN_TTL="15m"
//	EXAMCORE_REFRESH_TOKEN_TTL="24h"
//	EXAMCORE_IDENTITY_TTL="24h"
//	EXAMCORE_RESET_PASSWORD_TTL="24h"
//	EXAMCORE_OTP_TTL="300s"
//	EXAMCORE_OTP_BACKEND="redis"           # redis or memory
//	EXAMCORE_LOGIN_REQUESTS_PER_MINUTE="20"
//	EXAMCORE_RATE_LIMIT_BACKEND="redis"    # redis or memory
//
// Mail settings:
//
//	EXAMCORE_SMTP_HOST="smtp.example.com"
//	EXAMCORE_SMTP_PORT="587"
//	EXAMCORE_SMTP_FROM="no-reply@example.com"
//
// Observability settings:
//
//	EXAMCORE_LOG_LEVEL="info"
//	EXAMCORE_METRICS_ENABLED="true"
//	EXAMCORE_OTEL_ENABLED="false"
//	EXAMCORE_OTEL_ENDPOINT="localhost:4317"
//	EXAMCORE_OTEL_SAMPLE_RATIO="1.0"
package config
