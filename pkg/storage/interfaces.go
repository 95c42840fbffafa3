package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStore stores uploaded blobs and returns a public URL for them
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config for storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// S3 (or MinIO) config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	// S3PublicURL is the base URL objects are served from; defaults to endpoint/bucket
	S3PublicURL string

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns the defaults used when the environment is silent
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     5 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		S3Region:            "us-east-1",
		RedisURL:            "redis://localhost:6379/0",
		RedisDB:             -1,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
	}
}
