package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/auth"
	"github.com/platinummonkey/examcore/pkg/config"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/mail"
	"github.com/platinummonkey/examcore/pkg/middleware"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/otp"
	"github.com/platinummonkey/examcore/pkg/rbac"
	"github.com/platinummonkey/examcore/pkg/sessions"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
	"github.com/platinummonkey/examcore/pkg/tests"
	"github.com/platinummonkey/examcore/pkg/uploads"
	"github.com/platinummonkey/examcore/pkg/users"
)

var version = "dev"

const (
	permissionCacheSize = 128
	permissionCacheTTL  = 30 * time.Second
	sweepSchedule       = "@every 1m"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Environment:    cfg.Server.Environment,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	db, err := postgres.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := postgres.RunMigrations(ctx, db, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := postgres.NewRedisClient(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	var objects *postgres.S3Client
	if cfg.Storage.S3Bucket != "" {
		objects, err = postgres.NewS3Client(cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
	} else {
		logger.Warn("S3 bucket not configured, file uploads disabled")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	observability.RegisterDBStats(registry, db)

	scheduler := cron.New()

	otpStore, err := newOTPStore(cfg, redisClient, scheduler, logger)
	if err != nil {
		log.Fatalf("Failed to initialize one-time codes: %v", err)
	}
	limiter, err := newLimiter(cfg, redisClient, scheduler, logger)
	if err != nil {
		log.Fatalf("Failed to initialize rate limiter: %v", err)
	}

	var mailer mail.Sender
	if cfg.SMTP.Enabled() {
		mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
	} else {
		logger.Warn("SMTP not configured, outbound mail is only logged")
		mailer = mail.NewLogSender(logger)
	}

	permissions := rbac.NewPermissionStore(db)
	resolver := rbac.NewPermissionResolver(permissions, permissionCacheSize, permissionCacheTTL)
	invalidations := rbac.NewInvalidationBus(redisClient.GetClient())
	resolver.Broadcast(invalidations)
	identities := auth.NewSessionCache(redisClient, cfg.Auth.IdentityTTL, metrics)
	tokens := auth.NewTokenCodec(cfg.Auth.AccessTokenSecret, cfg.Auth.RefreshTokenSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	hasher := auth.NewBcryptHasher(0)

	service := auth.NewService(auth.Dependencies{
		Users:       auth.NewUserStore(db),
		Roles:       rbac.NewRoleStore(db),
		Permissions: resolver,
		Tokens:      tokens,
		Hasher:      hasher,
		Sessions:    identities,
		Resets:      auth.NewResetTokens(redisClient, cfg.Auth.ResetPasswordTTL),
		OTP:         otpStore,
		Mailer:      mailer,
		Metrics:     metrics,
		Logger:      logger,
	}, auth.Config{
		FrontendURL: cfg.Server.FrontendURL,
		DefaultRole: cfg.Auth.DefaultRole,
		OTPTTL:      cfg.Auth.OTPTTL,
	})

	guard := middleware.NewAuthMiddleware(tokens, identities, metrics, logger).Guard()
	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		log.Fatalf("Failed to parse trusted proxies: %v", err)
	}

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(httputil.LoggingMiddleware(logger))
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	router.Use(audit.Middleware(audit.NewLogrusLogger(logger.Logrus())))

	api := router.PathPrefix("/v1").Subrouter()
	auth.NewHandlers(service).RegisterRoutes(api, guard, middleware.RateLimit(limiter, "auth", proxies, logger))
	rbac.NewHandlers(db, resolver, identities).RegisterRoutes(api, guard)
	users.NewHandlers(db, hasher, identities).RegisterRoutes(api, guard)
	sessions.NewHandlers(db).RegisterRoutes(api, guard)
	tests.NewHandlers(db, metrics).RegisterRoutes(api, guard)
	if objects != nil {
		uploads.NewHandlers(objects, metrics).RegisterRoutes(api, guard)
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(httputil.CORSMiddleware(cfg.Server.AllowedOrigins)(router), "examcore"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, db, redisClient, objects, registry)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.AddServer(server)
	shutdown.AddServer(healthServer)
	shutdown.RegisterShutdownFunc("cron", func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
		return redisClient.Close()
	})
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	scheduler.Start()

	go func() {
		defer observability.RecoverPanic(logger, "role invalidation listener")
		if err := invalidations.Listen(ctx, resolver, logger); err != nil {
			logger.WithError(err).Error("role invalidation listener stopped")
		}
	}()
	go serve(server, logger, "api")
	go serve(healthServer, logger, "health")

	logger.WithFields(map[string]interface{}{
		"addr":    server.Addr,
		"version": version,
	}).Info("examcore started")

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

func serve(server *http.Server, logger *observability.Logger, name string) {
	defer observability.RecoverPanic(logger, name+" server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start %s server: %v", name, err)
	}
}

func newOTPStore(cfg *config.Config, client *postgres.RedisClient, scheduler *cron.Cron, logger *observability.Logger) (otp.Store, error) {
	switch cfg.Auth.OTPBackend {
	case "memory":
		store := otp.NewMemoryStore(cfg.Auth.OTPTTL)
		_, err := scheduler.AddFunc(sweepSchedule, func() {
			defer observability.RecoverPanic(logger, "otp sweep")
			if n := store.Sweep(); n > 0 {
				logger.WithField("removed", n).Debug("swept expired one-time codes")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule otp sweep: %w", err)
		}
		return store, nil
	default:
		return otp.NewRedisStore(client, cfg.Auth.OTPTTL), nil
	}
}

func newLimiter(cfg *config.Config, client *postgres.RedisClient, scheduler *cron.Cron, logger *observability.Logger) (middleware.Limiter, error) {
	limits := middleware.CredentialRateLimitConfig(cfg.Auth.LoginRequestsPerMinute)
	if cfg.Auth.RateLimitBackend != "memory" {
		return middleware.NewRedisRateLimiter(client.GetClient(), limits), nil
	}

	limiter := middleware.NewRateLimiter(limits)
	if _, err := scheduler.AddFunc(sweepSchedule, func() {
		defer observability.RecoverPanic(logger, "rate limit cleanup")
		limiter.Cleanup()
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule rate limit cleanup: %w", err)
	}
	return limiter, nil
}

func newHealthServer(cfg *config.Config, db *sql.DB, client *postgres.RedisClient, objects *postgres.S3Client, registry *prometheus.Registry) *http.Server {
	checker := observability.NewHealthChecker(db, client.GetClient(), version)
	if objects != nil {
		checker.AddCheck("s3", false, objects.HealthCheck)
	}

	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry))
	}

	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
