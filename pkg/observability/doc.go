// Package observability provides structured logging, Prometheus metrics, health
// probes, OpenTelemetry tracing and graceful shutdown for the examcore server.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("email", email).Info("login succeeded")
//
// Request handlers should use FromContext, which carries the request id and the
// authenticated user id set by the middleware chain.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	metrics.RecordLogin(observability.OutcomeSuccess)
//
// HTTP series are labelled with the gorilla/mux route template, never the raw path.
// All Record* methods tolerate a nil *Metrics so packages can be built without one.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("object_store", false, s3.HealthCheck)
//	observability.RegisterHealthRoutes(healthRouter, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.AddServer(apiServer)
//	sm.RegisterShutdownFunc("postgres", func(context.Context) error { return db.Close() })
//	return sm.WaitForShutdown(ctx)
package observability
