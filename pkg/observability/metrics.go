package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the auth counters
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeInactive     = "inactive"
	OutcomeError        = "error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeBadRequest   = "bad_request"
)

// Metrics holds all Prometheus metrics. Recording methods are safe on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics
	LoginsTotal                 *prometheus.CounterVec
	AuthorizationDecisionsTotal *prometheus.CounterVec
	IdentityCacheLookupsTotal   *prometheus.CounterVec
	IdentitiesInvalidatedTotal  prometheus.Counter
	OTPIssuedTotal              *prometheus.CounterVec

	// Business metrics
	AnswersSubmittedTotal prometheus.Counter
	UploadsTotal          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "examcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "examcore_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examcore_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AuthorizationDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examcore_authorization_decisions_total",
				Help: "Authorization gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		IdentityCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examcore_identity_cache_lookups_total",
				Help: "Cached identity lookups by result",
			},
			[]string{"result"},
		),
		IdentitiesInvalidatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "examcore_identities_invalidated_total",
				Help: "Cached identities dropped after role or permission changes",
			},
		),
		OTPIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examcore_otp_issued_total",
				Help: "One-time codes issued by backend",
			},
			[]string{"backend"},
		),
		AnswersSubmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "examcore_answers_submitted_total",
				Help: "Test answer submissions recorded",
			},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examcore_uploads_total",
				Help: "File uploads by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LoginsTotal,
		m.AuthorizationDecisionsTotal,
		m.IdentityCacheLookupsTotal,
		m.IdentitiesInvalidatedTotal,
		m.OTPIssuedTotal,
		m.AnswersSubmittedTotal,
		m.UploadsTotal,
	)

	return m
}

// RegisterDBStats exports connection pool statistics for db
func RegisterDBStats(registry *prometheus.Registry, db *sql.DB) {
	registry.MustRegister(collectors.NewDBStatsCollector(db, "examcore"))
}

// RecordLogin counts a login attempt
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuthorization counts a gate decision
func (m *Metrics) RecordAuthorization(outcome string) {
	if m == nil {
		return
	}
	m.AuthorizationDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordIdentityLookup counts a cached identity hit or miss
func (m *Metrics) RecordIdentityLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.IdentityCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordIdentitiesInvalidated counts dropped identities
func (m *Metrics) RecordIdentitiesInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IdentitiesInvalidatedTotal.Add(float64(n))
}

// RecordOTPIssued counts an issued one-time code
func (m *Metrics) RecordOTPIssued(backend string) {
	if m == nil {
		return
	}
	m.OTPIssuedTotal.WithLabelValues(backend).Inc()
}

// RecordAnswerSubmitted counts a recorded answer set
func (m *Metrics) RecordAnswerSubmitted() {
	if m == nil {
		return
	}
	m.AnswersSubmittedTotal.Inc()
}

// RecordUpload counts an upload attempt
func (m *Metrics) RecordUpload(err error) {
	if m == nil {
		return
	}
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeError
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the matched route template so ids stay out of labels.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
