package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.RecordLogin(OutcomeSuccess)
	m.RecordAnswerSubmitted()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["examcore_logins_total"])
	assert.True(t, names["examcore_answers_submitted_total"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogin(OutcomeSuccess)
	m.RecordLogin(OutcomeInvalid)
	m.RecordLogin(OutcomeInvalid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeInvalid)))

	m.RecordAuthorization(OutcomeForbidden)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthorizationDecisionsTotal.WithLabelValues(OutcomeForbidden)))

	m.RecordIdentityLookup(true)
	m.RecordIdentityLookup(false)
	m.RecordIdentityLookup(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentityCacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IdentityCacheLookupsTotal.WithLabelValues("miss")))

	m.RecordIdentitiesInvalidated(3)
	m.RecordIdentitiesInvalidated(0)
	m.RecordIdentitiesInvalidated(-1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IdentitiesInvalidatedTotal))

	m.RecordOTPIssued("memory")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OTPIssuedTotal.WithLabelValues("memory")))

	m.RecordAnswerSubmitted()
	m.RecordAnswerSubmitted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnswersSubmittedTotal))

	m.RecordUpload(nil)
	m.RecordUpload(errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(OutcomeError)))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLogin(OutcomeSuccess)
		m.RecordAuthorization(OutcomeSuccess)
		m.RecordIdentityLookup(true)
		m.RecordIdentitiesInvalidated(1)
		m.RecordOTPIssued("redis")
		m.RecordAnswerSubmitted()
		m.RecordUpload(nil)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/v1/tests/detail/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Test not found"}`))
	}).Methods(http.MethodGet)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tests/detail/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/tests/detail/{id}", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestsTotal))
}

func TestHTTPMetricsMiddleware_DefaultStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "200")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLogin(OutcomeInactive)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `examcore_logins_total{outcome="inactive"} 1`))
}
