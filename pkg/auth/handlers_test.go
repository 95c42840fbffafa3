package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/httputil"
)

// sessionGuard admits callers whose X-Test-Email has a cached identity
func sessionGuard(cache *SessionCache) httputil.Guard {
	return func(permissions ...string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, err := cache.Get(r.Context(), r.Header.Get("X-Test-Email"))
				if err != nil || identity == nil {
					httputil.WriteErrorMessage(w, http.StatusUnauthorized, "User session expired")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
			})
		}
	}
}

func newTestRouter(f *serviceFixture, limit func(http.Handler) http.Handler) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(f.service).RegisterRoutes(router.PathPrefix("/v1").Subrouter(), sessionGuard(f.sessions), limit)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlers_Login(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "admin@example.com", "s3cret-pass", adminRoleID, "Admin", true)
	router := newTestRouter(f, nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/login", LoginRequest{Email: "admin@example.com", Password: "s3cret-pass"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data := body["data"].(map[string]interface{})
	token := data["token"].(map[string]interface{})
	assert.NotEmpty(t, token["access_token"])
	assert.NotEmpty(t, token["refresh_token"])
	user := data["user"].(map[string]interface{})
	assert.Equal(t, "admin@example.com", user["email"])
	assert.Equal(t, "Admin", user["role"].(map[string]interface{})["name"])
}

func TestHandlers_LoginFailures(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "admin@example.com", "s3cret-pass", adminRoleID, "Admin", true)
	f.addUser(t, "pending@example.com", "s3cret-pass", studentRoleID, "Student", false)
	router := newTestRouter(f, nil)

	tests := []struct {
		name    string
		body    interface{}
		status  int
		message string
	}{
		{"wrong password", LoginRequest{Email: "admin@example.com", Password: "bad"}, http.StatusUnauthorized, MsgInvalidCredentials},
		{"unknown email", LoginRequest{Email: "ghost@example.com", Password: "bad"}, http.StatusUnauthorized, MsgInvalidCredentials},
		{"inactive", LoginRequest{Email: "pending@example.com", Password: "s3cret-pass"}, http.StatusForbidden, MsgAccountInactive},
		{"invalid email", LoginRequest{Email: "nope", Password: "x"}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/v1/auth/login", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
			}
		})
	}
}

func TestHandlers_MalformedJSON(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_RegisterCreated(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f, nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/register", RegisterRequest{
		Fullname: "New Student", Email: "new@example.com", Password: "long-enough",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, false, data["is_active"])

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/register", RegisterRequest{
		Fullname: "New Student", Email: "new@example.com", Password: "long-enough",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_MeAndLogout(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "student@example.com", "s3cret-pass", studentRoleID, "Student", true)
	router := newTestRouter(f, nil)
	as := map[string]string{"X-Test-Email": "student@example.com"}

	rec := doJSON(t, router, http.MethodGet, "/v1/auth/me", nil, as)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no session before login")

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/login", LoginRequest{Email: "student@example.com", Password: "s3cret-pass"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/auth/me", nil, as)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student@example.com", decodeBody(t, rec)["data"].(map[string]interface{})["email"])

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/logout", nil, as)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/auth/me", nil, as)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_CredentialRoutesAreLimited(t *testing.T) {
	f := newServiceFixture(t)
	limited := 0
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited++
			httputil.WriteTooManyRequests(w, "Too many requests")
		})
	}
	router := newTestRouter(f, limit)

	for _, path := range []string{"/v1/auth/login", "/v1/auth/register", "/v1/auth/verify-email", "/v1/auth/resend-otp", "/v1/auth/forgot-password", "/v1/auth/reset-password"} {
		rec := doJSON(t, router, http.MethodPost, path, map[string]string{}, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, path)
	}
	assert.Equal(t, 6, limited)

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/refresh", RefreshRequest{RefreshToken: "garbage"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_ForgotPasswordAlwaysOK(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f, nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/forgot-password", EmailRequest{Email: "ghost@example.com"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["message"])
}
