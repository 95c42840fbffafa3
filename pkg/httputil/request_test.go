package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/apperr"
)

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"email":"admin@example.com","password":"password123"}`, ""},
		{"empty body", ``, "request body is required"},
		{"malformed json", `{"email":`, "invalid JSON"},
		{"missing email", `{"password":"password123"}`, "email is required"},
		{"invalid email", `{"email":"nope","password":"password123"}`, "email must be a valid email"},
		{"short password", `{"email":"a@b.co","password":"short"}`, "password must be at least 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var body loginBody
			err := DecodeAndValidate(req, &body)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParsePathUUID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tests/detail/2f1c7d0e-3b1a-4f5e-9a0b-6c7d8e9f0a1b", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "2F1C7D0E-3B1A-4F5E-9A0B-6C7D8E9F0A1B"})

		id, err := ParsePathUUID(req, "id")
		require.NoError(t, err)
		assert.Equal(t, "2f1c7d0e-3b1a-4f5e-9a0b-6c7d8e9f0a1b", id)
	})

	t.Run("invalid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tests/detail/abc", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "abc"})

		_, err := ParsePathUUID(req, "id")
		require.Error(t, err)
		assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
		assert.Equal(t, "invalid id format", apperr.Message(err))
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := ParsePathUUID(req, "id")
		require.Error(t, err)
	})
}

func TestParseQueryUUID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?test_id=not-a-uuid", nil)
	_, err := ParseQueryUUID(req, "test_id")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := ParseQueryUUID(req, "test_id")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "10.0.0.7", ClientIP(req))

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(req))
}

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.5 ", "", "2001:db8::/32"})
	require.NoError(t, err)
	require.Len(t, proxies, 3)
	assert.True(t, proxies.Contains("10.20.30.40"))
	assert.True(t, proxies.Contains("192.168.1.5"))
	assert.False(t, proxies.Contains("192.168.1.6"))
	assert.True(t, proxies.Contains("2001:db8::9"))
	assert.False(t, proxies.Contains("not-an-ip"))

	_, err = ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		remote    string
		forwarded []string
		want      string
	}{
		{"untrusted peer ignores header", "198.51.100.4:1000", []string{"203.0.113.9"}, "198.51.100.4"},
		{"trusted peer without header", "10.0.0.2:1000", nil, "10.0.0.2"},
		{"rightmost untrusted hop", "10.0.0.2:1000", []string{"1.1.1.1, 203.0.113.9, 10.0.0.3"}, "203.0.113.9"},
		{"spoofed leftmost hop is skipped", "10.0.0.2:1000", []string{"6.6.6.6", "203.0.113.9"}, "203.0.113.9"},
		{"all hops trusted", "10.0.0.2:1000", []string{"10.1.1.1, 10.0.0.3"}, "10.1.1.1"},
		{"garbage hop falls back to peer", "10.0.0.2:1000", []string{"203.0.113.9, junk"}, "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, value := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", value)
			}
			assert.Equal(t, tt.want, proxies.ClientIP(req))
		})
	}

	var none TrustedProxies
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "10.0.0.2", none.ClientIP(req))
}
