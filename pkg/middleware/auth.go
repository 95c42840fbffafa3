package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/auth"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/rbac"
)

// Gate messages
const (
	MsgNotAuthorized      = "You are not authorized"
	MsgInvalidTokenFormat = "Invalid token format"
	MsgInvalidToken       = "Invalid or expired token"
	MsgSessionExpired     = "User session expired"
	MsgMissingPermissions = "You don't have the required permissions"
)

var tracer = otel.Tracer("github.com/platinummonkey/examcore/pkg/middleware")

// AccessTokenParser verifies an access token and returns its claims
type AccessTokenParser interface {
	ParseAccess(token string) (*auth.Claims, error)
}

// IdentityLookup reads the identity cached at login
type IdentityLookup interface {
	Get(ctx context.Context, email string) (*auth.CachedIdentity, error)
}

// AuthMiddleware authorizes requests against the identity snapshot cached at login.
// It never reads the relational store; a cache miss forces the caller to log in again.
type AuthMiddleware struct {
	tokens     AccessTokenParser
	identities IdentityLookup
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewAuthMiddleware creates the authorization gate
func NewAuthMiddleware(tokens AccessTokenParser, identities IdentityLookup, metrics *observability.Metrics, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AuthMiddleware{
		tokens:     tokens,
		identities: identities,
		metrics:    metrics,
		logger:     logger,
	}
}

// Authorize checks header and returns the cached identity when it holds every required permission
func (m *AuthMiddleware) Authorize(ctx context.Context, header string, required []string) (*auth.CachedIdentity, error) {
	ctx, span := tracer.Start(ctx, "auth.Authorize")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("auth.required_permissions", required))

	identity, outcome, err := m.authorize(ctx, header, required)
	m.metrics.RecordAuthorization(outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", identity.ID))
	return identity, nil
}

func (m *AuthMiddleware) authorize(ctx context.Context, header string, required []string) (*auth.CachedIdentity, string, error) {
	token, err := bearerToken(header)
	if err != nil {
		return nil, outcomeFor(err), err
	}

	claims, err := m.tokens.ParseAccess(token)
	if err != nil {
		return nil, observability.OutcomeUnauthorized, apperr.Unauthorized(MsgInvalidToken)
	}

	identity, err := m.identities.Get(ctx, claims.Email)
	if err != nil {
		return nil, observability.OutcomeError, apperr.Internal(err)
	}
	if identity == nil {
		return nil, observability.OutcomeUnauthorized, apperr.Unauthorized(MsgSessionExpired)
	}

	if len(required) == 0 {
		return identity, observability.OutcomeSuccess, nil
	}
	if !identity.HasRole() {
		return nil, observability.OutcomeForbidden, apperr.Forbidden(MsgNotAuthorized)
	}
	if !rbac.Covers(identity.PermissionNames(), required) {
		return nil, observability.OutcomeForbidden, apperr.Forbidden(MsgMissingPermissions)
	}
	return identity, observability.OutcomeSuccess, nil
}

// bearerToken extracts the token from an Authorization header value
func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", apperr.Forbidden(MsgNotAuthorized)
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperr.BadRequest(MsgInvalidTokenFormat)
	}
	return parts[1], nil
}

func outcomeFor(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindBadRequest:
		return observability.OutcomeBadRequest
	case apperr.KindForbidden:
		return observability.OutcomeForbidden
	case apperr.KindUnauthorized:
		return observability.OutcomeUnauthorized
	default:
		return observability.OutcomeError
	}
}

// Require returns middleware admitting callers that hold every listed permission.
// With no permissions it only requires a live session. It satisfies httputil.Guard.
func (m *AuthMiddleware) Require(permissions ...string) func(http.Handler) http.Handler {
	required := append([]string(nil), permissions...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, err := m.Authorize(ctx, r.Header.Get("Authorization"), required)
			if err != nil {
				if apperr.Is(err, apperr.KindInternal) {
					m.logger.WithError(err).WithField("path", r.URL.Path).Error("authorization failed")
				} else if apperr.Is(err, apperr.KindForbidden) {
					_ = audit.LogDenied(ctx, audit.ResourceTypeSession, r.URL.Path, apperr.Message(err))
				}
				httputil.WriteAppError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(ctx, identity)))
		})
	}
}

// Guard exposes Require as an httputil.Guard for route registration
func (m *AuthMiddleware) Guard() httputil.Guard {
	return m.Require
}
