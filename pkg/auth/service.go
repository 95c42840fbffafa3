package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/async"
	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/mail"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/otp"
	"github.com/platinummonkey/examcore/pkg/rbac"
)

// Caller-facing messages
const (
	MsgInvalidCredentials = "Email or password invalid"
	MsgAccountInactive    = "Account not active, please verify your email"
	MsgInvalidToken       = "Invalid or expired token"
	MsgInvalidOTP         = "Invalid or expired OTP"
	MsgAlreadyVerified    = "Account already verified"
	MsgInvalidResetToken  = "Invalid or expired reset token"
)

const mailTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/platinummonkey/examcore/pkg/auth")

// UserRepository is the account storage used by the service
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	Create(ctx context.Context, user NewUser) (*UserRecord, error)
	Activate(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleLookup resolves a role by name
type RoleLookup interface {
	GetByName(ctx context.Context, name string) (*rbac.Role, error)
}

// Dependencies are the collaborators of Service
type Dependencies struct {
	Users       UserRepository
	Roles       RoleLookup
	Permissions rbac.PermissionSource
	Tokens      *TokenCodec
	Hasher      PasswordHasher
	Sessions    *SessionCache
	Resets      *ResetTokens
	OTP         otp.Store
	Mailer      mail.Sender
	Metrics     *observability.Metrics
	Logger      *observability.Logger
}

// Config holds service settings
type Config struct {
	FrontendURL string
	DefaultRole string
	OTPTTL      time.Duration
}

// Service implements login, registration, verification and password recovery
type Service struct {
	Dependencies
	cfg Config

	// dispatch runs mail delivery; replaced in tests to run inline
	dispatch func(ctx context.Context, name string, fn func(context.Context) error)
}

// NewService creates the auth service
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = rbac.RoleStudent
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = otp.DefaultTTL
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Service{Dependencies: deps, cfg: cfg}
	s.dispatch = func(ctx context.Context, name string, fn func(context.Context) error) {
		async.SafeGo(ctx, s.Logger, mailTimeout, name, fn)
	}
	return s
}

// Login verifies credentials, caches the identity snapshot and issues tokens.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	resp, outcome, err := s.login(ctx, req)
	s.Metrics.RecordLogin(outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		_ = audit.LogFailure(ctx, audit.EventTypeAuthLoginFailed, "login failed for "+normalizeEmail(req.Email), err)
		return nil, err
	}

	span.SetAttributes(attribute.String("user.id", resp.User.ID))
	_ = audit.LogSuccess(ctx, audit.EventTypeAuthLogin, "login succeeded", map[string]interface{}{
		"user_id": resp.User.ID,
		"email":   resp.User.Email,
	})
	return resp, nil
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*LoginResponse, string, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, observability.OutcomeBadRequest, err
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, observability.OutcomeInvalid, apperr.Unauthorized(MsgInvalidCredentials)
	}
	if err != nil {
		return nil, observability.OutcomeError, internal(err)
	}

	ok, err := s.Hasher.Compare(user.PasswordHash, req.Password)
	if err != nil {
		return nil, observability.OutcomeError, internal(err)
	}
	if !ok {
		return nil, observability.OutcomeInvalid, apperr.Unauthorized(MsgInvalidCredentials)
	}

	if !user.IsActive {
		return nil, observability.OutcomeInactive, apperr.Forbidden(MsgAccountInactive)
	}

	identity, err := s.buildIdentity(ctx, user)
	if err != nil {
		return nil, observability.OutcomeError, internal(err)
	}

	tokens, err := s.Tokens.IssuePair(user.Email)
	if err != nil {
		return nil, observability.OutcomeError, internal(err)
	}

	// The snapshot must be readable before the caller can present the token
	if err := s.Sessions.Put(ctx, identity); err != nil {
		return nil, observability.OutcomeError, internal(err)
	}

	return &LoginResponse{Token: tokens, User: identity}, observability.OutcomeSuccess, nil
}

// Refresh exchanges a refresh token for a new access token and re-caches the identity
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	claims, err := s.Tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		return nil, apperr.Unauthorized(MsgInvalidToken)
	}

	user, err := s.Users.FindByEmail(ctx, claims.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Unauthorized(MsgInvalidToken)
	}
	if err != nil {
		return nil, internal(err)
	}
	if !user.IsActive {
		return nil, apperr.Forbidden(MsgAccountInactive)
	}

	identity, err := s.buildIdentity(ctx, user)
	if err != nil {
		return nil, internal(err)
	}
	access, err := s.Tokens.IssueAccess(user.Email)
	if err != nil {
		return nil, internal(err)
	}
	if err := s.Sessions.Put(ctx, identity); err != nil {
		return nil, internal(err)
	}

	_ = audit.LogSuccess(ctx, audit.EventTypeAuthTokenRefresh, "access token refreshed", map[string]interface{}{
		"user_id": user.ID,
	})
	return &TokenPair{AccessToken: access, RefreshToken: req.RefreshToken}, nil
}

// Logout drops the caller's cached identity; outstanding access tokens stop working
func (s *Service) Logout(ctx context.Context, identity *CachedIdentity) error {
	if identity == nil {
		return apperr.Unauthorized(MsgInvalidToken)
	}
	if err := s.Sessions.Delete(ctx, identity.Email); err != nil {
		return internal(err)
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeAuthLogout, "logged out", nil)
	return nil
}

// Register creates an inactive account with the default role and mails a verification code
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisteredUser, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return nil, internal(err)
	}

	role, err := s.Roles.GetByName(ctx, s.cfg.DefaultRole)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Internal(fmt.Errorf("default role %q is not configured", s.cfg.DefaultRole))
	}
	if err != nil {
		return nil, internal(err)
	}

	user, err := s.Users.Create(ctx, NewUser{
		Fullname:     req.Fullname,
		Email:        req.Email,
		PasswordHash: hash,
		PhoneNumber:  req.PhoneNumber,
		StudentType:  req.StudentType,
		ReferralCode: req.ReferralCode,
		RoleID:       &role.ID,
	})
	if err != nil {
		return nil, internal(err)
	}

	// The account exists either way; a failed code can be re-sent
	if err := s.sendVerificationCode(ctx, user); err != nil {
		s.Logger.WithError(err).WithField("user_id", user.ID).Warn("failed to issue verification code")
	}

	_ = audit.LogSuccess(ctx, audit.EventTypeAuthRegister, "account registered", map[string]interface{}{
		"user_id": user.ID,
	})
	return &RegisteredUser{ID: user.ID, Fullname: user.Fullname, Email: user.Email, IsActive: false}, nil
}

// VerifyEmail activates the account when code matches the issued one-time code
func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) error {
	if err := httputil.Validate(req); err != nil {
		return err
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.BadRequest(MsgInvalidOTP)
	}
	if err != nil {
		return internal(err)
	}
	if user.IsActive {
		return apperr.BadRequest(MsgAlreadyVerified)
	}

	ok, err := s.OTP.Verify(ctx, user.Email, req.OTP)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return apperr.BadRequest(MsgInvalidOTP)
	}

	if err := s.Users.Activate(ctx, user.ID); err != nil {
		return internal(err)
	}

	_ = audit.LogSuccess(ctx, audit.EventTypeAuthVerifyEmail, "email verified", map[string]interface{}{
		"user_id": user.ID,
	})
	return nil
}

// ResendOTP issues a fresh verification code. Unknown emails succeed silently.
func (s *Service) ResendOTP(ctx context.Context, req EmailRequest) error {
	if err := httputil.Validate(req); err != nil {
		return err
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return internal(err)
	}
	if user.IsActive {
		return apperr.BadRequest(MsgAlreadyVerified)
	}

	if err := s.sendVerificationCode(ctx, user); err != nil {
		return internal(err)
	}
	return nil
}

// ForgotPassword stores a reset token under reset_password:{email} and mails the link.
// Unknown emails succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, req EmailRequest) error {
	if err := httputil.Validate(req); err != nil {
		return err
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return internal(err)
	}

	token, tokenHash, err := GenerateResetToken()
	if err != nil {
		return internal(err)
	}
	if err := s.Resets.Save(ctx, user.Email, tokenHash); err != nil {
		return internal(err)
	}

	msg := mail.ResetPassword(user.Email, user.Fullname, s.cfg.FrontendURL, token)
	s.dispatch(ctx, "reset password mail", func(ctx context.Context) error {
		return s.Mailer.Send(ctx, msg)
	})
	return nil
}

// ResetPassword sets a new password when token matches the stored reset token,
// then consumes the token and ends the user's cached session.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := httputil.Validate(req); err != nil {
		return err
	}

	ok, err := s.Resets.Matches(ctx, req.Email, req.Token)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return apperr.BadRequest(MsgInvalidResetToken)
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.BadRequest(MsgInvalidResetToken)
	}
	if err != nil {
		return internal(err)
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return internal(err)
	}
	if err := s.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return internal(err)
	}

	if err := s.Resets.Delete(ctx, user.Email); err != nil {
		s.Logger.WithError(err).Warn("failed to delete used reset token")
	}
	if err := s.Sessions.Delete(ctx, user.Email); err != nil {
		s.Logger.WithError(err).Warn("failed to drop cached identity after password reset")
	}

	_ = audit.LogSuccess(ctx, audit.EventTypeAuthPasswordReset, "password reset", map[string]interface{}{
		"user_id": user.ID,
	})
	return nil
}

func (s *Service) sendVerificationCode(ctx context.Context, user *UserRecord) error {
	code, err := s.OTP.Issue(ctx, user.Email)
	if err != nil {
		return err
	}
	s.Metrics.RecordOTPIssued(s.OTP.Backend())

	msg := mail.VerificationCode(user.Email, user.Fullname, code, s.cfg.OTPTTL)
	s.dispatch(ctx, "verification code mail", func(ctx context.Context) error {
		return s.Mailer.Send(ctx, msg)
	})
	return nil
}

func (s *Service) buildIdentity(ctx context.Context, user *UserRecord) (*CachedIdentity, error) {
	identity := &CachedIdentity{
		ID:                 user.ID,
		Email:              user.Email,
		Fullname:           user.Fullname,
		Avatar:             user.Avatar,
		PhoneNumber:        user.PhoneNumber,
		IsProfileCompleted: user.IsProfileCompleted,
	}
	if user.RoleID == nil {
		return identity, nil
	}

	names, err := s.Permissions.NamesForRole(ctx, *user.RoleID)
	if err != nil {
		return nil, err
	}

	roleName := ""
	if user.RoleName != nil {
		roleName = *user.RoleName
	}
	refs := make([]PermissionRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, PermissionRef{Name: name})
	}
	identity.Role = &RoleSnapshot{
		ID:          *user.RoleID,
		Name:        roleName,
		Kind:        rbac.ParseRoleKind(roleName),
		Permissions: refs,
	}
	return identity, nil
}

// internal passes classified errors through and marks everything else Internal
func internal(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(err)
}
