package auth

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/mail"
	"github.com/platinummonkey/examcore/pkg/otp"
	"github.com/platinummonkey/examcore/pkg/rbac"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

type fakeUsers struct {
	mu        sync.Mutex
	byEmail   map[string]*UserRecord
	activated []string
	passwords map[string]string
	findErr   error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: map[string]*UserRecord{}, passwords: map[string]string{}}
}

func (f *fakeUsers) add(u *UserRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byEmail[u.Email] = u
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUsers) Create(_ context.Context, nu NewUser) (*UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := normalizeEmail(nu.Email)
	if _, exists := f.byEmail[email]; exists {
		return nil, apperr.Conflict("Email already registered")
	}
	u := &UserRecord{ID: "new-" + email, RoleID: nu.RoleID, Fullname: nu.Fullname, Email: email, PasswordHash: nu.PasswordHash}
	f.byEmail[email] = u
	return u, nil
}

func (f *fakeUsers) Activate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			u.IsActive = true
			u.EmailVerified = true
			f.activated = append(f.activated, id)
			return nil
		}
	}
	return apperr.NotFound("User not found")
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			u.PasswordHash = hash
			f.passwords[id] = hash
			return nil
		}
	}
	return apperr.NotFound("User not found")
}

type fakeRoles map[string]*rbac.Role

func (f fakeRoles) GetByName(_ context.Context, name string) (*rbac.Role, error) {
	if r, ok := f[name]; ok {
		return r, nil
	}
	return nil, apperr.NotFound("Role not found")
}

type fakePermissions struct {
	byRole map[string][]string
	calls  int
	err    error
}

func (f *fakePermissions) NamesForRole(_ context.Context, roleID string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byRole[roleID], nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type serviceFixture struct {
	service     *Service
	users       *fakeUsers
	permissions *fakePermissions
	mailer      *recordingMailer
	redis       *miniredis.Miniredis
	hasher      *BcryptHasher
	sessions    *SessionCache
}

const (
	adminRoleID   = "role-admin"
	studentRoleID = "role-student"
)

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc := postgres.NewRedisClientFromClient(client)

	f := &serviceFixture{
		users: newFakeUsers(),
		permissions: &fakePermissions{byRole: map[string][]string{
			adminRoleID:   rbac.AllPermissions(),
			studentRoleID: {rbac.PermReadDetailTests},
		}},
		mailer:   &recordingMailer{},
		redis:    mr,
		hasher:   NewBcryptHasher(4),
		sessions: NewSessionCache(rc, 0, nil),
	}

	f.service = NewService(Dependencies{
		Users: f.users,
		Roles: fakeRoles{
			rbac.RoleStudent: {ID: studentRoleID, Name: rbac.RoleStudent},
		},
		Permissions: f.permissions,
		Tokens:      newTestCodec(),
		Hasher:      f.hasher,
		Sessions:    f.sessions,
		Resets:      NewResetTokens(rc, 0),
		OTP:         otp.NewRedisStore(rc, 0),
		Mailer:      f.mailer,
	}, Config{FrontendURL: "https://exam.example.com"})
	f.service.dispatch = func(ctx context.Context, name string, fn func(context.Context) error) {
		_ = fn(ctx)
	}
	return f
}

func (f *serviceFixture) addUser(t *testing.T, email, password, roleID, roleName string, active bool) *UserRecord {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	u := &UserRecord{
		ID:           "user-" + email,
		Fullname:     "User " + email,
		Email:        email,
		PasswordHash: hash,
		IsActive:     active,
	}
	if roleID != "" {
		u.RoleID = &roleID
		u.RoleName = &roleName
	}
	f.users.add(u)
	return u
}

func TestLogin_AdminSucceeds(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "admin@example.com", "s3cret-pass", adminRoleID, "Admin", true)

	resp, err := f.service.Login(context.Background(), LoginRequest{Email: "admin@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Token.AccessToken)
	assert.NotEmpty(t, resp.Token.RefreshToken)
	require.NotNil(t, resp.User.Role)
	assert.Equal(t, "Admin", resp.User.Role.Name)
	assert.Equal(t, rbac.RoleKindAdmin, resp.User.Role.Kind)
	assert.ElementsMatch(t, rbac.AllPermissions(), resp.User.PermissionNames())

	// identity is cached with the 24h TTL before the response is returned
	key := IdentityKey("admin@example.com")
	assert.True(t, f.redis.Exists(key))
	assert.Equal(t, DefaultIdentityTTL, f.redis.TTL(key))

	cached, err := f.sessions.Get(context.Background(), "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, resp.User, cached)
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "admin@example.com", "s3cret-pass", adminRoleID, "Admin", true)

	_, wrongPassword := f.service.Login(context.Background(), LoginRequest{Email: "admin@example.com", Password: "nope"})
	_, unknownEmail := f.service.Login(context.Background(), LoginRequest{Email: "ghost@example.com", Password: "s3cret-pass"})

	for _, err := range []error{wrongPassword, unknownEmail} {
		require.Error(t, err)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
		assert.Equal(t, MsgInvalidCredentials, apperr.Message(err))
	}
	assert.False(t, f.redis.Exists(IdentityKey("admin@example.com")))
}

func TestLogin_InactiveAccount(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "new@example.com", "s3cret-pass", studentRoleID, "Student", false)

	_, err := f.service.Login(context.Background(), LoginRequest{Email: "new@example.com", Password: "s3cret-pass"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, MsgAccountInactive, apperr.Message(err))

	// a wrong password on an inactive account still reads as bad credentials
	_, err = f.service.Login(context.Background(), LoginRequest{Email: "new@example.com", Password: "wrong"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestLogin_BadRequest(t *testing.T) {
	f := newServiceFixture(t)

	for _, req := range []LoginRequest{
		{Email: "", Password: "x"},
		{Email: "not-an-email", Password: "x"},
		{Email: "a@example.com", Password: ""},
	} {
		_, err := f.service.Login(context.Background(), req)
		assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err), "%+v", req)
	}
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	f := newServiceFixture(t)
	f.users.findErr = errors.New("db down")

	_, err := f.service.Login(context.Background(), LoginRequest{Email: "a@example.com", Password: "x"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestLogin_RolelessUser(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "norole@example.com", "s3cret-pass", "", "", true)

	resp, err := f.service.Login(context.Background(), LoginRequest{Email: "norole@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Nil(t, resp.User.Role)
	assert.Equal(t, rbac.RoleKindOther, resp.User.RoleKind())
	assert.Equal(t, 0, f.permissions.calls)
}

func TestLogin_CacheUnavailable(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "admin@example.com", "s3cret-pass", adminRoleID, "Admin", true)
	f.redis.SetError("connection refused")

	_, err := f.service.Login(context.Background(), LoginRequest{Email: "admin@example.com", Password: "s3cret-pass"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

var codePattern = regexp.MustCompile(`\b[0-9]{6}\b`)

func TestRegisterAndVerify(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, RegisterRequest{
		Fullname: "New Student",
		Email:    "New.Student@Example.com",
		Password: "long-enough",
	})
	require.NoError(t, err)
	assert.Equal(t, "new.student@example.com", user.Email)
	assert.False(t, user.IsActive)

	stored, err := f.users.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.NotNil(t, stored.RoleID)
	assert.Equal(t, studentRoleID, *stored.RoleID)
	assert.True(t, f.redis.Exists(otp.Key(user.Email)))

	msg := f.mailer.last(t)
	assert.Equal(t, user.Email, msg.To)
	code := codePattern.FindString(msg.Body)
	require.NotEmpty(t, code)

	err = f.service.VerifyEmail(ctx, VerifyEmailRequest{Email: user.Email, OTP: "000000x"})
	assert.Equal(t, MsgInvalidOTP, apperr.Message(err))

	require.NoError(t, f.service.VerifyEmail(ctx, VerifyEmailRequest{Email: user.Email, OTP: code}))
	assert.Equal(t, []string{user.ID}, f.users.activated)
	assert.False(t, f.redis.Exists(otp.Key(user.Email)), "code consumed")

	err = f.service.VerifyEmail(ctx, VerifyEmailRequest{Email: user.Email, OTP: code})
	assert.Equal(t, MsgAlreadyVerified, apperr.Message(err))

	_, err = f.service.Login(ctx, LoginRequest{Email: user.Email, Password: "long-enough"})
	assert.NoError(t, err)
}

func TestRegister_Errors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addUser(t, "taken@example.com", "whatever1", studentRoleID, "Student", true)

	_, err := f.service.Register(ctx, RegisterRequest{Fullname: "X", Email: "taken@example.com", Password: "long-enough"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.service.Register(ctx, RegisterRequest{Fullname: "X", Email: "short@example.com", Password: "short"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	f.service.cfg.DefaultRole = "Missing"
	_, err = f.service.Register(ctx, RegisterRequest{Fullname: "X", Email: "norole@example.com", Password: "long-enough"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestVerifyEmail_UnknownEmail(t *testing.T) {
	f := newServiceFixture(t)
	err := f.service.VerifyEmail(context.Background(), VerifyEmailRequest{Email: "ghost@example.com", OTP: "123456"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Equal(t, MsgInvalidOTP, apperr.Message(err))
}

func TestResendOTP(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addUser(t, "pending@example.com", "whatever1", studentRoleID, "Student", false)
	f.addUser(t, "active@example.com", "whatever1", studentRoleID, "Student", true)

	require.NoError(t, f.service.ResendOTP(ctx, EmailRequest{Email: "pending@example.com"}))
	assert.Equal(t, "pending@example.com", f.mailer.last(t).To)
	assert.True(t, f.redis.Exists(otp.Key("pending@example.com")))

	err := f.service.ResendOTP(ctx, EmailRequest{Email: "active@example.com"})
	assert.Equal(t, MsgAlreadyVerified, apperr.Message(err))

	sent := len(f.mailer.sent)
	require.NoError(t, f.service.ResendOTP(ctx, EmailRequest{Email: "ghost@example.com"}))
	assert.Len(t, f.mailer.sent, sent)
}

func resetTokenFromMail(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "https://")
	require.GreaterOrEqual(t, idx, 0)
	link := strings.Fields(body[idx:])[0]
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/auth/reset-password", parsed.Path)
	return parsed.Query().Get("token")
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "student@example.com", "old-password", studentRoleID, "Student", true)

	_, err := f.service.Login(ctx, LoginRequest{Email: user.Email, Password: "old-password"})
	require.NoError(t, err)

	require.NoError(t, f.service.ForgotPassword(ctx, EmailRequest{Email: user.Email}))
	resetKey := ResetKey(user.Email)
	assert.True(t, f.redis.Exists(resetKey))
	assert.Equal(t, DefaultResetTTL, f.redis.TTL(resetKey))

	token := resetTokenFromMail(t, f.mailer.last(t).Body)
	require.NotEmpty(t, token)

	stored, err := f.redis.Get(resetKey)
	require.NoError(t, err)
	assert.NotEqual(t, token, stored, "only the hash is stored")

	err = f.service.ResetPassword(ctx, ResetPasswordRequest{Email: user.Email, Token: "wrong", Password: "new-password"})
	assert.Equal(t, MsgInvalidResetToken, apperr.Message(err))

	require.NoError(t, f.service.ResetPassword(ctx, ResetPasswordRequest{Email: user.Email, Token: token, Password: "new-password"}))
	assert.False(t, f.redis.Exists(resetKey))
	assert.False(t, f.redis.Exists(IdentityKey(user.Email)), "session dropped")

	_, err = f.service.Login(ctx, LoginRequest{Email: user.Email, Password: "old-password"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = f.service.Login(ctx, LoginRequest{Email: user.Email, Password: "new-password"})
	assert.NoError(t, err)

	err = f.service.ResetPassword(ctx, ResetPasswordRequest{Email: user.Email, Token: token, Password: "another-one"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err), "token is single use")
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	f := newServiceFixture(t)

	require.NoError(t, f.service.ForgotPassword(context.Background(), EmailRequest{Email: "ghost@example.com"}))
	assert.Empty(t, f.mailer.sent)
	assert.False(t, f.redis.Exists(ResetKey("ghost@example.com")))
}

func TestRefresh(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addUser(t, "student@example.com", "s3cret-pass", studentRoleID, "Student", true)

	resp, err := f.service.Login(ctx, LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	f.redis.Del(IdentityKey("student@example.com"))

	pair, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: resp.Token.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, resp.Token.RefreshToken, pair.RefreshToken)
	assert.True(t, f.redis.Exists(IdentityKey("student@example.com")), "identity re-cached")

	claims, err := f.service.Tokens.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", claims.Email)

	_, err = f.service.Refresh(ctx, RefreshRequest{RefreshToken: resp.Token.AccessToken})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestRefresh_DeactivatedUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "student@example.com", "s3cret-pass", studentRoleID, "Student", true)

	resp, err := f.service.Login(ctx, LoginRequest{Email: user.Email, Password: "s3cret-pass"})
	require.NoError(t, err)

	f.users.byEmail[user.Email].IsActive = false
	_, err = f.service.Refresh(ctx, RefreshRequest{RefreshToken: resp.Token.RefreshToken})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestLogout(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addUser(t, "student@example.com", "s3cret-pass", studentRoleID, "Student", true)

	resp, err := f.service.Login(ctx, LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, resp.User))
	assert.False(t, f.redis.Exists(IdentityKey("student@example.com")))

	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(f.service.Logout(ctx, nil)))
}

func TestNewService_Defaults(t *testing.T) {
	s := NewService(Dependencies{}, Config{})
	assert.Equal(t, rbac.RoleStudent, s.cfg.DefaultRole)
	assert.Equal(t, otp.DefaultTTL, s.cfg.OTPTTL)
	assert.NotNil(t, s.Logger)
}
