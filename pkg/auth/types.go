package auth

import (
	"time"

	"github.com/platinummonkey/examcore/pkg/rbac"
)

// PermissionRef is a permission as carried in a cached identity
type PermissionRef struct {
	Name string `json:"name"`
}

// RoleSnapshot is the role and permission set captured at login
type RoleSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        rbac.RoleKind   `json:"kind"`
	Permissions []PermissionRef `json:"permissions"`
}

// CachedIdentity is the authenticated user snapshot stored in the session cache
type CachedIdentity struct {
	ID                 string        `json:"id"`
	Email              string        `json:"email"`
	Fullname           string        `json:"fullname"`
	Avatar             *string       `json:"avatar"`
	PhoneNumber        *string       `json:"phone_number"`
	IsProfileCompleted bool          `json:"is_profile_completed"`
	Role               *RoleSnapshot `json:"role"`
}

// PermissionNames returns the names granted by the identity's role
func (c *CachedIdentity) PermissionNames() []string {
	if c == nil || c.Role == nil {
		return nil
	}
	names := make([]string, 0, len(c.Role.Permissions))
	for _, p := range c.Role.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// RoleKind returns the identity's role kind, RoleKindOther when it has no role
func (c *CachedIdentity) RoleKind() rbac.RoleKind {
	if c == nil || c.Role == nil {
		return rbac.RoleKindOther
	}
	return c.Role.Kind
}

// HasRole reports whether a role is attached
func (c *CachedIdentity) HasRole() bool {
	return c != nil && c.Role != nil
}

// UserRecord is a user row with its role name joined
type UserRecord struct {
	ID                 string
	RoleID             *string
	RoleName           *string
	Fullname           string
	Email              string
	PasswordHash       string
	PhoneNumber        *string
	Avatar             *string
	StudentType        *string
	EmailVerified      bool
	IsActive           bool
	IsProfileCompleted bool
	CreatedAt          time.Time
}

// NewUser is the data required to insert a self-registered account
type NewUser struct {
	Fullname     string
	Email        string
	PasswordHash string
	PhoneNumber  *string
	StudentType  *string
	ReferralCode *string
	RoleID       *string
}

// TokenPair holds an access and refresh token
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResponse is returned by login
type LoginResponse struct {
	Token TokenPair       `json:"token"`
	User  *CachedIdentity `json:"user"`
}

// RegisteredUser is returned by registration
type RegisteredUser struct {
	ID       string `json:"id"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// LoginRequest is the login payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the self registration payload
type RegisterRequest struct {
	Fullname     string  `json:"fullname" validate:"required,max=255"`
	Email        string  `json:"email" validate:"required,email,max=255"`
	Password     string  `json:"password" validate:"required,min=8,max=72"`
	PhoneNumber  *string `json:"phone_number" validate:"omitempty,max=32"`
	StudentType  *string `json:"student_type" validate:"omitempty,max=64"`
	ReferralCode *string `json:"referral_code" validate:"omitempty,max=32"`
}

// VerifyEmailRequest confirms an account with a one-time code
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

// EmailRequest carries just an email (resend code, forgot password)
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest sets a new password using a mailed reset token
type ResetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// RefreshRequest exchanges a refresh token for a new access token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}
