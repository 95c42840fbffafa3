package users

import (
	"time"
)

// BirthDateLayout is the accepted birth date format
const BirthDateLayout = "2006-01-02"

// RoleRef is the role attached to a user
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is an account as shown to administrators
type User struct {
	ID                 string     `json:"id"`
	Fullname           string     `json:"fullname"`
	Email              string     `json:"email"`
	PhoneNumber        *string    `json:"phone_number"`
	Avatar             *string    `json:"avatar"`
	StudentType        *string    `json:"student_type"`
	ReferralCode       *string    `json:"referral_code"`
	ReferredBy         *string    `json:"referred_by"`
	BirthDate          *time.Time `json:"birth_date"`
	Gender             *string    `json:"gender"`
	Religion           *string    `json:"religion"`
	IdentityNumber     *string    `json:"identity_number"`
	EmailVerified      bool       `json:"email_verified"`
	IsActive           bool       `json:"is_active"`
	IsProfileCompleted bool       `json:"is_profile_completed"`
	Role               *RoleRef   `json:"role"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// profileComplete reports whether the fields required of a student profile are set
func (u *User) profileComplete() bool {
	return u.PhoneNumber != nil && *u.PhoneNumber != "" &&
		u.BirthDate != nil &&
		u.Gender != nil && *u.Gender != ""
}

// CreateUserRequest is the body of an administrator creating an account
type CreateUserRequest struct {
	RoleID       string  `json:"role_id" validate:"required,uuid"`
	Fullname     string  `json:"fullname" validate:"required,max=255"`
	Email        string  `json:"email" validate:"required,email,max=255"`
	Password     string  `json:"password" validate:"required,min=8,max=72"`
	PhoneNumber  *string `json:"phone_number" validate:"omitempty,max=32"`
	StudentType  *string `json:"student_type" validate:"omitempty,max=64"`
	ReferralCode *string `json:"referral_code" validate:"omitempty,max=32"`
	ReferredBy   *string `json:"referred_by" validate:"omitempty,uuid"`
	IsActive     *bool   `json:"is_active"`
}

// UpdateUserRequest changes the fields that are present
type UpdateUserRequest struct {
	RoleID         *string `json:"role_id" validate:"omitempty,uuid"`
	Fullname       *string `json:"fullname" validate:"omitempty,min=1,max=255"`
	Email          *string `json:"email" validate:"omitempty,email,max=255"`
	PhoneNumber    *string `json:"phone_number" validate:"omitempty,max=32"`
	Avatar         *string `json:"avatar" validate:"omitempty,max=2048"`
	StudentType    *string `json:"student_type" validate:"omitempty,max=64"`
	BirthDate      *string `json:"birthdate" validate:"omitempty,datetime=2006-01-02"`
	Gender         *string `json:"gender" validate:"omitempty,max=16"`
	Religion       *string `json:"religion" validate:"omitempty,max=32"`
	IdentityNumber *string `json:"identity_number" validate:"omitempty,max=64"`
}

// SetActiveRequest toggles an account's active flag
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// Changes is a validated partial update of a user row
type Changes struct {
	RoleID         *string
	Fullname       *string
	Email          *string
	PhoneNumber    *string
	Avatar         *string
	StudentType    *string
	BirthDate      *time.Time
	Gender         *string
	Religion       *string
	IdentityNumber *string
}

// changes converts the request, parsing the birth date
func (r UpdateUserRequest) changes() (Changes, error) {
	c := Changes{
		RoleID:         r.RoleID,
		Fullname:       r.Fullname,
		Email:          r.Email,
		PhoneNumber:    r.PhoneNumber,
		Avatar:         r.Avatar,
		StudentType:    r.StudentType,
		Gender:         r.Gender,
		Religion:       r.Religion,
		IdentityNumber: r.IdentityNumber,
	}
	if r.BirthDate != nil {
		t, err := time.Parse(BirthDateLayout, *r.BirthDate)
		if err != nil {
			return Changes{}, err
		}
		c.BirthDate = &t
	}
	return c, nil
}
