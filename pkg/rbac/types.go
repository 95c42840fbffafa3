package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Permission names. Each resource has the same five capabilities.
const (
	PermReadListUsers   = "read:list:users"
	PermReadDetailUsers = "read:detail:users"
	PermCreateUsers     = "create:users"
	PermUpdateUsers     = "update:users"
	PermDeleteUsers     = "delete:users"

	PermReadListRoles   = "read:list:roles"
	PermReadDetailRoles = "read:detail:roles"
	PermCreateRoles     = "create:roles"
	PermUpdateRoles     = "update:roles"
	PermDeleteRoles     = "delete:roles"

	PermReadListPermissions   = "read:list:permissions"
	PermReadDetailPermissions = "read:detail:permissions"
	PermCreatePermissions     = "create:permissions"
	PermUpdatePermissions     = "update:permissions"
	PermDeletePermissions     = "delete:permissions"

	PermReadListSessions   = "read:list:sessions"
	PermReadDetailSessions = "read:detail:sessions"
	PermCreateSessions     = "create:sessions"
	PermUpdateSessions     = "update:sessions"
	PermDeleteSessions     = "delete:sessions"

	PermReadListTests   = "read:list:tests"
	PermReadDetailTests = "read:detail:tests"
	PermCreateTests     = "create:tests"
	PermUpdateTests     = "update:tests"
	PermDeleteTests     = "delete:tests"
)

// AllPermissions returns every permission name known to the application
func AllPermissions() []string {
	var names []string
	for _, resource := range []string{"users", "roles", "permissions", "sessions", "tests"} {
		names = append(names,
			"read:list:"+resource,
			"read:detail:"+resource,
			"create:"+resource,
			"update:"+resource,
			"delete:"+resource,
		)
	}
	return names
}

// Built-in role names
const (
	RoleAdmin   = "Admin"
	RoleStudent = "Student"
)

// RoleKind classifies a role for behavior that differs by audience.
// The zero value is RoleKindOther, which grants nothing extra.
type RoleKind int

const (
	RoleKindOther RoleKind = iota
	RoleKindAdmin
	RoleKindStudent
)

// ParseRoleKind resolves the kind of a role from its name
func ParseRoleKind(name string) RoleKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return RoleKindAdmin
	case "student":
		return RoleKindStudent
	default:
		return RoleKindOther
	}
}

func (k RoleKind) String() string {
	switch k {
	case RoleKindAdmin:
		return "admin"
	case RoleKindStudent:
		return "student"
	default:
		return "other"
	}
}

// IsElevated reports whether the kind may see answer keys and other callers' data
func (k RoleKind) IsElevated() bool {
	return k == RoleKindAdmin
}

// MarshalText encodes the kind as its name
func (k RoleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name. Unknown names decode to RoleKindOther.
func (k *RoleKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "admin":
		*k = RoleKindAdmin
	case "student":
		*k = RoleKindStudent
	case "other", "":
		*k = RoleKindOther
	default:
		return fmt.Errorf("unknown role kind %q", string(text))
	}
	return nil
}

// Permission is a named capability
type Permission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a named bundle of permissions
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Kind returns the role's kind
func (r *Role) Kind() RoleKind {
	return ParseRoleKind(r.Name)
}

// PermissionNames returns the names of the role's permissions
func (r *Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// CreatePermissionRequest is the body of a permission create
type CreatePermissionRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// UpdatePermissionRequest is the body of a permission update
type UpdatePermissionRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// CreateRoleRequest is the body of a role create
type CreateRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,uuid"`
}

// UpdateRoleRequest is the body of a role update. A nil Permissions leaves the
// role's permission set untouched; an empty slice clears it.
type UpdateRoleRequest struct {
	Name        *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Permissions *[]string `json:"permissions" validate:"omitempty,dive,uuid"`
}
