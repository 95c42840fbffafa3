package users

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/auth"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/rbac"
)

// IdentityCache is the part of the session cache user management touches
type IdentityCache interface {
	Put(ctx context.Context, identity *auth.CachedIdentity) error
	Delete(ctx context.Context, email string) error
}

// Hasher hashes new passwords
type Hasher interface {
	Hash(password string) (string, error)
}

// Handlers provides HTTP handlers for user management
type Handlers struct {
	store      *Store
	hasher     Hasher
	identities IdentityCache
}

// NewHandlers creates user handlers. identities may be nil, in which case edited
// users keep their cached identity until it expires.
func NewHandlers(db *sql.DB, hasher Hasher, identities IdentityCache) *Handlers {
	return &Handlers{
		store:      NewStore(db),
		hasher:     hasher,
		identities: identities,
	}
}

// RegisterRoutes registers the /users routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/users", httputil.Protect(guard, h.List, rbac.PermReadListUsers)).Methods("GET")
	router.Handle("/users/me", httputil.Protect(guard, h.Me)).Methods("GET")
	router.Handle("/users/me", httputil.Protect(guard, h.UpdateMe)).Methods("PUT")
	router.Handle("/users/create", httputil.Protect(guard, h.Create, rbac.PermCreateUsers)).Methods("POST")
	router.Handle("/users/detail/{id}", httputil.Protect(guard, h.Get, rbac.PermReadDetailUsers)).Methods("GET")
	router.Handle("/users/update/{id}", httputil.Protect(guard, h.Update, rbac.PermUpdateUsers)).Methods("PUT")
	router.Handle("/users/activate/{id}", httputil.Protect(guard, h.SetActive, rbac.PermUpdateUsers)).Methods("PUT")
	router.Handle("/users/delete/{id}", httputil.Protect(guard, h.Delete, rbac.PermDeleteUsers)).Methods("DELETE")
}

// List handles GET /users
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	users, total, err := h.store.List(r.Context(), params)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteList(w, users, params.Meta(total))
}

// Get handles GET /users/detail/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, user)
}

// Me handles GET /users/me with the caller's full profile
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteAppError(w, apperr.Unauthorized("User session expired"))
		return
	}

	user, err := h.store.Get(r.Context(), identity.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, user)
}

// Create handles POST /users/create
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateUserRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		httputil.WriteAppError(w, apperr.Internal(err))
		return
	}

	id, err := h.store.Create(ctx, req, hash)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeAdminUserCreate, audit.ResourceTypeUser, id, "user created")
	httputil.WriteData(w, http.StatusCreated, user)
}

// Update handles PUT /users/update/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateUserRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	changes, err := req.changes()
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid birthdate format. Use YYYY-MM-DD.")
		return
	}

	before, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.store.Update(ctx, id, changes); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	// Role, email or profile changes are only picked up on the next login
	h.dropIdentity(ctx, before.Email)

	if changes.RoleID != nil && (before.Role == nil || before.Role.ID != *changes.RoleID) {
		audit.LogMutation(ctx, audit.EventTypeAuthzRoleChange, audit.ResourceTypeUser, id, "user role changed")
	}
	audit.LogMutation(ctx, audit.EventTypeAdminUserUpdate, audit.ResourceTypeUser, id, "user updated")
	httputil.WriteData(w, http.StatusOK, user)
}

// UpdateMe handles PUT /users/me. Role changes are ignored.
func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := auth.IdentityFromContext(ctx)
	if identity == nil {
		httputil.WriteAppError(w, apperr.Unauthorized("User session expired"))
		return
	}

	var req UpdateUserRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	req.RoleID = nil
	changes, err := req.changes()
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid birthdate format. Use YYYY-MM-DD.")
		return
	}

	if err := h.store.Update(ctx, identity.ID, changes); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.store.Get(ctx, identity.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if complete := user.profileComplete(); complete != user.IsProfileCompleted {
		if err := h.store.SetProfileCompleted(ctx, user.ID, complete); err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		user.IsProfileCompleted = complete
	}

	h.refreshIdentity(ctx, identity, user)

	audit.LogMutation(ctx, audit.EventTypeDataProfileUpdate, audit.ResourceTypeUser, user.ID, "profile updated")
	httputil.WriteData(w, http.StatusOK, user)
}

// SetActive handles PUT /users/activate/{id}
func (h *Handlers) SetActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req SetActiveRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.store.SetActive(ctx, id, *req.IsActive); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if !*req.IsActive {
		h.dropIdentity(ctx, user.Email)
	}

	audit.LogMutation(ctx, audit.EventTypeAdminUserActivate, audit.ResourceTypeUser, id, "user active flag changed")
	httputil.WriteMessage(w, http.StatusOK, "User updated successfully")
}

// Delete handles DELETE /users/delete/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.store.SoftDelete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.dropIdentity(ctx, user.Email)

	audit.LogMutation(ctx, audit.EventTypeAdminUserDelete, audit.ResourceTypeUser, id, "user deleted")
	httputil.WriteMessage(w, http.StatusOK, "User deleted successfully")
}

// dropIdentity ends a user's cached session. Failures are logged; the identity
// then expires on its own TTL.
func (h *Handlers) dropIdentity(ctx context.Context, email string) {
	if h.identities == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.identities.Delete(ctx, email); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("email", email).Warn("failed to drop cached identity")
	}
}

// refreshIdentity rewrites the caller's snapshot with their new profile, keeping the role
func (h *Handlers) refreshIdentity(ctx context.Context, current *auth.CachedIdentity, user *User) {
	if h.identities == nil {
		return
	}

	updated := *current
	updated.Fullname = user.Fullname
	updated.Avatar = user.Avatar
	updated.PhoneNumber = user.PhoneNumber
	updated.IsProfileCompleted = user.IsProfileCompleted

	if user.Email != current.Email {
		// The token subject no longer matches; the user has to log in with the new address
		h.dropIdentity(ctx, current.Email)
		return
	}
	if err := h.identities.Put(ctx, &updated); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to refresh cached identity")
	}
}
