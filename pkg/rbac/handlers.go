package rbac

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/pagination"
)

// Handlers provides HTTP handlers for permission and role management
type Handlers struct {
	permissions *PermissionStore
	roles       *RoleStore
	resolver    *PermissionResolver
	identities  IdentityInvalidator
}

// NewHandlers creates new RBAC handlers. identities may be nil, in which case
// cached identities keep their old permission set until they expire.
func NewHandlers(db *sql.DB, resolver *PermissionResolver, identities IdentityInvalidator) *Handlers {
	permissions := NewPermissionStore(db)
	if resolver == nil {
		resolver = NewPermissionResolver(permissions, 0, 0)
	}
	return &Handlers{
		permissions: permissions,
		roles:       NewRoleStore(db),
		resolver:    resolver,
		identities:  identities,
	}
}

// RegisterRoutes registers the permission and role routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/permissions", httputil.Protect(guard, h.ListPermissions, PermReadListPermissions)).Methods("GET")
	router.Handle("/permissions/create", httputil.Protect(guard, h.CreatePermission, PermCreatePermissions)).Methods("POST")
	router.Handle("/permissions/detail/{id}", httputil.Protect(guard, h.GetPermission, PermReadDetailPermissions)).Methods("GET")
	router.Handle("/permissions/update/{id}", httputil.Protect(guard, h.UpdatePermission, PermUpdatePermissions)).Methods("PUT")
	router.Handle("/permissions/delete/{id}", httputil.Protect(guard, h.DeletePermission, PermDeletePermissions)).Methods("DELETE")

	router.Handle("/roles", httputil.Protect(guard, h.ListRoles, PermReadListRoles)).Methods("GET")
	router.Handle("/roles/create", httputil.Protect(guard, h.CreateRole, PermCreateRoles)).Methods("POST")
	router.Handle("/roles/detail/{id}", httputil.Protect(guard, h.GetRole, PermReadDetailRoles)).Methods("GET")
	router.Handle("/roles/update/{id}", httputil.Protect(guard, h.UpdateRole, PermUpdateRoles)).Methods("PUT")
	router.Handle("/roles/delete/{id}", httputil.Protect(guard, h.DeleteRole, PermDeleteRoles)).Methods("DELETE")
}

// ListPermissions handles GET /permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	permissions, total, err := h.permissions.List(r.Context(), params)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteList(w, permissions, params.Meta(total))
}

// GetPermission handles GET /permissions/detail/{id}
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	perm, err := h.permissions.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, perm)
}

// CreatePermission handles POST /permissions/create
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req CreatePermissionRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	perm, err := h.permissions.Create(r.Context(), req.Name)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(r.Context(), audit.EventTypeDataPermissionCreate, audit.ResourceTypePermission, perm.ID, "permission created")
	httputil.WriteData(w, http.StatusCreated, perm)
}

// UpdatePermission handles PUT /permissions/update/{id}
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdatePermissionRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	perm, err := h.permissions.Update(ctx, id, req.Name)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	// A renamed permission changes the name set of every role holding it
	h.invalidateRolesWithPermission(ctx, id)

	audit.LogMutation(ctx, audit.EventTypeDataPermissionUpdate, audit.ResourceTypePermission, perm.ID, "permission updated")
	httputil.WriteData(w, http.StatusOK, perm)
}

// DeletePermission handles DELETE /permissions/delete/{id}
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	// Links cascade on delete, so collect the holders first
	holders, err := h.permissions.RolesWithPermission(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.permissions.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	for _, roleID := range holders {
		h.invalidateRole(ctx, roleID)
	}

	audit.LogMutation(ctx, audit.EventTypeDataPermissionDelete, audit.ResourceTypePermission, id, "permission deleted")
	httputil.WriteMessage(w, http.StatusOK, "Permission deleted successfully")
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	roles, total, err := h.roles.List(r.Context(), params)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteList(w, roles, params.Meta(total))
}

// GetRole handles GET /roles/detail/{id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	role, err := h.roles.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, role)
}

// CreateRole handles POST /roles/create
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	role, err := h.roles.Create(r.Context(), req.Name, req.Permissions)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(r.Context(), audit.EventTypeDataRoleCreate, audit.ResourceTypeRole, role.ID, "role created")
	httputil.WriteData(w, http.StatusCreated, role)
}

// UpdateRole handles PUT /roles/update/{id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateRoleRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.roles.Update(ctx, id, req.Name, req.Permissions); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.invalidateRole(ctx, id)

	role, err := h.roles.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataRoleUpdate, audit.ResourceTypeRole, id, "role updated")
	httputil.WriteData(w, http.StatusOK, role)
}

// DeleteRole handles DELETE /roles/delete/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.roles.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.invalidateRole(ctx, id)

	audit.LogMutation(ctx, audit.EventTypeDataRoleDelete, audit.ResourceTypeRole, id, "role deleted")
	httputil.WriteMessage(w, http.StatusOK, "Role deleted successfully")
}

func (h *Handlers) invalidateRolesWithPermission(ctx context.Context, permissionID string) {
	holders, err := h.permissions.RolesWithPermission(ctx, permissionID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to list roles for permission invalidation")
		return
	}
	for _, roleID := range holders {
		h.invalidateRole(ctx, roleID)
	}
}

// invalidateRole drops cached permissions for a role on every replica. Failures
// are logged and leave the caches to expire on their own TTL.
func (h *Handlers) invalidateRole(ctx context.Context, roleID string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger := observability.FromContext(ctx).WithField("role_id", roleID)
	if err := h.resolver.Revoke(ctx, roleID); err != nil {
		logger.WithError(err).Warn("failed to broadcast role invalidation")
	}
	if h.identities == nil {
		return
	}

	dropped, err := h.identities.InvalidateRole(ctx, roleID)
	if err != nil {
		logger.WithError(err).Warn("failed to invalidate cached identities")
		return
	}
	logger.WithField("dropped", dropped).Debug("cached identities invalidated")
}
