package sessions

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/rbac"
)

// Handlers provides HTTP handlers for test sessions
type Handlers struct {
	store *Store
}

// NewHandlers creates session handlers
func NewHandlers(db *sql.DB) *Handlers {
	return &Handlers{store: NewStore(db)}
}

// RegisterRoutes registers the /sessions routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/sessions", httputil.Protect(guard, h.List, rbac.PermReadListSessions)).Methods("GET")
	router.Handle("/sessions/create", httputil.Protect(guard, h.Create, rbac.PermCreateSessions)).Methods("POST")
	router.Handle("/sessions/detail/{id}", httputil.Protect(guard, h.Get, rbac.PermReadDetailSessions)).Methods("GET")
	router.Handle("/sessions/update/{id}", httputil.Protect(guard, h.Update, rbac.PermUpdateSessions)).Methods("PUT")
	router.Handle("/sessions/delete/{id}", httputil.Protect(guard, h.Delete, rbac.PermDeleteSessions)).Methods("DELETE")
}

// List handles GET /sessions
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	sessions, total, err := h.store.List(r.Context(), params)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteList(w, sessions, params.Meta(total))
}

// Get handles GET /sessions/detail/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	session, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, session)
}

// Create handles POST /sessions/create
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	links, err := buildLinks(req.Tests)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	id, err := h.store.Create(ctx, req, links)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	session, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataSessionCreate, audit.ResourceTypeSession, id, "session created")
	httputil.WriteData(w, http.StatusCreated, session)
}

// Update handles PUT /sessions/update/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateSessionRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var links *[]Link
	if req.Tests != nil {
		built, err := buildLinks(*req.Tests)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		links = &built
	}

	if err := h.store.Update(ctx, id, req.changes(), links); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	session, err := h.store.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataSessionUpdate, audit.ResourceTypeSession, id, "session updated")
	httputil.WriteData(w, http.StatusOK, session)
}

// Delete handles DELETE /sessions/delete/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.store.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataSessionDelete, audit.ResourceTypeSession, id, "session deleted")
	httputil.WriteMessage(w, http.StatusOK, "Session deleted")
}
