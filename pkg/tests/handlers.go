package tests

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/auth"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/rbac"
)

// Handlers provides HTTP handlers for tests and answer submissions
type Handlers struct {
	catalog  *Catalog
	recorder *AnswerRecorder
	answers  *AnswerStore
}

// NewHandlers creates test handlers
func NewHandlers(db *sql.DB, metrics *observability.Metrics) *Handlers {
	schedule := NewSchedule(db)
	return &Handlers{
		catalog:  NewCatalog(db, schedule),
		recorder: NewAnswerRecorder(db, schedule, metrics),
		answers:  NewAnswerStore(db, schedule),
	}
}

// RegisterRoutes registers the /tests routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/tests", httputil.Protect(guard, h.List, rbac.PermReadListTests)).Methods("GET")
	router.Handle("/tests/create", httputil.Protect(guard, h.Create, rbac.PermCreateTests)).Methods("POST")
	router.Handle("/tests/detail/{id}", httputil.Protect(guard, h.Get, rbac.PermReadDetailTests)).Methods("GET")
	router.Handle("/tests/update/{id}", httputil.Protect(guard, h.Update, rbac.PermUpdateTests)).Methods("PUT")
	router.Handle("/tests/delete/{id}", httputil.Protect(guard, h.Delete, rbac.PermDeleteTests)).Methods("DELETE")

	router.Handle("/tests/answer", httputil.Protect(guard, h.ListAnswers, rbac.PermReadDetailTests)).Methods("GET")
	router.Handle("/tests/answer/create", httputil.Protect(guard, h.SubmitAnswer, rbac.PermReadDetailTests)).Methods("POST")
	router.Handle("/tests/answer/detail/{id}", httputil.Protect(guard, h.GetAnswer, rbac.PermReadDetailTests)).Methods("GET")
	router.Handle("/tests/answer/delete/{id}", httputil.Protect(guard, h.DeleteAnswer, rbac.PermDeleteTests)).Methods("DELETE")
}

// List handles GET /tests
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	list, total, err := h.catalog.List(r.Context(), params)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteList(w, list, params.Meta(total))
}

// Get handles GET /tests/detail/{id}. Only elevated callers see is_correct.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	detail, err := h.catalog.GetTestDetail(r.Context(), id, identity.RoleKind())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, detail)
}

// Create handles POST /tests/create
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTestRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	id, err := h.catalog.Create(ctx, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	detail, err := h.catalog.GetTestDetail(ctx, id, rbac.RoleKindAdmin)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataTestCreate, audit.ResourceTypeTest, id, "test created")
	httputil.WriteData(w, http.StatusCreated, detail)
}

// Update handles PUT /tests/update/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateTestRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.catalog.Update(ctx, id, req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	detail, err := h.catalog.GetTestDetail(ctx, id, rbac.RoleKindAdmin)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataTestUpdate, audit.ResourceTypeTest, id, "test updated")
	httputil.WriteData(w, http.StatusOK, detail)
}

// Delete handles DELETE /tests/delete/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.catalog.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataTestDelete, audit.ResourceTypeTest, id, "test deleted")
	httputil.WriteMessage(w, http.StatusOK, "Test deleted")
}

// SubmitAnswer handles POST /tests/answer/create for the calling user
func (h *Handlers) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := auth.IdentityFromContext(ctx)
	if identity == nil {
		httputil.WriteAppError(w, apperr.Unauthorized("User session expired"))
		return
	}

	var req SubmitAnswerRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	answer, err := h.recorder.Submit(ctx, identity.ID, req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			observability.FromContext(ctx).WithError(err).Error("answer submission failed")
		}
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataAnswerSubmit, audit.ResourceTypeAnswer, answer.ID, "answer submitted")
	httputil.WriteData(w, http.StatusCreated, answer)
}

// ListAnswers handles GET /tests/answer?test_id=. Non-elevated callers only see their own.
func (h *Handlers) ListAnswers(w http.ResponseWriter, r *http.Request) {
	testID, err := httputil.ParseQueryUUID(r, "test_id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	filter := AnswerFilter{TestID: testID}
	if identity := auth.IdentityFromContext(r.Context()); !identity.RoleKind().IsElevated() {
		if identity == nil {
			httputil.WriteAppError(w, apperr.Unauthorized("User session expired"))
			return
		}
		filter.UserID = identity.ID
	}

	params := pagination.Parse(r.URL.Query())
	answers, total, err := h.answers.List(r.Context(), params, filter)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteList(w, answers, params.Meta(total))
}

// GetAnswer handles GET /tests/answer/detail/{id}
func (h *Handlers) GetAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	detail, err := h.answers.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	if !identity.RoleKind().IsElevated() && (identity == nil || identity.ID != detail.UserID) {
		httputil.WriteAppError(w, apperr.NotFound("Test answer not found"))
		return
	}

	httputil.WriteData(w, http.StatusOK, detail)
}

// DeleteAnswer handles DELETE /tests/answer/delete/{id}
func (h *Handlers) DeleteAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.answers.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataAnswerDelete, audit.ResourceTypeAnswer, id, "answer deleted")
	httputil.WriteMessage(w, http.StatusOK, "Test answer deleted")
}
