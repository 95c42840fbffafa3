package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/httputil"
)

// Handlers provides HTTP handlers for authentication
type Handlers struct {
	service *Service
}

// NewHandlers creates new auth handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the /auth routes. limit wraps the credential endpoints
// (login, register, password recovery) and may be nil.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	router.Handle("/auth/login", limit(http.HandlerFunc(h.Login))).Methods("POST")
	router.Handle("/auth/register", limit(http.HandlerFunc(h.Register))).Methods("POST")
	router.Handle("/auth/verify-email", limit(http.HandlerFunc(h.VerifyEmail))).Methods("POST")
	router.Handle("/auth/resend-otp", limit(http.HandlerFunc(h.ResendOTP))).Methods("POST")
	router.Handle("/auth/forgot-password", limit(http.HandlerFunc(h.ForgotPassword))).Methods("POST")
	router.Handle("/auth/reset-password", limit(http.HandlerFunc(h.ResetPassword))).Methods("POST")
	router.HandleFunc("/auth/refresh", h.Refresh).Methods("POST")

	router.Handle("/auth/logout", httputil.Protect(guard, h.Logout)).Methods("POST")
	router.Handle("/auth/me", httputil.Protect(guard, h.Me)).Methods("GET")
}

// Login handles POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, resp)
}

// Register handles POST /auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusCreated, user)
}

// VerifyEmail handles POST /auth/verify-email
func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Email verified successfully")
}

// ResendOTP handles POST /auth/resend-otp
func (h *Handlers) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.ResendOTP(r.Context(), req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "If the account exists and is not verified, a new code has been sent")
}

// ForgotPassword handles POST /auth/forgot-password
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "If the email is registered, a reset link has been sent")
}

// ResetPassword handles POST /auth/reset-password
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Password has been reset")
}

// Refresh handles POST /auth/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, tokens)
}

// Logout handles POST /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), IdentityFromContext(r.Context())); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Logged out")
}

// Me handles GET /auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteAppError(w, apperr.Unauthorized(MsgInvalidToken))
		return
	}

	httputil.WriteData(w, http.StatusOK, identity)
}
