package http

import (
	"net/http"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/validator"
)

// Login handles POST /api/v1/auth/login
func (h *StorefrontHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := validator.DecodeAndValidate(r, &creds); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	status, err := h.service.Login(r.Context(), creds)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, status)
}

// Register handles POST /api/v1/auth/register
func (h *StorefrontHandler) Register(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if err := validator.DecodeAndValidate(r, &reg); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	user, err := h.service.Register(r.Context(), reg)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, user)
}

// Logout handles POST /api/v1/auth/logout
func (h *StorefrontHandler) Logout(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.service.Logout(r.Context()))
}

// Refresh handles POST /api/v1/auth/refresh
func (h *StorefrontHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Refresh(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, status)
}

// Session handles GET /api/v1/auth/session
func (h *StorefrontHandler) Session(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.service.SessionStatus())
}

// Me handles GET /api/v1/auth/me
func (h *StorefrontHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, user)
}
