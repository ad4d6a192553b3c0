package org

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-oa/meridian-oa/internal/platform/httpx"
)

// Handler exposes directory lookups and credential verification for the
// calling gateway.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	dir      Directory
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, dir Directory) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		dir:      dir,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers org routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/verify", h.verifyCredentials)
	r.Get("/users/{id}", h.showUser)
	r.Get("/offices/{id}", h.showOffice)
}

type verifyRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID           int64  `json:"id"`
	OfficeID     int64  `json:"office_id"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	IsAdmin      bool   `json:"is_admin"`
	IsAccounting bool   `json:"is_accounting"`
	IsActive     bool   `json:"is_active"`
}

func toUserResponse(u User) userResponse {
	return userResponse{
		ID:           u.ID,
		OfficeID:     u.OfficeID,
		DisplayName:  u.DisplayName,
		Email:        u.Email,
		IsAdmin:      u.IsAdmin,
		IsAccounting: u.IsAccounting,
		IsActive:     u.IsActive,
	}
}

func (h *Handler) verifyCredentials(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.service.VerifyCredentials(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		httpx.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("verify credentials", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "system error")
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := h.dir.GetUser(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("get user", slog.Any("error", err), slog.Int64("id", id))
		httpx.Error(w, http.StatusInternalServerError, "system error")
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

type officeResponse struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

func (h *Handler) showOffice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid office id")
		return
	}
	office, err := h.dir.GetOffice(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "office not found")
		return
	}
	if err != nil {
		h.logger.Error("get office", slog.Any("error", err), slog.Int64("id", id))
		httpx.Error(w, http.StatusInternalServerError, "system error")
		return
	}
	httpx.JSON(w, http.StatusOK, officeResponse{
		ID:       office.ID,
		Code:     office.Code,
		Name:     office.Name,
		Currency: office.Currency,
	})
}

