package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/botica-erp/botica/internal/platform/httpx"
	"github.com/botica-erp/botica/internal/shared"
)

// Handler exposes staff account management over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers user endpoints, mounted under /users.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/activate", h.setActive(true))
	r.Post("/{id}/deactivate", h.setActive(false))
	r.Post("/{id}/password", h.changePassword)
}

type createRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	FullName string `json:"full_name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Active   bool   `json:"active"`
}

func toResponse(u User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, FullName: u.FullName, Active: u.Active}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := Filter{}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err == nil {
			filter.Active = &active
		}
	}
	if v := r.URL.Query().Get("page"); v != "" {
		filter.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		filter.PerPage, _ = strconv.Atoi(v)
	}

	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	responses := make([]userResponse, 0, len(list))
	for _, u := range list {
		responses = append(responses, toResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users":      responses,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.Create(r.Context(), CreateInput(req))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(user))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(user))
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
			return
		}
		if err := h.service.SetActive(r.Context(), id, active); err != nil {
			h.respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type passwordRequest struct {
	Current string `json:"current" validate:"required"`
	Next    string `json:"next" validate:"required,min=8"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	if shared.ActorFromContext(r.Context()) != id {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "password changes are limited to the account owner")
		return
	}
	var req passwordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ChangePassword(r.Context(), id, req.Current, req.Next); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUsernameTaken):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrPasswordMismatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("users handler error", "error", err)
		httpx.RespondError(w, err)
	}
}
