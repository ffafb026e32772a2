package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Togather-Foundation/attend/internal/audit"
	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/users"
)

// UserService defines the account operations served over HTTP.
type UserService interface {
	Get(ctx context.Context, id string) (*users.User, error)
	UpdateProfile(ctx context.Context, id string, input users.ProfileInput) (*users.User, error)
	AdminUpdate(ctx context.Context, actor auth.Principal, id string, input users.AdminInput) (*users.User, error)
	List(ctx context.Context, actor auth.Principal, offset, limit int) ([]users.User, int, error)
}

type UsersHandler struct {
	users UserService
	audit *audit.Logger
	env   string
}

func NewUsersHandler(service UserService, auditLogger *audit.Logger, env string) *UsersHandler {
	return &UsersHandler{users: service, audit: auditLogger, env: env}
}

// Me handles GET /api/v1/users/me.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateMe handles PUT /api/v1/users/me. Role and active flag are not
// part of the profile and cannot be changed here.
func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var input users.ProfileInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), principal(r).UserID, input)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// List handles GET /api/v1/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := parsePage(r, users.DefaultLimit, users.MaxLimit)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	items, total, err := h.users.List(r.Context(), principal(r), skip, limit)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	if items == nil {
		items = []users.User{}
	}
	writeJSON(w, http.StatusOK, pageResponse[users.User]{Items: items, Total: total, Skip: skip, Limit: limit})
}

// Update handles PUT /api/v1/users/{id}.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input users.AdminInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	id := pathParam(r, "id")
	user, err := h.users.AdminUpdate(r.Context(), principal(r), id, input)
	if err != nil {
		h.audit.LogFromRequest(r, "user.update", "user", id, audit.StatusFailure, nil)
		writeError(w, r, err, h.env)
		return
	}

	h.audit.LogFromRequest(r, "user.update", "user", user.ID, audit.StatusSuccess, map[string]string{
		"role":      string(user.Role),
		"is_active": strconv.FormatBool(user.Active),
	})
	writeJSON(w, http.StatusOK, user)
}
