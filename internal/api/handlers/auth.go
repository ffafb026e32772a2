package handlers

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/attend/internal/audit"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/Togather-Foundation/attend/internal/validation"
)

// AccountService is the part of users.Service used for sign-up and login.
type AccountService interface {
	Register(ctx context.Context, input users.RegisterInput) (*users.User, error)
	Login(ctx context.Context, login, password string) (users.Token, error)
}

type AuthHandler struct {
	accounts AccountService
	audit    *audit.Logger
	env      string
}

func NewAuthHandler(accounts AccountService, auditLogger *audit.Logger, env string) *AuthHandler {
	return &AuthHandler{accounts: accounts, audit: auditLogger, env: env}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input users.RegisterInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	user, err := h.accounts.Register(r.Context(), input)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token handles POST /api/v1/auth/token. It accepts the OAuth2 password
// grant form encoding as well as a JSON body; username may also be the
// account's email.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, err, h.env)
			return
		}
		req.Username, req.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.env)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, r, validation.Errors{{Field: "username", Message: "username and password are required"}}, h.env)
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.audit.LogFromRequest(r, "auth.login", "user", req.Username, audit.StatusFailure, nil)
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, token)
}
