package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/api/problem"
	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/Togather-Foundation/attend/internal/validation"
	"github.com/go-chi/chi/v5"
)

// retryAfterSeconds is advertised when the store is unavailable.
const retryAfterSeconds = 5

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a single JSON object. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return validation.Errors{{Field: "body", Message: "request body is required"}}
		}
		return err
	}
	if dec.More() {
		return validation.Errors{{Field: "body", Message: "must contain a single JSON object"}}
	}
	return nil
}

func pathParam(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

// principal returns the caller, or the zero principal for anonymous
// requests.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

type pageResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

func parsePage(r *http.Request, defaultLimit, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	skip, limit := 0, defaultLimit
	if raw := strings.TrimSpace(q.Get("skip")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, validation.Errors{{Field: "skip", Message: "must be a non-negative integer"}}
		}
		skip = n
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			return 0, 0, validation.Errors{{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxLimit)}}
		}
		limit = n
	}
	return skip, limit, nil
}

func parseDate(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, validation.Errors{{Field: field, Message: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}}
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var (
		fieldErrs  validation.Errors
		transition events.TransitionError
		eventField events.FilterError
		listField  registrations.ValidationError
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		tooLarge   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &tooLarge):
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypePayloadTooLarge, "Request body too large", err, env)
	case errors.As(err, &fieldErrs):
		details := make(map[string]interface{}, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field] = fe.Message
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env, problem.WithErrors(details))
	case errors.As(err, &eventField), errors.As(err, &listField):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env, problem.WithDetail(err.Error()))
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), isUnknownField(err):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid JSON body", err, env)
	case errors.As(err, &transition):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeInvalidTransition, "Invalid status transition", err, env, problem.WithDetail(err.Error()))

	case errors.Is(err, users.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Incorrect username or password", err, env)
	case errors.Is(err, users.ErrInactive):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Account is inactive", err, env)
	case errors.Is(err, users.ErrForbidden), errors.Is(err, events.ErrForbidden), errors.Is(err, analytics.ErrForbidden), errors.Is(err, errForbidden):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Forbidden", err, env)
	case errors.Is(err, users.ErrEmailTaken):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Email already registered", err, env)
	case errors.Is(err, users.ErrUsernameTaken):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Username already taken", err, env)
	case errors.Is(err, users.ErrUserNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "User not found", err, env)
	case errors.Is(err, events.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Event not found", err, env)

	default:
		writeRegistrationError(w, r, err, env)
	}
}

func writeRegistrationError(w http.ResponseWriter, r *http.Request, err error, env string) {
	switch registrations.KindOf(err) {
	case registrations.KindNotFound:
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", err, env, problem.WithDetail(err.Error()))
	case registrations.KindDuplicate:
		problem.Write(w, r, http.StatusConflict, problem.TypeDuplicate, "Already registered", err, env, problem.WithDetail(err.Error()))
	case registrations.KindCapacityExceeded:
		problem.Write(w, r, http.StatusConflict, problem.TypeCapacityExceeded, "Event is full", err, env, problem.WithDetail(err.Error()))
	case registrations.KindInvalidTransition:
		problem.Write(w, r, http.StatusBadRequest, problem.TypeInvalidTransition, "Invalid status transition", err, env, problem.WithDetail(err.Error()))
	case registrations.KindStoreUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeUnavailable, "Service temporarily unavailable", err, env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Server error", err, env)
	}
}

// errForbidden is returned by attendee handlers when the caller neither
// owns the record nor manages its event.
var errForbidden = errors.New("not allowed to access this registration")

// encoding/json reports unknown fields only as a formatted string.
func isUnknownField(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "json: unknown field")
}
