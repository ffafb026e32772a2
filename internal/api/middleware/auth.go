package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/attend/internal/api/problem"
	"github.com/Togather-Foundation/attend/internal/auth"
)

// TokenValidator checks bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Authenticate attaches the principal of a valid bearer token to the
// request. Requests without an Authorization header pass through
// anonymously; a malformed or invalid token is rejected with 401.
func Authenticate(tokens TokenValidator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, err := auth.TokenFromHeader(header)
			if err == nil {
				var claims *auth.Claims
				if claims, err = tokens.Validate(raw); err == nil {
					ctx := auth.WithPrincipal(r.Context(), claims.Principal())
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid or expired token", err, env)
		})
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth(env string) func(http.Handler) http.Handler {
	return RequireRole(env)
}

// RequireRole rejects anonymous requests with 401 and, when roles are
// given, callers holding none of them with 403.
func RequireRole(env string, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", problem.ErrUnauthorized, env)
				return
			}
			if len(roles) > 0 && !auth.HasRole(string(p.Role), roles...) {
				problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Forbidden", errors.New("role "+string(p.Role)+" not permitted"), env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
