package api

import (
	"net/http"

	"github.com/Togather-Foundation/attend/internal/api/handlers"
	"github.com/Togather-Foundation/attend/internal/api/middleware"
	"github.com/Togather-Foundation/attend/internal/api/problem"
	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	Config    config.Config
	Logger    zerolog.Logger
	Tokens    middleware.TokenValidator
	Limiter   *middleware.RateLimiter
	Health    *handlers.HealthChecker
	Auth      *handlers.AuthHandler
	Users     *handlers.UsersHandler
	Events    *handlers.EventsHandler
	Attendees *handlers.AttendeesHandler
	Analytics *handlers.AnalyticsHandler
	// Realtime serves /ws when set.
	Realtime http.Handler

	Build BuildInfo
}

func NewRouter(d Deps) http.Handler {
	env := d.Config.Environment

	r := chi.NewRouter()
	r.Use(
		middleware.CorrelationID(d.Logger),
		middleware.Tracing,
		metrics.HTTPMiddleware,
		middleware.RequestLogging,
		middleware.SecurityHeaders(d.Config.Environment == "production"),
		middleware.CORS(d.Config.CORS, d.Logger),
		middleware.RequestSize(middleware.DefaultMaxBodySize),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", nil, env)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusMethodNotAllowed, problem.TypeNotFound, "Method not allowed", nil, env)
	})

	r.Get("/healthz", handlers.Healthz())
	r.Get("/readyz", d.Health.Readyz())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Method(http.MethodGet, "/version", VersionHandler(d.Build, d.Config.Storage.Driver))
	if d.Realtime != nil {
		r.Method(http.MethodGet, "/ws", d.Realtime)
	}

	requireAuth := middleware.RequireAuth(env)
	managers := middleware.RequireRole(env, auth.RoleAdmin, auth.RoleOrganizer)
	admins := middleware.RequireRole(env, auth.RoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(d.Tokens, env))

		r.Group(func(r chi.Router) {
			r.Use(middleware.WithRateLimitTierHandler(middleware.TierLogin), d.Limiter.Handler)
			r.Post("/auth/register", d.Auth.Register)
			r.Post("/auth/token", d.Auth.Token)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.Limiter.Handler)

			r.Get("/events", d.Events.List)
			r.Get("/events/{id}", d.Events.Get)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				r.Get("/users/me", d.Users.Me)
				r.Put("/users/me", d.Users.UpdateMe)
				r.With(admins).Get("/users", d.Users.List)
				r.With(admins).Put("/users/{id}", d.Users.Update)

				r.With(managers).Post("/events", d.Events.Create)
				r.Put("/events/{id}", d.Events.Update)
				r.Delete("/events/{id}", d.Events.Delete)
				r.Post("/events/{id}/register", d.Attendees.Register)
				r.With(managers).Get("/events/{id}/attendees", d.Attendees.ListForEvent)
				r.With(managers).Post("/events/{id}/promote", d.Events.Promote)

				r.Get("/attendees/me", d.Attendees.Mine)
				r.With(managers).Put("/attendees/{id}/check-in", d.Attendees.CheckIn)
				r.Put("/attendees/{id}/cancel", d.Attendees.Cancel)
				r.Get("/attendees/{id}/ticket.png", d.Attendees.Ticket)

				r.With(managers).Get("/analytics/events/{id}", d.Analytics.Event)
				r.With(admins).Get("/analytics/dashboard", d.Analytics.Dashboard)
				r.With(admins).Get("/analytics/users", d.Analytics.Users)
			})
		})
	})
	return r
}
