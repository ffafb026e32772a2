package handlers

import (
	"context"
	"net/http"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/validation"
)

type AnalyticsService interface {
	Event(ctx context.Context, actor auth.Principal, eventID string) (analytics.EventReport, error)
	Dashboard(ctx context.Context, actor auth.Principal, filter analytics.DashboardFilter) (analytics.Dashboard, error)
	Users(ctx context.Context, actor auth.Principal) (analytics.UserStats, error)
}

type AnalyticsHandler struct {
	analytics AnalyticsService
	env       string
}

func NewAnalyticsHandler(service AnalyticsService, env string) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: service, env: env}
}

// Event handles GET /api/v1/analytics/events/{id}.
func (h *AnalyticsHandler) Event(w http.ResponseWriter, r *http.Request) {
	report, err := h.analytics.Event(r.Context(), principal(r), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Dashboard handles GET /api/v1/analytics/dashboard with optional
// start_date and end_date bounds on the events included.
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate(q.Get("start_date"), "start_date")
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	end, err := parseDate(q.Get("end_date"), "end_date")
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		writeError(w, r, validation.Errors{{Field: "end_date", Message: "must not be before start_date"}}, h.env)
		return
	}

	dashboard, err := h.analytics.Dashboard(r.Context(), principal(r), analytics.DashboardFilter{StartDate: start, EndDate: end})
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// Users handles GET /api/v1/analytics/users.
func (h *AnalyticsHandler) Users(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.Users(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
