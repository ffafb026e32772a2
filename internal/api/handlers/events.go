package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Togather-Foundation/attend/internal/audit"
	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
)

// EventService is implemented by events.Service.
type EventService interface {
	Create(ctx context.Context, actor auth.Principal, input events.CreateInput) (events.Summary, error)
	Get(ctx context.Context, actor auth.Principal, id string) (events.Summary, error)
	List(ctx context.Context, actor auth.Principal, filters events.Filters, page events.Pagination) ([]events.Summary, int, error)
	Update(ctx context.Context, actor auth.Principal, id string, input events.UpdateInput) (events.Summary, error)
	Delete(ctx context.Context, actor auth.Principal, id string) error
	Authorize(ctx context.Context, actor auth.Principal, id string) (*events.Event, error)
}

// WaitlistPromoter runs a promotion pass for one event.
type WaitlistPromoter interface {
	PromoteWaitlist(ctx context.Context, eventID string) ([]registrations.Record, error)
}

type EventsHandler struct {
	events   EventService
	promoter WaitlistPromoter
	audit    *audit.Logger
	env      string
}

func NewEventsHandler(service EventService, promoter WaitlistPromoter, auditLogger *audit.Logger, env string) *EventsHandler {
	return &EventsHandler{events: service, promoter: promoter, audit: auditLogger, env: env}
}

// List handles GET /api/v1/events.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, page, err := events.ParseFilters(r.URL.Query())
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	items, total, err := h.events.List(r.Context(), principal(r), filters, page)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[events.Summary]{Items: items, Total: total, Skip: page.Offset, Limit: page.Limit})
}

// Create handles POST /api/v1/events.
func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input events.CreateInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	created, err := h.events.Create(r.Context(), principal(r), input)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	w.Header().Set("Location", "/api/v1/events/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/v1/events/{id}.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.events.Get(r.Context(), principal(r), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Update handles PUT /api/v1/events/{id}.
func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input events.UpdateInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	updated, err := h.events.Update(r.Context(), principal(r), pathParam(r, "id"), input)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/events/{id}.
func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.events.Delete(r.Context(), principal(r), id); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	h.audit.LogFromRequest(r, "event.delete", "event", id, audit.StatusSuccess, nil)
	w.WriteHeader(http.StatusNoContent)
}

type promoteResponse struct {
	EventID  string             `json:"event_id"`
	Promoted []attendeeResponse `json:"promoted"`
}

// Promote handles POST /api/v1/events/{id}/promote.
func (h *EventsHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.events.Authorize(r.Context(), principal(r), id); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	promoted, err := h.promoter.PromoteWaitlist(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}

	h.audit.LogFromRequest(r, "waitlist.promote", "event", id, audit.StatusSuccess, map[string]string{
		"promoted": strconv.Itoa(len(promoted)),
	})
	writeJSON(w, http.StatusOK, promoteResponse{EventID: id, Promoted: toAttendees(promoted)})
}
