package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Togather-Foundation/attend/internal/audit"
	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/skip2/go-qrcode"
)

const ticketSize = 256

// RegistrationEngine is implemented by registrations.Engine.
type RegistrationEngine interface {
	Register(ctx context.Context, eventID, subjectID string) (registrations.Result, error)
	CheckIn(ctx context.Context, recordID string) (registrations.Record, error)
	Cancel(ctx context.Context, recordID string) (registrations.CancelResult, error)
	Get(ctx context.Context, recordID string) (registrations.Record, error)
	List(ctx context.Context, eventID string, filters registrations.ListFilters, page registrations.Pagination) (registrations.ListResult, error)
	ListBySubject(ctx context.Context, subjectID string, page registrations.Pagination) (registrations.ListResult, error)
}

// EventAuthorizer checks that a caller manages or can see an event.
type EventAuthorizer interface {
	Authorize(ctx context.Context, actor auth.Principal, id string) (*events.Event, error)
	Get(ctx context.Context, actor auth.Principal, id string) (events.Summary, error)
}

type attendeeResponse struct {
	ID               string               `json:"id"`
	EventID          string               `json:"event_id"`
	UserID           string               `json:"user_id"`
	Status           registrations.Status `json:"status"`
	WaitlistPosition *int                 `json:"waitlist_position"`
	TicketNumber     string               `json:"ticket_number"`
	RegisteredAt     time.Time            `json:"registration_date"`
	CheckedInAt      *time.Time           `json:"check_in_date"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func toAttendee(rec registrations.Record) attendeeResponse {
	return attendeeResponse{
		ID:               rec.ID,
		EventID:          rec.EventID,
		UserID:           rec.SubjectID,
		Status:           rec.Status,
		WaitlistPosition: rec.WaitlistPosition,
		TicketNumber:     rec.TicketNumber,
		RegisteredAt:     rec.RegisteredAt,
		CheckedInAt:      rec.CheckedInAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func toAttendees(records []registrations.Record) []attendeeResponse {
	out := make([]attendeeResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAttendee(rec))
	}
	return out
}

type AttendeesHandler struct {
	engine RegistrationEngine
	events EventAuthorizer
	audit  *audit.Logger
	env    string
}

func NewAttendeesHandler(engine RegistrationEngine, eventAuth EventAuthorizer, auditLogger *audit.Logger, env string) *AttendeesHandler {
	return &AttendeesHandler{engine: engine, events: eventAuth, audit: auditLogger, env: env}
}

type registrationResponse struct {
	Status           registrations.Outcome `json:"status"`
	Message          string                `json:"message"`
	WaitlistPosition *int                  `json:"waitlist_position,omitempty"`
	Attendee         attendeeResponse      `json:"attendee"`
}

// Register handles POST /api/v1/events/{id}/register for the caller.
func (h *AttendeesHandler) Register(w http.ResponseWriter, r *http.Request) {
	eventID := pathParam(r, "id")
	result, err := h.engine.Register(r.Context(), eventID, principal(r).UserID)
	if err != nil {
		// Drafts stay hidden from callers who cannot see them.
		if registrations.KindOf(err) == registrations.KindInvalidTransition {
			if _, getErr := h.events.Get(r.Context(), principal(r), eventID); errors.Is(getErr, events.ErrNotFound) {
				err = getErr
			}
		}
		writeError(w, r, err, h.env)
		return
	}
	resp := registrationResponse{
		Status:           result.Outcome,
		Message:          "Registered for event successfully",
		WaitlistPosition: result.Position,
		Attendee:         toAttendee(result.Record),
	}
	if result.Outcome == registrations.OutcomeWaitlisted {
		resp.Message = "Event is full. Added to waitlist"
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListForEvent handles GET /api/v1/events/{id}/attendees.
func (h *AttendeesHandler) ListForEvent(w http.ResponseWriter, r *http.Request) {
	eventID := pathParam(r, "id")
	if _, err := h.events.Authorize(r.Context(), principal(r), eventID); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	filters, page, err := registrations.ParseListParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	result, err := h.engine.List(r.Context(), eventID, filters, page)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[attendeeResponse]{Items: toAttendees(result.Records), Total: result.Total, Skip: page.Offset, Limit: page.Limit})
}

// Mine handles GET /api/v1/attendees/me, newest first.
func (h *AttendeesHandler) Mine(w http.ResponseWriter, r *http.Request) {
	_, page, err := registrations.ParseListParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	result, err := h.engine.ListBySubject(r.Context(), principal(r).UserID, page)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[attendeeResponse]{Items: toAttendees(result.Records), Total: result.Total, Skip: page.Offset, Limit: page.Limit})
}

// CheckIn handles PUT /api/v1/attendees/{id}/check-in. Only managers of
// the record's event may check attendees in.
func (h *AttendeesHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rec, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	if _, err := h.events.Authorize(r.Context(), principal(r), rec.EventID); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	rec, err = h.engine.CheckIn(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	h.audit.LogFromRequest(r, "attendee.check_in", "attendee", id, audit.StatusSuccess, map[string]string{"event_id": rec.EventID})
	writeJSON(w, http.StatusOK, toAttendee(rec))
}

type cancelResponse struct {
	attendeeResponse
	Promoted []attendeeResponse `json:"promoted"`
}

// Cancel handles PUT /api/v1/attendees/{id}/cancel. The registrant and
// the event's managers may cancel.
func (h *AttendeesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.accessible(r, id); err != nil {
		writeError(w, r, err, h.env)
		return
	}
	result, err := h.engine.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	if result.Record.SubjectID != principal(r).UserID {
		h.audit.LogFromRequest(r, "attendee.cancel", "attendee", id, audit.StatusSuccess, map[string]string{"event_id": result.Record.EventID})
	}
	writeJSON(w, http.StatusOK, cancelResponse{attendeeResponse: toAttendee(result.Record), Promoted: toAttendees(result.Promoted)})
}

// Ticket handles GET /api/v1/attendees/{id}/ticket.png, a QR code of the
// ticket number.
func (h *AttendeesHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	rec, err := h.accessible(r, pathParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	png, err := qrcode.Encode(rec.TicketNumber, qrcode.Medium, ticketSize)
	if err != nil {
		writeError(w, r, err, h.env)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `inline; filename="`+rec.TicketNumber+`.png"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// accessible loads a record the caller owns or whose event they manage.
func (h *AttendeesHandler) accessible(r *http.Request, id string) (registrations.Record, error) {
	rec, err := h.engine.Get(r.Context(), id)
	if err != nil {
		return registrations.Record{}, err
	}
	actor := principal(r)
	if rec.SubjectID == actor.UserID {
		return rec, nil
	}
	if _, err := h.events.Authorize(r.Context(), actor, rec.EventID); err != nil {
		if errors.Is(err, events.ErrForbidden) {
			return registrations.Record{}, errForbidden
		}
		return registrations.Record{}, err
	}
	return rec, nil
}
