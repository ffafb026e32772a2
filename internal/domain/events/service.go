package events

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/ids"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/sanitize"
	"github.com/Togather-Foundation/attend/internal/validation"
	"github.com/rs/zerolog"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Summary is an event with its derived occupancy figures. The figures are
// computed on read and never stored.
type Summary struct {
	Event
	AttendeeCount  int  `json:"attendee_count"`
	WaitlistCount  int  `json:"waitlist_count"`
	AvailableSpots *int `json:"available_spots"`
}

func summarize(ev Event, occ Occupancy) Summary {
	s := Summary{Event: ev, AttendeeCount: occ.Confirmed, WaitlistCount: occ.Waitlisted}
	if ev.Capacity > 0 {
		free := ev.Capacity - occ.Confirmed
		if free < 0 {
			free = 0
		}
		s.AvailableSpots = &free
	}
	return s
}

// CapacityManager changes an event's capacity under its registration lock.
type CapacityManager interface {
	ChangeCapacity(ctx context.Context, eventID string, capacity int) ([]registrations.Record, error)
}

// ReminderScheduler arranges attendee reminders for a published event.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, ev Event) error
}

type Service struct {
	repo      Repository
	capacity  CapacityManager
	reminders ReminderScheduler
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(repo Repository, capacity CapacityManager, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		capacity: capacity,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// SetReminderScheduler enables reminders for events as they are published
// or rescheduled.
func (s *Service) SetReminderScheduler(r ReminderScheduler) {
	s.reminders = r
}

func (s *Service) scheduleReminder(ctx context.Context, ev Event) {
	if s.reminders == nil || ev.Status != StatusPublished {
		return
	}
	if err := s.reminders.ScheduleReminder(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to schedule event reminder")
	}
}

type CreateInput struct {
	Title           string    `json:"title" validate:"required,max=255"`
	Description     string    `json:"description" validate:"max=10000"`
	Location        string    `json:"location" validate:"max=255"`
	Category        string    `json:"category" validate:"max=100"`
	StartsAt        time.Time `json:"start_date" validate:"required"`
	EndsAt          time.Time `json:"end_date" validate:"required"`
	Capacity        int       `json:"capacity" validate:"gte=0,lte=100000"`
	Price           float64   `json:"price" validate:"gte=0"`
	WaitlistEnabled *bool     `json:"waitlist_enabled"`
	Status          Status    `json:"status" validate:"omitempty,oneof=draft published"`
}

type UpdateInput struct {
	Title           *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description     *string    `json:"description" validate:"omitempty,max=10000"`
	Location        *string    `json:"location" validate:"omitempty,max=255"`
	Category        *string    `json:"category" validate:"omitempty,max=100"`
	StartsAt        *time.Time `json:"start_date"`
	EndsAt          *time.Time `json:"end_date"`
	Capacity        *int       `json:"capacity" validate:"omitempty,gte=0,lte=100000"`
	Price           *float64   `json:"price" validate:"omitempty,gte=0"`
	WaitlistEnabled *bool      `json:"waitlist_enabled"`
	Status          *Status    `json:"status" validate:"omitempty,oneof=draft published cancelled completed"`
}

func (s *Service) Create(ctx context.Context, actor auth.Principal, input CreateInput) (Summary, error) {
	if !actor.CanManageEvents() {
		return Summary{}, ErrForbidden
	}
	input.Title = sanitize.Line(input.Title)
	if err := validation.Struct(input); err != nil {
		return Summary{}, err
	}
	if input.EndsAt.Before(input.StartsAt) {
		return Summary{}, validation.Errors{{Field: "end_date", Message: "must not be before start_date"}}
	}

	id, err := ids.NewULID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate event id: %w", err)
	}
	now := s.now()
	ev := Event{
		ID:              id,
		Title:           input.Title,
		Description:     sanitize.Description(input.Description),
		Location:        sanitize.Line(input.Location),
		Category:        sanitize.Line(input.Category),
		StartsAt:        input.StartsAt.UTC(),
		EndsAt:          input.EndsAt.UTC(),
		Capacity:        input.Capacity,
		Price:           input.Price,
		WaitlistEnabled: true,
		Status:          StatusDraft,
		OrganizerID:     actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.WaitlistEnabled != nil {
		ev.WaitlistEnabled = *input.WaitlistEnabled
	}
	if input.Status != "" {
		ev.Status = input.Status
	}

	if err := s.repo.Create(ctx, ev); err != nil {
		return Summary{}, fmt.Errorf("create event: %w", err)
	}
	s.logger.Info().Str("event_id", ev.ID).Str("organizer_id", ev.OrganizerID).Msg("event created")
	s.scheduleReminder(ctx, ev)
	return summarize(ev, Occupancy{}), nil
}

// Get returns an event with its occupancy. Drafts are only visible to the
// organizer who owns them and to admins.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (Summary, error) {
	ev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if ev.Status == StatusDraft && !actor.Owns(ev.OrganizerID) {
		return Summary{}, ErrNotFound
	}
	return s.Summarize(ctx, *ev)
}

// List returns a page of events. Callers who cannot manage events only
// ever see published ones.
func (s *Service) List(ctx context.Context, actor auth.Principal, filters Filters, page Pagination) ([]Summary, int, error) {
	if !actor.CanManageEvents() {
		if filters.Status != "" && filters.Status != StatusPublished {
			return []Summary{}, 0, nil
		}
		filters.Status = StatusPublished
	}
	if filters.Now.IsZero() {
		filters.Now = s.now()
	}
	result, err := s.repo.List(ctx, filters, page)
	if err != nil {
		return nil, 0, err
	}

	eventIDs := make([]string, 0, len(result.Events))
	for _, ev := range result.Events {
		eventIDs = append(eventIDs, ev.ID)
	}
	occ, err := s.repo.Occupancy(ctx, eventIDs...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Summary, 0, len(result.Events))
	for _, ev := range result.Events {
		out = append(out, summarize(ev, occ[ev.ID]))
	}
	return out, result.Total, nil
}

// Update applies a partial change. A capacity change runs through the
// registration engine first so it is checked against the live confirmed
// count and promotes into any new seats.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, input UpdateInput) (Summary, error) {
	if err := validation.Struct(input); err != nil {
		return Summary{}, err
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if !actor.CanManageEvents() || !actor.Owns(current.OrganizerID) {
		return Summary{}, ErrForbidden
	}

	ev := *current
	if input.Title != nil {
		ev.Title = sanitize.Line(*input.Title)
		if ev.Title == "" {
			return Summary{}, validation.Errors{{Field: "title", Message: "is required"}}
		}
	}
	if input.Description != nil {
		ev.Description = sanitize.Description(*input.Description)
	}
	if input.Location != nil {
		ev.Location = sanitize.Line(*input.Location)
	}
	if input.Category != nil {
		ev.Category = sanitize.Line(*input.Category)
	}
	if input.StartsAt != nil {
		ev.StartsAt = input.StartsAt.UTC()
	}
	if input.EndsAt != nil {
		ev.EndsAt = input.EndsAt.UTC()
	}
	if ev.EndsAt.Before(ev.StartsAt) {
		return Summary{}, validation.Errors{{Field: "end_date", Message: "must not be before start_date"}}
	}
	if input.Price != nil {
		ev.Price = *input.Price
	}
	if input.WaitlistEnabled != nil {
		ev.WaitlistEnabled = *input.WaitlistEnabled
	}
	if input.Status != nil {
		if !CanTransition(current.Status, *input.Status) {
			return Summary{}, TransitionError{From: current.Status, To: *input.Status}
		}
		ev.Status = *input.Status
	}

	if input.Capacity != nil && *input.Capacity != current.Capacity {
		promoted, err := s.capacity.ChangeCapacity(ctx, id, *input.Capacity)
		if err != nil {
			return Summary{}, err
		}
		ev.Capacity = *input.Capacity
		if len(promoted) > 0 {
			s.logger.Info().Str("event_id", id).Int("promoted", len(promoted)).Msg("capacity increase promoted waitlist")
		}
	}

	ev.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, ev); err != nil {
		return Summary{}, fmt.Errorf("update event: %w", err)
	}
	if ev.Status != current.Status || !ev.StartsAt.Equal(current.StartsAt) {
		s.scheduleReminder(ctx, ev)
	}
	return s.Summarize(ctx, ev)
}

// Delete removes an event together with its attendance records.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanManageEvents() || !actor.Owns(current.OrganizerID) {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	s.logger.Info().Str("event_id", id).Msg("event deleted")
	return nil
}

// Authorize loads an event and checks that actor may manage it.
func (s *Service) Authorize(ctx context.Context, actor auth.Principal, id string) (*Event, error) {
	ev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageEvents() || !actor.Owns(ev.OrganizerID) {
		return nil, ErrForbidden
	}
	return ev, nil
}

func (s *Service) Summarize(ctx context.Context, ev Event) (Summary, error) {
	occ, err := s.repo.Occupancy(ctx, ev.ID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(ev, occ[ev.ID]), nil
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func ParseFilters(values url.Values) (Filters, Pagination, error) {
	filters := Filters{}
	pagination := Pagination{Limit: DefaultLimit}

	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status := Status(strings.ToLower(raw))
		if !status.Valid() {
			return filters, pagination, FilterError{Field: "status", Message: "must be one of draft, published, cancelled, completed"}
		}
		filters.Status = status
	}
	filters.Category = strings.TrimSpace(values.Get("category"))
	filters.Query = strings.TrimSpace(values.Get("search"))

	filters.OrganizerID = strings.TrimSpace(values.Get("organizer_id"))
	if filters.OrganizerID != "" {
		if err := ids.ValidateULID(filters.OrganizerID); err != nil {
			return filters, pagination, FilterError{Field: "organizer_id", Message: "invalid ULID"}
		}
	}

	if raw := strings.TrimSpace(values.Get("upcoming_only")); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, pagination, FilterError{Field: "upcoming_only", Message: "must be true or false"}
		}
		filters.UpcomingOnly = upcoming
	}

	skip, err := parseInt(values, "skip", 0, -1)
	if err != nil {
		return filters, pagination, err
	}
	pagination.Offset = skip

	limit, err := parseInt(values, "limit", 1, MaxLimit)
	if err != nil {
		return filters, pagination, err
	}
	if limit > 0 {
		pagination.Limit = limit
	}
	return filters, pagination, nil
}

// parseInt reads an optional integer in [min, max]; max < 0 means unbounded.
func parseInt(values url.Values, field string, min, max int) (int, error) {
	raw := strings.TrimSpace(values.Get(field))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || (max >= 0 && n > max) {
		msg := fmt.Sprintf("must be an integer >= %d", min)
		if max >= 0 {
			msg = fmt.Sprintf("must be between %d and %d", min, max)
		}
		return 0, FilterError{Field: field, Message: msg}
	}
	return n, nil
}
