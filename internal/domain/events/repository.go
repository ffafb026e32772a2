package events

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("event not found")

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type Event struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	Category        string    `json:"category"`
	StartsAt        time.Time `json:"start_date"`
	EndsAt          time.Time `json:"end_date"`
	Capacity        int       `json:"capacity"`
	Price           float64   `json:"price"`
	WaitlistEnabled bool      `json:"waitlist_enabled"`
	Status          Status    `json:"status"`
	OrganizerID     string    `json:"organizer_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Occupancy is the live attendee count of one event.
type Occupancy struct {
	Confirmed  int
	Waitlisted int
}

type Filters struct {
	Status       Status
	Category     string
	Query        string
	OrganizerID  string
	UpcomingOnly bool
	Now          time.Time
}

type Pagination struct {
	Offset int
	Limit  int
}

type ListResult struct {
	Events []Event
	Total  int
}

// Repository persists events. Update writes every column except capacity,
// which only changes through the registration engine.
type Repository interface {
	Create(ctx context.Context, event Event) error
	GetByID(ctx context.Context, id string) (*Event, error)
	Update(ctx context.Context, event Event) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error)
	Occupancy(ctx context.Context, ids ...string) (map[string]Occupancy, error)
}
