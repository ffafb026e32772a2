package registrations

import (
	"context"
	"time"
)

// Status is the lifecycle state of an attendance record.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusCheckedIn  Status = "checked_in"
	StatusWaitlisted Status = "waitlisted"
	StatusCancelled  Status = "cancelled"
)

// Confirmed reports whether the status occupies a capacity slot.
func (s Status) Confirmed() bool {
	return s == StatusRegistered || s == StatusCheckedIn
}

func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusCheckedIn, StatusWaitlisted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from s to next.
// checked_in and cancelled are terminal; re-registration of a cancelled
// record goes through Register, not through a transition.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRegistered:
		return next == StatusCheckedIn || next == StatusCancelled
	case StatusWaitlisted:
		return next == StatusRegistered || next == StatusCancelled
	}
	return false
}

// EventPublished is the only event status that accepts registrations.
const EventPublished = "published"

// EventState is the slice of an event the engine needs while holding the
// event's critical section.
type EventState struct {
	ID              string
	Capacity        int // 0 means unlimited
	Status          string
	WaitlistEnabled bool
	Price           float64
}

// Open reports whether the event accepts new registrations.
func (e EventState) Open() bool {
	return e.Status == EventPublished
}

// Unlimited reports whether the event has no capacity bound.
func (e EventState) Unlimited() bool {
	return e.Capacity <= 0
}

// Record is one subject's attendance at one event.
type Record struct {
	ID               string
	EventID          string
	SubjectID        string
	Status           Status
	WaitlistPosition *int
	TicketNumber     string
	RegisteredAt     time.Time
	CheckedInAt      *time.Time
	UpdatedAt        time.Time
}

// Outcome tells a registrant whether they got a seat.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeWaitlisted Outcome = "waitlisted"
)

type Result struct {
	Record   Record
	Outcome  Outcome
	Position *int
}

type CancelResult struct {
	Record   Record
	Promoted []Record
}

type PositionUpdate struct {
	RecordID string
	Position int
}

type ListFilters struct {
	Status    Status
	SubjectID string
}

type Pagination struct {
	Offset int
	Limit  int
}

type ListResult struct {
	Records []Record
	Total   int
}

// Store gives the engine access to persisted records. WithEvent runs fn
// inside the event's critical section: writes made through tx become
// visible atomically when fn returns nil and are discarded otherwise.
type Store interface {
	WithEvent(ctx context.Context, eventID string, fn func(ctx context.Context, tx EventTx) error) error
	GetRecord(ctx context.Context, recordID string) (Record, error)
	ListRecords(ctx context.Context, eventID string, filters ListFilters, page Pagination) (ListResult, error)
	ListBySubject(ctx context.Context, subjectID string, page Pagination) (ListResult, error)
	EventsNeedingPromotion(ctx context.Context, limit int) ([]string, error)
}

// EventTx is the transactional view of a single locked event.
type EventTx interface {
	Event() EventState
	CountConfirmed(ctx context.Context) (int, error)
	MaxWaitlistPosition(ctx context.Context) (int, error)
	// FindBySubject returns the subject's record for this event, cancelled or not.
	FindBySubject(ctx context.Context, subjectID string) (Record, error)
	GetRecord(ctx context.Context, recordID string) (Record, error)
	InsertRecord(ctx context.Context, rec Record) error
	UpdateRecord(ctx context.Context, rec Record) error
	// ListWaitlisted returns waitlisted records ordered by ascending position.
	ListWaitlisted(ctx context.Context) ([]Record, error)
	UpdateWaitlistPositions(ctx context.Context, updates []PositionUpdate) error
	SetCapacity(ctx context.Context, capacity int) error
}

// Promoter schedules a waitlist promotion for an event outside the
// caller's critical section. Delivery is at-least-once.
type Promoter interface {
	Submit(ctx context.Context, eventID string) error
}

// PromoterFunc adapts a function to Promoter.
type PromoterFunc func(ctx context.Context, eventID string) error

func (f PromoterFunc) Submit(ctx context.Context, eventID string) error {
	return f(ctx, eventID)
}
