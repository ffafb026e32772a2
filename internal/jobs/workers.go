package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/riverqueue/river"
)

// PromoteWaitlistArgs asks for the waitlist of one event to be promoted
// into any free seats.
type PromoteWaitlistArgs struct {
	EventID string `json:"event_id"`
}

func (PromoteWaitlistArgs) Kind() string { return JobKindPromoteWaitlist }

// WaitlistSweepArgs triggers a reconciliation pass over every event.
type WaitlistSweepArgs struct{}

func (WaitlistSweepArgs) Kind() string { return JobKindWaitlistSweep }

// EventReminderArgs identifies the event and the start time the reminder
// was scheduled for. A reminder whose start time no longer matches the
// event is stale and skipped.
type EventReminderArgs struct {
	EventID  string    `json:"event_id"`
	StartsAt time.Time `json:"starts_at"`
}

func (EventReminderArgs) Kind() string { return JobKindEventReminder }

// SendNoticeArgs carries one committed registration notice to the mailer.
type SendNoticeArgs struct {
	Notice registrations.Notice `json:"notice"`
}

func (SendNoticeArgs) Kind() string { return JobKindSendNotice }

// Promoter is the part of the registration engine the jobs need.
type Promoter interface {
	PromoteWaitlist(ctx context.Context, eventID string) ([]registrations.Record, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (registrations.SweepResult, error)
}

// Mailer sends attendee emails.
type Mailer interface {
	Deliver(ctx context.Context, notice registrations.Notice) error
	Remind(ctx context.Context, eventID, recordID string) error
}

// Attendees pages through an event's records.
type Attendees interface {
	List(ctx context.Context, eventID string, filters registrations.ListFilters, page registrations.Pagination) (registrations.ListResult, error)
}

type EventLookup interface {
	GetByID(ctx context.Context, id string) (*events.Event, error)
}

type PromoteWaitlistWorker struct {
	river.WorkerDefaults[PromoteWaitlistArgs]
	Engine Promoter
}

func (PromoteWaitlistWorker) Kind() string { return JobKindPromoteWaitlist }

func (w PromoteWaitlistWorker) Work(ctx context.Context, job *river.Job[PromoteWaitlistArgs]) error {
	if w.Engine == nil {
		return fmt.Errorf("registration engine not configured")
	}
	if job.Args.EventID == "" {
		return river.JobCancel(fmt.Errorf("event id is required"))
	}
	_, err := w.Engine.PromoteWaitlist(ctx, job.Args.EventID)
	if errors.Is(err, registrations.ErrNotFound) {
		return river.JobCancel(err)
	}
	return err
}

type WaitlistSweepWorker struct {
	river.WorkerDefaults[WaitlistSweepArgs]
	Sweeper Sweeper
}

func (WaitlistSweepWorker) Kind() string { return JobKindWaitlistSweep }

func (w WaitlistSweepWorker) Work(ctx context.Context, job *river.Job[WaitlistSweepArgs]) error {
	if w.Sweeper == nil {
		return fmt.Errorf("sweeper not configured")
	}
	res, err := w.Sweeper.Sweep(ctx)
	metrics.ObserveSweep(res)
	return err
}

// reminderPageSize bounds how many attendees are loaded per page.
const reminderPageSize = 100

type EventReminderWorker struct {
	river.WorkerDefaults[EventReminderArgs]
	Events    EventLookup
	Attendees Attendees
	Mailer    Mailer
	Now       func() time.Time
}

func (EventReminderWorker) Kind() string { return JobKindEventReminder }

func (w EventReminderWorker) Work(ctx context.Context, job *river.Job[EventReminderArgs]) error {
	if w.Events == nil || w.Attendees == nil || w.Mailer == nil {
		return fmt.Errorf("reminder dependencies not configured")
	}
	ev, err := w.Events.GetByID(ctx, job.Args.EventID)
	if errors.Is(err, events.ErrNotFound) {
		return river.JobCancel(err)
	}
	if err != nil {
		return err
	}
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	if ev.Status != events.StatusPublished || !ev.StartsAt.Equal(job.Args.StartsAt) || !ev.StartsAt.After(now) {
		return nil
	}

	// Every confirmed attendee is reminded, including early check-ins.
	var failed int
	var lastErr error
	for _, status := range []registrations.Status{registrations.StatusRegistered, registrations.StatusCheckedIn} {
		for offset := 0; ; offset += reminderPageSize {
			page, err := w.Attendees.List(ctx, ev.ID,
				registrations.ListFilters{Status: status},
				registrations.Pagination{Offset: offset, Limit: reminderPageSize})
			if err != nil {
				return err
			}
			for _, rec := range page.Records {
				if err := w.Mailer.Remind(ctx, ev.ID, rec.ID); err != nil {
					failed++
					lastErr = err
				}
			}
			if offset+len(page.Records) >= page.Total || len(page.Records) == 0 {
				break
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d reminder(s) failed, last error: %w", failed, lastErr)
	}
	return nil
}

type SendNoticeWorker struct {
	river.WorkerDefaults[SendNoticeArgs]
	Mailer Mailer
}

func (SendNoticeWorker) Kind() string { return JobKindSendNotice }

func (w SendNoticeWorker) Work(ctx context.Context, job *river.Job[SendNoticeArgs]) error {
	if w.Mailer == nil {
		return fmt.Errorf("mailer not configured")
	}
	err := w.Mailer.Deliver(ctx, job.Args.Notice)
	if errors.Is(err, registrations.ErrNotFound) || errors.Is(err, events.ErrNotFound) {
		return river.JobCancel(err)
	}
	return err
}

// Deps collects what the workers call into. Mailer, Events and Attendees
// may be nil, in which case the email workers are not registered.
type Deps struct {
	Engine    Promoter
	Sweeper   Sweeper
	Mailer    Mailer
	Events    EventLookup
	Attendees Attendees
}

func NewWorkers(deps Deps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[PromoteWaitlistArgs](workers, PromoteWaitlistWorker{Engine: deps.Engine})
	river.AddWorker[WaitlistSweepArgs](workers, WaitlistSweepWorker{Sweeper: deps.Sweeper})
	if deps.Mailer != nil {
		river.AddWorker[SendNoticeArgs](workers, SendNoticeWorker{Mailer: deps.Mailer})
		if deps.Events != nil && deps.Attendees != nil {
			river.AddWorker[EventReminderArgs](workers, EventReminderWorker{
				Events:    deps.Events,
				Attendees: deps.Attendees,
				Mailer:    deps.Mailer,
			})
		}
	}
	return workers
}
