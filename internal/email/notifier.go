package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/rs/zerolog"
)

// Sender is the part of Service the notifier needs.
type Sender interface {
	Send(ctx context.Context, kind Kind, msg Message) error
}

type RecordLookup interface {
	GetRecord(ctx context.Context, recordID string) (registrations.Record, error)
}

type EventLookup interface {
	GetByID(ctx context.Context, id string) (*events.Event, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

var kindByNotice = map[registrations.NoticeType]Kind{
	registrations.NoticeConfirmed:  KindConfirmed,
	registrations.NoticeWaitlisted: KindWaitlisted,
	registrations.NoticePromoted:   KindPromoted,
	registrations.NoticeCancelled:  KindCancelled,
}

// Mailer turns registration notices into attendee emails.
type Mailer struct {
	sender  Sender
	records RecordLookup
	events  EventLookup
	users   UserLookup
}

func NewMailer(sender Sender, records RecordLookup, evs EventLookup, us UserLookup) *Mailer {
	return &Mailer{sender: sender, records: records, events: evs, users: us}
}

// Wants reports whether a notice produces an email.
func Wants(t registrations.NoticeType) bool {
	_, ok := kindByNotice[t]
	return ok
}

// Deliver sends the email for one notice. Notices without an email
// counterpart are ignored.
func (m *Mailer) Deliver(ctx context.Context, notice registrations.Notice) error {
	kind, ok := kindByNotice[notice.Type]
	if !ok {
		return nil
	}
	msg, err := m.message(ctx, notice.EventID, notice.RecordID)
	if err != nil {
		return err
	}
	if notice.Position != nil {
		msg.Position = *notice.Position
	}
	return m.sender.Send(ctx, kind, msg)
}

// Remind sends the reminder email for one attendance record.
func (m *Mailer) Remind(ctx context.Context, eventID, recordID string) error {
	msg, err := m.message(ctx, eventID, recordID)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, KindReminder, msg)
}

func (m *Mailer) message(ctx context.Context, eventID, recordID string) (Message, error) {
	rec, err := m.records.GetRecord(ctx, recordID)
	if err != nil {
		return Message{}, fmt.Errorf("load record %s: %w", recordID, err)
	}
	ev, err := m.events.GetByID(ctx, eventID)
	if err != nil {
		return Message{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	user, err := m.users.GetByID(ctx, rec.SubjectID)
	if err != nil {
		return Message{}, fmt.Errorf("load user %s: %w", rec.SubjectID, err)
	}

	name := user.FullName
	if name == "" {
		name = user.Username
	}
	return Message{
		To:           user.Email,
		Name:         name,
		EventTitle:   ev.Title,
		EventID:      ev.ID,
		RecordID:     rec.ID,
		StartsAt:     ev.StartsAt,
		Location:     ev.Location,
		TicketNumber: rec.TicketNumber,
	}, nil
}

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("email queue closed")

// Queue delivers notices in the background so the engine is never blocked
// by the mail provider. It is used when no durable job queue is available;
// notices still queued at shutdown are lost.
type Queue struct {
	mailer   *Mailer
	logger   zerolog.Logger
	timeout  time.Duration
	maxPause time.Duration

	mu     sync.Mutex
	closed bool
	ch     chan registrations.Notice
	done   chan struct{}
}

func NewQueue(mailer *Mailer, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		mailer:   mailer,
		logger:   logger.With().Str("component", "email_queue").Logger(),
		timeout:  30 * time.Second,
		maxPause: time.Minute,
		ch:       make(chan registrations.Notice, size),
		done:     make(chan struct{}),
	}
}

// Notify implements registrations.Notifier. A full queue drops the notice.
func (q *Queue) Notify(_ context.Context, notice registrations.Notice) {
	if !Wants(notice.Type) {
		return
	}
	if err := q.Enqueue(notice); err != nil {
		q.logger.Warn().Err(err).
			Str("event_id", notice.EventID).
			Str("record_id", notice.RecordID).
			Str("type", string(notice.Type)).
			Msg("dropping email notice")
	}
}

func (q *Queue) Enqueue(notice registrations.Notice) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- notice:
		return nil
	default:
		return errors.New("email queue full")
	}
}

// Run delivers queued notices until Close is called and the queue drains.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for notice := range q.ch {
		err := q.deliver(ctx, notice)
		var limited *RateLimitError
		if errors.As(err, &limited) {
			// Hold the whole queue until the provider accepts mail again,
			// then try this notice once more.
			time.Sleep(min(limited.RetryAfter, q.maxPause))
			err = q.deliver(ctx, notice)
		}
		if err != nil {
			q.logger.Error().Err(err).
				Str("event_id", notice.EventID).
				Str("record_id", notice.RecordID).
				Str("type", string(notice.Type)).
				Msg("email delivery failed")
		}
	}
}

func (q *Queue) deliver(ctx context.Context, notice registrations.Notice) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()
	return q.mailer.Deliver(sendCtx, notice)
}

// Close stops accepting notices and waits for Run to drain the queue.
// Run must have been started.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}
