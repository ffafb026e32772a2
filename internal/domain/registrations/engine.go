package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/ids"
	"github.com/Togather-Foundation/attend/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	ticketAttempts = 5
)

// Engine enforces capacity and waitlist ordering for attendance records.
// Every mutating operation runs inside the store's per-event critical
// section, so operations on one event are linearizable.
type Engine struct {
	store     Store
	promoter  Promoter
	notifier  Notifier
	now       func() time.Time
	newID     func() (string, error)
	newTicket func() (string, error)
	logger    zerolog.Logger
	tracer    trace.Tracer
}

type Option func(*Engine)

// WithPromoter defers promotion after a confirmed cancellation to p.
// Without a promoter, promotion runs in the same critical section as the
// cancellation. Either way Register promotes a pending waitlist before it
// admits anyone new.
func WithPromoter(p Promoter) Option {
	return func(e *Engine) { e.promoter = p }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() (string, error)) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithTicketGenerator(fn func() (string, error)) Option {
	return func(e *Engine) { e.newTicket = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With().Str("component", "registrations").Logger() }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		notifier:  Notifiers(nil),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     ids.NewULID,
		newTicket: ids.NewTicketNumber,
		logger:    zerolog.Nop(),
		tracer:    telemetry.GetTracer("github.com/Togather-Foundation/attend/internal/domain/registrations"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register admits subjectID to eventID, either confirmed or at the tail of
// the waitlist. A cancelled record for the same pair is reused.
func (e *Engine) Register(ctx context.Context, eventID, subjectID string) (result Result, err error) {
	ctx, span := e.start(ctx, "Register", attribute.String("event.id", eventID))
	defer func() { endSpan(span, err) }()

	var caughtUp []Record
	err = e.store.WithEvent(ctx, eventID, func(ctx context.Context, tx EventTx) error {
		ev := tx.Event()
		if !ev.Open() {
			return &Error{Kind: KindInvalidTransition, Op: "register", Detail: fmt.Sprintf("event is %s, not open for registration", ev.Status)}
		}

		existing, err := tx.FindBySubject(ctx, subjectID)
		found := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if found && existing.Status != StatusCancelled {
			return &Error{Kind: KindDuplicate, Op: "register", Detail: "subject is already registered for this event"}
		}

		confirmed, err := tx.CountConfirmed(ctx)
		if err != nil {
			return err
		}
		// A seat freed by a cancellation whose promotion has not run yet
		// belongs to the head of the waitlist, not to this subject.
		if ev.Unlimited() || confirmed < ev.Capacity {
			if caughtUp, err = e.promoteLocked(ctx, tx); err != nil {
				return err
			}
			confirmed += len(caughtUp)
		}
		maxPosition := 0
		if !ev.Unlimited() && confirmed >= ev.Capacity {
			if maxPosition, err = tx.MaxWaitlistPosition(ctx); err != nil {
				return err
			}
		}

		status, position, err := admit(ev, confirmed, maxPosition)
		if err != nil {
			return err
		}

		now := e.now()
		rec := existing
		if !found {
			if rec.ID, err = e.newID(); err != nil {
				return fmt.Errorf("generate record id: %w", err)
			}
			rec.EventID = eventID
			rec.SubjectID = subjectID
		}
		rec.Status = status
		rec.WaitlistPosition = position
		rec.RegisteredAt = now
		rec.CheckedInAt = nil
		rec.UpdatedAt = now

		if found {
			err = tx.UpdateRecord(ctx, rec)
		} else {
			err = e.insertWithTicket(ctx, tx, &rec)
		}
		if err != nil {
			return err
		}

		result = Result{Record: rec, Outcome: OutcomeConfirmed, Position: position}
		if status == StatusWaitlisted {
			result.Outcome = OutcomeWaitlisted
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.notifyPromoted(ctx, caughtUp)
	if result.Outcome == OutcomeWaitlisted {
		e.notifier.Notify(ctx, noticeFor(result.Record, NoticeWaitlisted))
	} else {
		e.notifier.Notify(ctx, noticeFor(result.Record, NoticeConfirmed))
	}
	e.logger.Debug().
		Str("event_id", eventID).
		Str("record_id", result.Record.ID).
		Str("outcome", string(result.Outcome)).
		Msg("registration admitted")
	return result, nil
}

// CheckIn marks a registered record as attended.
func (e *Engine) CheckIn(ctx context.Context, recordID string) (rec Record, err error) {
	ctx, span := e.start(ctx, "CheckIn", attribute.String("record.id", recordID))
	defer func() { endSpan(span, err) }()

	rec, err = e.mutate(ctx, recordID, func(ctx context.Context, tx EventTx, cur Record) (Record, error) {
		if !cur.Status.CanTransition(StatusCheckedIn) {
			return Record{}, invalidTransition("check in", cur.Status, StatusCheckedIn)
		}
		now := e.now()
		cur.Status = StatusCheckedIn
		cur.CheckedInAt = &now
		cur.UpdatedAt = now
		return cur, tx.UpdateRecord(ctx, cur)
	})
	if err != nil {
		return Record{}, err
	}
	e.notifier.Notify(ctx, noticeFor(rec, NoticeCheckedIn))
	return rec, nil
}

// Cancel withdraws a registered or waitlisted record. Cancelling a
// waitlisted record closes the gap in the waitlist; cancelling a confirmed
// one frees a seat for the head of the waitlist.
func (e *Engine) Cancel(ctx context.Context, recordID string) (result CancelResult, err error) {
	ctx, span := e.start(ctx, "Cancel", attribute.String("record.id", recordID))
	defer func() { endSpan(span, err) }()

	var freedSeat bool
	result.Record, err = e.mutate(ctx, recordID, func(ctx context.Context, tx EventTx, cur Record) (Record, error) {
		if !cur.Status.CanTransition(StatusCancelled) {
			return Record{}, invalidTransition("cancel", cur.Status, StatusCancelled)
		}
		wasWaitlisted := cur.Status == StatusWaitlisted
		cur.Status = StatusCancelled
		cur.WaitlistPosition = nil
		cur.UpdatedAt = e.now()
		if err := tx.UpdateRecord(ctx, cur); err != nil {
			return Record{}, err
		}

		if wasWaitlisted {
			waitlist, err := tx.ListWaitlisted(ctx)
			if err != nil {
				return Record{}, err
			}
			updates := renumber(without(waitlist, cur.ID))
			if len(updates) > 0 {
				if err := tx.UpdateWaitlistPositions(ctx, updates); err != nil {
					return Record{}, err
				}
			}
			return cur, nil
		}

		freedSeat = true
		if e.promoter == nil {
			promoted, err := e.promoteLocked(ctx, tx)
			if err != nil {
				return Record{}, err
			}
			result.Promoted = promoted
		}
		return cur, nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	e.notifier.Notify(ctx, noticeFor(result.Record, NoticeCancelled))
	e.notifyPromoted(ctx, result.Promoted)

	if freedSeat && e.promoter != nil {
		e.deferPromotion(ctx, result.Record.EventID)
	}
	return result, nil
}

// PromoteWaitlist moves as many waitlisted records to registered as the
// event's free capacity allows, in position order. Running it again with
// nothing to promote changes nothing.
func (e *Engine) PromoteWaitlist(ctx context.Context, eventID string) (promoted []Record, err error) {
	ctx, span := e.start(ctx, "PromoteWaitlist", attribute.String("event.id", eventID))
	defer func() { endSpan(span, err) }()

	err = e.store.WithEvent(ctx, eventID, func(ctx context.Context, tx EventTx) error {
		var err error
		promoted, err = e.promoteLocked(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notifyPromoted(ctx, promoted)
	return promoted, nil
}

// ChangeCapacity sets a new capacity for eventID and promotes into any seats
// it frees. A bounded capacity below the confirmed count is rejected.
func (e *Engine) ChangeCapacity(ctx context.Context, eventID string, capacity int) (promoted []Record, err error) {
	ctx, span := e.start(ctx, "ChangeCapacity", attribute.String("event.id", eventID), attribute.Int("capacity", capacity))
	defer func() { endSpan(span, err) }()

	if capacity < 0 {
		return nil, ValidationError{Field: "capacity", Message: "must not be negative"}
	}

	err = e.store.WithEvent(ctx, eventID, func(ctx context.Context, tx EventTx) error {
		if capacity > 0 {
			confirmed, err := tx.CountConfirmed(ctx)
			if err != nil {
				return err
			}
			if confirmed > capacity {
				return &Error{
					Kind:   KindCapacityExceeded,
					Op:     "change capacity",
					Detail: fmt.Sprintf("capacity %d is below the %d confirmed attendees", capacity, confirmed),
				}
			}
		}
		if err := tx.SetCapacity(ctx, capacity); err != nil {
			return err
		}
		var err error
		promoted, err = e.promoteLocked(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notifyPromoted(ctx, promoted)
	return promoted, nil
}

func (e *Engine) Get(ctx context.Context, recordID string) (Record, error) {
	return e.store.GetRecord(ctx, recordID)
}

func (e *Engine) List(ctx context.Context, eventID string, filters ListFilters, page Pagination) (ListResult, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, ValidationError{Field: "status", Message: "unknown status"}
	}
	return e.store.ListRecords(ctx, eventID, filters, page.normalize())
}

func (e *Engine) ListBySubject(ctx context.Context, subjectID string, page Pagination) (ListResult, error) {
	return e.store.ListBySubject(ctx, subjectID, page.normalize())
}

// events that cannot take attendees anymore keep their waitlist frozen.
func promotable(ev EventState) bool {
	return ev.Status != "cancelled" && ev.Status != "completed"
}

func (e *Engine) promoteLocked(ctx context.Context, tx EventTx) ([]Record, error) {
	ev := tx.Event()
	if !promotable(ev) {
		return nil, nil
	}
	waitlist, err := tx.ListWaitlisted(ctx)
	if err != nil || len(waitlist) == 0 {
		return nil, err
	}
	confirmed, err := tx.CountConfirmed(ctx)
	if err != nil {
		return nil, err
	}

	plan := planPromotion(ev, confirmed, waitlist)
	now := e.now()
	promoted := make([]Record, 0, len(plan.promote))
	for _, rec := range plan.promote {
		rec.Status = StatusRegistered
		rec.WaitlistPosition = nil
		rec.RegisteredAt = now
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return nil, err
		}
		promoted = append(promoted, rec)
	}
	if len(plan.renumber) > 0 {
		if err := tx.UpdateWaitlistPositions(ctx, plan.renumber); err != nil {
			return nil, err
		}
	}
	return promoted, nil
}

// deferPromotion hands the event to the promoter. If that fails the
// promotion is attempted directly; a failure there is left to the sweep.
func (e *Engine) deferPromotion(ctx context.Context, eventID string) {
	submitErr := e.promoter.Submit(ctx, eventID)
	if submitErr == nil {
		return
	}
	e.logger.Warn().Err(submitErr).Str("event_id", eventID).Msg("promotion submit failed, promoting directly")
	if _, err := e.PromoteWaitlist(ctx, eventID); err != nil {
		e.logger.Error().Err(err).Str("event_id", eventID).Msg("direct promotion failed, leaving event to the sweep")
	}
}

// insertWithTicket issues a fresh ticket number for rec and inserts it,
// drawing again when the number is already taken.
func (e *Engine) insertWithTicket(ctx context.Context, tx EventTx, rec *Record) error {
	var err error
	for attempt := 0; attempt < ticketAttempts; attempt++ {
		if rec.TicketNumber, err = e.newTicket(); err != nil {
			return fmt.Errorf("generate ticket: %w", err)
		}
		if err = tx.InsertRecord(ctx, *rec); !errors.Is(err, ErrTicketTaken) {
			return err
		}
		e.logger.Warn().Str("event_id", rec.EventID).Msg("ticket number collision, drawing again")
	}
	return fmt.Errorf("insert record after %d ticket draws: %w", ticketAttempts, err)
}

func (e *Engine) notifyPromoted(ctx context.Context, promoted []Record) {
	for _, rec := range promoted {
		e.notifier.Notify(ctx, noticeFor(rec, NoticePromoted))
	}
	if len(promoted) > 0 {
		e.logger.Info().Str("event_id", promoted[0].EventID).Int("promoted", len(promoted)).Msg("waitlist promoted")
	}
}

type mutateFunc func(ctx context.Context, tx EventTx, cur Record) (Record, error)

// mutate locates a record's event, then re-reads and changes the record
// under that event's critical section.
func (e *Engine) mutate(ctx context.Context, recordID string, fn mutateFunc) (Record, error) {
	located, err := e.store.GetRecord(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	var out Record
	err = e.store.WithEvent(ctx, located.EventID, func(ctx context.Context, tx EventTx) error {
		cur, err := tx.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		out, err = fn(ctx, tx, cur)
		return err
	})
	return out, err
}

func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "registrations."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}
