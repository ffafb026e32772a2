package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegistrationStore serialises engine operations per event with a row
// lock on the event, held for the life of the transaction.
type RegistrationStore struct {
	pool *pgxpool.Pool
}

const ticketNumberConstraint = "attendees_ticket_number_key"

const recordColumns = `id, event_id, user_id, status, waitlist_position, ticket_number,
       registration_date, check_in_time, updated_at`

func (s *RegistrationStore) WithEvent(ctx context.Context, eventID string, fn func(context.Context, registrations.EventTx) error) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("with_event", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return registrations.Unavailable("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var state registrations.EventState
	err = tx.QueryRow(ctx, `
SELECT id, capacity, status, waitlist_enabled, price
  FROM events
 WHERE id = $1
   FOR UPDATE`, eventID).Scan(&state.ID, &state.Capacity, &state.Status, &state.WaitlistEnabled, &state.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return registrations.NotFound("lock event", "event")
	}
	if err != nil {
		return registrationErr("lock event", err)
	}

	if err = fn(ctx, &eventTx{tx: tx, state: state}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return registrationErr("commit", err)
	}
	return nil
}

func (s *RegistrationStore) GetRecord(ctx context.Context, recordID string) (registrations.Record, error) {
	return getRecord(ctx, s.pool, `SELECT `+recordColumns+` FROM attendees WHERE id = $1`, recordID)
}

func (s *RegistrationStore) ListRecords(ctx context.Context, eventID string, filters registrations.ListFilters, page registrations.Pagination) (_ registrations.ListResult, err error) {
	defer func(start time.Time) { metrics.RecordQuery("list_records", start, err) }(time.Now())

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return registrations.ListResult{}, registrationErr("list records", err)
	}
	if !exists {
		return registrations.ListResult{}, registrations.NotFound("list records", "event")
	}

	const cond = `
 WHERE event_id = $1
   AND ($2 = '' OR status = $2)
   AND ($3 = '' OR user_id = $3)`
	args := []any{eventID, string(filters.Status), filters.SubjectID}
	return listRecords(ctx, s.pool, cond, "registration_date, id", args, page)
}

func (s *RegistrationStore) ListBySubject(ctx context.Context, subjectID string, page registrations.Pagination) (_ registrations.ListResult, err error) {
	defer func(start time.Time) { metrics.RecordQuery("list_by_subject", start, err) }(time.Now())
	return listRecords(ctx, s.pool, ` WHERE user_id = $1`, "registration_date DESC, id", []any{subjectID}, page)
}

func (s *RegistrationStore) EventsNeedingPromotion(ctx context.Context, limit int) (_ []string, err error) {
	defer func(start time.Time) { metrics.RecordQuery("events_needing_promotion", start, err) }(time.Now())

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT e.id
  FROM events e
 WHERE e.status NOT IN ('cancelled', 'completed')
   AND EXISTS (SELECT 1 FROM attendees a WHERE a.event_id = e.id AND a.status = 'waitlisted')
   AND (e.capacity = 0 OR e.capacity > (
        SELECT count(*) FROM attendees a
         WHERE a.event_id = e.id AND a.status IN ('registered', 'checked_in')))
 ORDER BY e.id
 LIMIT $1`, lim)
	if err != nil {
		return nil, registrationErr("events needing promotion", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, registrationErr("events needing promotion", err)
	}
	return ids, nil
}

func listRecords(ctx context.Context, q queryer, cond, order string, args []any, page registrations.Pagination) (registrations.ListResult, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM attendees`+cond, args...).Scan(&total); err != nil {
		return registrations.ListResult{}, registrationErr("count records", err)
	}

	query := `SELECT ` + recordColumns + ` FROM attendees` + cond + ` ORDER BY ` + order
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, page.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	recs, err := queryRecords(ctx, q, query, args...)
	if err != nil {
		return registrations.ListResult{}, err
	}
	return registrations.ListResult{Records: recs, Total: total}, nil
}

func queryRecords(ctx context.Context, q queryer, query string, args ...any) ([]registrations.Record, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, registrationErr("query records", err)
	}
	defer rows.Close()

	out := []registrations.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, registrationErr("scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, registrationErr("iterate records", err)
	}
	return out, nil
}

func getRecord(ctx context.Context, q queryer, query string, args ...any) (registrations.Record, error) {
	rec, err := scanRecord(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return registrations.Record{}, registrations.NotFound("get record", "attendance record")
	}
	if err != nil {
		return registrations.Record{}, registrationErr("get record", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (registrations.Record, error) {
	var (
		rec    registrations.Record
		status string
	)
	err := row.Scan(&rec.ID, &rec.EventID, &rec.SubjectID, &status, &rec.WaitlistPosition,
		&rec.TicketNumber, &rec.RegisteredAt, &rec.CheckedInAt, &rec.UpdatedAt)
	rec.Status = registrations.Status(status)
	return rec, err
}

// eventTx is the engine's view of one locked event row.
type eventTx struct {
	tx    pgx.Tx
	state registrations.EventState
}

func (t *eventTx) Event() registrations.EventState { return t.state }

func (t *eventTx) CountConfirmed(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
SELECT count(*) FROM attendees
 WHERE event_id = $1 AND status IN ('registered', 'checked_in')`, t.state.ID).Scan(&n)
	return n, registrationErr("count confirmed", err)
}

func (t *eventTx) MaxWaitlistPosition(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
SELECT COALESCE(max(waitlist_position), 0) FROM attendees
 WHERE event_id = $1 AND status = 'waitlisted'`, t.state.ID).Scan(&n)
	return n, registrationErr("max waitlist position", err)
}

func (t *eventTx) FindBySubject(ctx context.Context, subjectID string) (registrations.Record, error) {
	return getRecord(ctx, t.tx, `SELECT `+recordColumns+` FROM attendees WHERE event_id = $1 AND user_id = $2`, t.state.ID, subjectID)
}

func (t *eventTx) GetRecord(ctx context.Context, recordID string) (registrations.Record, error) {
	return getRecord(ctx, t.tx, `SELECT `+recordColumns+` FROM attendees WHERE event_id = $1 AND id = $2`, t.state.ID, recordID)
}

func (t *eventTx) InsertRecord(ctx context.Context, rec registrations.Record) error {
	// A failed statement aborts the transaction, so the insert runs in a
	// savepoint and the per-subject conflict is absorbed by ON CONFLICT.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return registrationErr("insert record", err)
	}
	tag, err := sp.Exec(ctx, `
INSERT INTO attendees (id, event_id, user_id, status, waitlist_position, ticket_number,
                       registration_date, check_in_time, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (event_id, user_id) DO NOTHING`,
		rec.ID, t.state.ID, rec.SubjectID, string(rec.Status), rec.WaitlistPosition,
		rec.TicketNumber, rec.RegisteredAt, rec.CheckedInAt, rec.UpdatedAt)
	if err != nil {
		_ = sp.Rollback(ctx)
		if name, ok := uniqueViolation(err); ok && name == ticketNumberConstraint {
			return registrations.ErrTicketTaken
		}
		if foreignKeyViolation(err) {
			return registrations.NotFound("insert record", "user")
		}
		return registrationErr("insert record", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return registrationErr("insert record", err)
	}
	if tag.RowsAffected() == 0 {
		return &registrations.Error{Kind: registrations.KindDuplicate, Op: "insert record", Detail: "record already exists for subject"}
	}
	return nil
}

func (t *eventTx) UpdateRecord(ctx context.Context, rec registrations.Record) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE attendees
   SET status = $3, waitlist_position = $4, check_in_time = $5,
       registration_date = $6, updated_at = $7
 WHERE id = $1 AND event_id = $2`,
		rec.ID, t.state.ID, string(rec.Status), rec.WaitlistPosition, rec.CheckedInAt,
		rec.RegisteredAt, rec.UpdatedAt)
	if err != nil {
		return registrationErr("update record", err)
	}
	if tag.RowsAffected() == 0 {
		return registrations.NotFound("update record", "attendance record")
	}
	return nil
}

func (t *eventTx) ListWaitlisted(ctx context.Context) ([]registrations.Record, error) {
	return queryRecords(ctx, t.tx, `
SELECT `+recordColumns+` FROM attendees
 WHERE event_id = $1 AND status = 'waitlisted'
 ORDER BY waitlist_position, id`, t.state.ID)
}

func (t *eventTx) UpdateWaitlistPositions(ctx context.Context, updates []registrations.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	positions := make([]int32, len(updates))
	for i, u := range updates {
		ids[i] = u.RecordID
		positions[i] = int32(u.Position)
	}
	tag, err := t.tx.Exec(ctx, `
UPDATE attendees a
   SET waitlist_position = u.position, updated_at = now()
  FROM unnest($2::text[], $3::int[]) AS u(id, position)
 WHERE a.id = u.id AND a.event_id = $1 AND a.status = 'waitlisted'`,
		t.state.ID, ids, positions)
	if err != nil {
		return registrationErr("renumber waitlist", err)
	}
	if int(tag.RowsAffected()) != len(updates) {
		return registrations.NotFound("renumber waitlist", "waitlisted record")
	}
	return nil
}

func (t *eventTx) SetCapacity(ctx context.Context, capacity int) error {
	if _, err := t.tx.Exec(ctx, `UPDATE events SET capacity = $2, updated_at = now() WHERE id = $1`, t.state.ID, capacity); err != nil {
		return registrationErr("set capacity", err)
	}
	t.state.Capacity = capacity
	return nil
}
