package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository struct {
	pool *pgxpool.Pool
}

const eventColumns = `id, title, description, location, category, start_date, end_date,
       capacity, price, waitlist_enabled, status, organizer_id, created_at, updated_at`

func (r *EventRepository) Create(ctx context.Context, ev events.Event) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("event_create", start, err) }(time.Now())

	_, err = r.pool.Exec(ctx, `
INSERT INTO events (id, title, description, location, category, start_date, end_date,
                    capacity, price, waitlist_enabled, status, organizer_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.Category, ev.StartsAt, ev.EndsAt,
		ev.Capacity, ev.Price, ev.WaitlistEnabled, string(ev.Status), nullString(ev.OrganizerID),
		ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (_ *events.Event, err error) {
	defer func(start time.Time) { metrics.RecordQuery("event_get", start, err) }(time.Now())

	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

// Update leaves capacity alone; it only changes under the event lock taken
// by the registration engine.
func (r *EventRepository) Update(ctx context.Context, ev events.Event) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("event_update", start, err) }(time.Now())

	tag, err := r.pool.Exec(ctx, `
UPDATE events
   SET title = $2, description = $3, location = $4, category = $5,
       start_date = $6, end_date = $7, price = $8, waitlist_enabled = $9,
       status = $10, organizer_id = $11, updated_at = $12
 WHERE id = $1`,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.Category, ev.StartsAt, ev.EndsAt,
		ev.Price, ev.WaitlistEnabled, string(ev.Status), nullString(ev.OrganizerID), ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

// Delete locks the event row first so it cannot interleave with a
// registration operation. Attendance records go with it via ON DELETE CASCADE.
func (r *EventRepository) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("event_delete", start, err) }(time.Now())

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return events.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock event: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	})
}

func (r *EventRepository) List(ctx context.Context, filters events.Filters, page events.Pagination) (_ events.ListResult, err error) {
	defer func(start time.Time) { metrics.RecordQuery("event_list", start, err) }(time.Now())

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.Status != "" {
		where = append(where, "status = "+arg(string(filters.Status)))
	}
	if filters.Category != "" {
		where = append(where, "lower(category) = lower("+arg(filters.Category)+")")
	}
	if filters.OrganizerID != "" {
		where = append(where, "organizer_id = "+arg(filters.OrganizerID))
	}
	if filters.UpcomingOnly {
		where = append(where, "start_date > "+arg(filters.Now))
	}
	if filters.Query != "" {
		p := arg("%" + escapeILIKEPattern(filters.Query) + "%")
		where = append(where, "(title ILIKE "+p+" OR description ILIKE "+p+" OR location ILIKE "+p+")")
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	filterArgs := len(args)

	query := `SELECT ` + eventColumns + `, count(*) OVER () FROM events` + cond + " ORDER BY start_date, id"
	if page.Limit > 0 {
		query += " LIMIT " + arg(page.Limit)
	}
	query += " OFFSET " + arg(page.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return events.ListResult{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	result := events.ListResult{Events: []events.Event{}}
	for rows.Next() {
		ev, total, err := scanEventWithTotal(rows)
		if err != nil {
			return events.ListResult{}, fmt.Errorf("scan event: %w", err)
		}
		result.Events = append(result.Events, ev)
		result.Total = total
	}
	if err := rows.Err(); err != nil {
		return events.ListResult{}, fmt.Errorf("iterate events: %w", err)
	}
	if len(result.Events) == 0 && page.Offset > 0 {
		// No rows carry the window count when the page is past the end.
		err := r.pool.QueryRow(ctx, `SELECT count(*) FROM events`+cond, args[:filterArgs]...).Scan(&result.Total)
		if err != nil {
			return events.ListResult{}, fmt.Errorf("count events: %w", err)
		}
	}
	return result, nil
}

func (r *EventRepository) Occupancy(ctx context.Context, ids ...string) (_ map[string]events.Occupancy, err error) {
	defer func(start time.Time) { metrics.RecordQuery("event_occupancy", start, err) }(time.Now())

	out := make(map[string]events.Occupancy, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
SELECT event_id,
       count(*) FILTER (WHERE status IN ('registered', 'checked_in')),
       count(*) FILTER (WHERE status = 'waitlisted')
  FROM attendees
 WHERE event_id = ANY($1)
 GROUP BY event_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("occupancy: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			occ events.Occupancy
		)
		if err := rows.Scan(&id, &occ.Confirmed, &occ.Waitlisted); err != nil {
			return nil, fmt.Errorf("scan occupancy: %w", err)
		}
		out[id] = occ
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occupancy: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (events.Event, error) {
	var (
		ev          events.Event
		status      string
		organizerID *string
	)
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Location, &ev.Category,
		&ev.StartsAt, &ev.EndsAt, &ev.Capacity, &ev.Price, &ev.WaitlistEnabled,
		&status, &organizerID, &ev.CreatedAt, &ev.UpdatedAt)
	ev.Status = events.Status(status)
	ev.OrganizerID = derefString(organizerID)
	return ev, err
}

func scanEventWithTotal(rows pgx.Rows) (events.Event, int, error) {
	var (
		ev          events.Event
		status      string
		organizerID *string
		total       int
	)
	err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Location, &ev.Category,
		&ev.StartsAt, &ev.EndsAt, &ev.Capacity, &ev.Price, &ev.WaitlistEnabled,
		&status, &organizerID, &ev.CreatedAt, &ev.UpdatedAt, &total)
	ev.Status = events.Status(status)
	ev.OrganizerID = derefString(organizerID)
	return ev, total, err
}
