package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	topEventsLimit = 5
	recentLimit    = 10
)

type AnalyticsSource struct {
	pool *pgxpool.Pool
}

var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

func (a *AnalyticsSource) EventFacts(ctx context.Context, eventID string, since time.Time) (facts analytics.EventFacts, err error) {
	defer func(start time.Time) { metrics.RecordQuery("analytics_event", start, err) }(time.Now())

	err = pgx.BeginTxFunc(ctx, a.pool, snapshotTx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT e.id, COALESCE(e.organizer_id, ''), e.capacity, e.price,
       count(a.id) FILTER (WHERE a.status <> 'cancelled'),
       count(a.id) FILTER (WHERE a.status = 'checked_in'),
       count(a.id) FILTER (WHERE a.status = 'waitlisted')
  FROM events e
  LEFT JOIN attendees a ON a.event_id = e.id
 WHERE e.id = $1
 GROUP BY e.id`, eventID).Scan(&facts.EventID, &facts.OrganizerID, &facts.Capacity, &facts.Price,
			&facts.Active, &facts.CheckedIn, &facts.Waitlisted)
		if errors.Is(err, pgx.ErrNoRows) {
			return events.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("event counts: %w", err)
		}

		rows, err := tx.Query(ctx, `
SELECT to_char(registration_date AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, count(*)
  FROM attendees
 WHERE event_id = $1 AND registration_date >= $2
 GROUP BY day
 ORDER BY day`, eventID, since)
		if err != nil {
			return fmt.Errorf("registration trend: %w", err)
		}
		facts.Trend, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.DayCount, error) {
			var d analytics.DayCount
			err := row.Scan(&d.Date, &d.Count)
			return d, err
		})
		if err != nil {
			return fmt.Errorf("registration trend: %w", err)
		}
		return nil
	})
	return facts, err
}

// includedEvents restricts the dashboard to events inside the optional
// date window; $1 and $2 are the window bounds.
const includedEvents = `
WITH included AS (
    SELECT id, title, capacity, price, status, start_date
      FROM events
     WHERE ($1::timestamptz IS NULL OR start_date >= $1)
       AND ($2::timestamptz IS NULL OR end_date <= $2)
)`

func (a *AnalyticsSource) DashboardFacts(ctx context.Context, filter analytics.DashboardFilter) (facts analytics.DashboardFacts, err error) {
	defer func(start time.Time) { metrics.RecordQuery("analytics_dashboard", start, err) }(time.Now())

	facts.ByStatus = map[string]int{}
	err = pgx.BeginTxFunc(ctx, a.pool, snapshotTx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, includedEvents+`
SELECT i.id, i.title, i.capacity, i.price, i.status,
       i.status = 'published' AND i.start_date > $3,
       count(a.id) FILTER (WHERE a.status <> 'cancelled')
  FROM included i
  LEFT JOIN attendees a ON a.event_id = i.id
 GROUP BY i.id, i.title, i.capacity, i.price, i.status, i.start_date`,
			filter.StartDate, filter.EndDate, filter.Now)
		if err != nil {
			return fmt.Errorf("dashboard events: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				top      analytics.TopEvent
				capacity int
				price    float64
				status   string
				upcoming bool
			)
			if err := rows.Scan(&top.ID, &top.Title, &capacity, &price, &status, &upcoming, &top.AttendeeCount); err != nil {
				return fmt.Errorf("scan dashboard event: %w", err)
			}
			facts.TotalEvents++
			facts.ByStatus[status]++
			if upcoming {
				facts.UpcomingEvents++
			}
			facts.TotalAttendees += top.AttendeeCount
			facts.Revenue += price * float64(top.AttendeeCount)
			facts.Loads = append(facts.Loads, analytics.EventLoad{Capacity: capacity, Active: top.AttendeeCount})
			if top.AttendeeCount > 0 {
				facts.TopEvents = append(facts.TopEvents, top)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate dashboard events: %w", err)
		}
		rows.Close()

		sort.Slice(facts.TopEvents, func(i, j int) bool {
			if facts.TopEvents[i].AttendeeCount != facts.TopEvents[j].AttendeeCount {
				return facts.TopEvents[i].AttendeeCount > facts.TopEvents[j].AttendeeCount
			}
			return facts.TopEvents[i].ID < facts.TopEvents[j].ID
		})
		if len(facts.TopEvents) > topEventsLimit {
			facts.TopEvents = facts.TopEvents[:topEventsLimit]
		}

		recent, err := tx.Query(ctx, includedEvents+`
SELECT a.id, COALESCE(u.username, ''), i.title, a.registration_date
  FROM attendees a
  JOIN included i ON i.id = a.event_id
  LEFT JOIN users u ON u.id = a.user_id
 ORDER BY a.registration_date DESC, a.id DESC
 LIMIT $3`, filter.StartDate, filter.EndDate, recentLimit)
		if err != nil {
			return fmt.Errorf("recent registrations: %w", err)
		}
		facts.Recent, err = pgx.CollectRows(recent, func(row pgx.CollectableRow) (analytics.RecentRegistration, error) {
			var r analytics.RecentRegistration
			err := row.Scan(&r.ID, &r.Username, &r.EventTitle, &r.RegistrationDate)
			return r, err
		})
		if err != nil {
			return fmt.Errorf("recent registrations: %w", err)
		}
		return nil
	})
	return facts, err
}

func (a *AnalyticsSource) UserFacts(ctx context.Context, since time.Time) (facts analytics.UserFacts, err error) {
	defer func(start time.Time) { metrics.RecordQuery("analytics_users", start, err) }(time.Now())

	rows, err := a.pool.Query(ctx, `
SELECT role,
       count(*),
       count(*) FILTER (WHERE is_active),
       count(*) FILTER (WHERE created_at >= $1)
  FROM users
 GROUP BY role`, since)
	if err != nil {
		return facts, fmt.Errorf("user counts: %w", err)
	}
	defer rows.Close()

	facts.ByRole = map[string]int{}
	for rows.Next() {
		var (
			role                string
			total, active, news int
		)
		if err := rows.Scan(&role, &total, &active, &news); err != nil {
			return facts, fmt.Errorf("scan user counts: %w", err)
		}
		facts.ByRole[role] = total
		facts.Total += total
		facts.Active += active
		facts.New += news
	}
	if err := rows.Err(); err != nil {
		return facts, fmt.Errorf("iterate user counts: %w", err)
	}
	return facts, nil
}
