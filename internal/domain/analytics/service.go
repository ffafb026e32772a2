package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"golang.org/x/sync/singleflight"
)

var ErrForbidden = errors.New("not allowed to view analytics")

// TrendWindow is how far back the per-event registration trend reaches.
const TrendWindow = 30 * 24 * time.Hour

// NewUserWindow bounds the "new users this month" count.
const NewUserWindow = 30 * 24 * time.Hour

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// EventFacts are the raw counts a store reports for one event.
type EventFacts struct {
	EventID     string
	OrganizerID string
	Capacity    int
	Price       float64
	Active      int // every status except cancelled
	CheckedIn   int
	Waitlisted  int
	Trend       []DayCount
}

type EventLoad struct {
	Capacity int
	Active   int
}

type TopEvent struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	AttendeeCount int    `json:"attendee_count"`
}

type RecentRegistration struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	EventTitle       string    `json:"event_title"`
	RegistrationDate time.Time `json:"registration_date"`
}

type DashboardFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Now       time.Time
}

// DashboardFacts are the raw aggregates behind the admin dashboard.
type DashboardFacts struct {
	TotalEvents    int
	TotalAttendees int
	Revenue        float64
	Loads          []EventLoad
	UpcomingEvents int
	ByStatus       map[string]int
	TopEvents      []TopEvent
	Recent         []RecentRegistration
}

// UserFacts are account counts; New counts accounts created at or after
// the since time handed to the source.
type UserFacts struct {
	Total  int
	Active int
	New    int
	ByRole map[string]int
}

type Source interface {
	EventFacts(ctx context.Context, eventID string, since time.Time) (EventFacts, error)
	DashboardFacts(ctx context.Context, filter DashboardFilter) (DashboardFacts, error)
	UserFacts(ctx context.Context, since time.Time) (UserFacts, error)
}

type EventReport struct {
	EventID             string     `json:"event_id"`
	TotalRegistrations  int        `json:"total_registrations"`
	TotalCheckIns       int        `json:"total_check_ins"`
	CheckInRate         float64    `json:"check_in_rate"`
	WaitlistLength      int        `json:"waitlist_length"`
	Revenue             float64    `json:"revenue"`
	CapacityUtilization float64    `json:"capacity_utilization"`
	RegistrationTrend   []DayCount `json:"registration_trend"`
}

type Dashboard struct {
	TotalEvents           int                  `json:"total_events"`
	TotalAttendees        int                  `json:"total_attendees"`
	TotalRevenue          float64              `json:"total_revenue"`
	AverageAttendanceRate float64              `json:"average_attendance_rate"`
	UpcomingEvents        int                  `json:"upcoming_events"`
	EventsByStatus        map[string]int       `json:"events_by_status"`
	TopEvents             []TopEvent           `json:"top_events"`
	RecentRegistrations   []RecentRegistration `json:"recent_registrations"`
}

type UserStats struct {
	TotalUsers        int            `json:"total_users"`
	UsersByRole       map[string]int `json:"users_by_role"`
	ActiveUsers       int            `json:"active_users"`
	NewUsersThisMonth int            `json:"new_users_this_month"`
}

type Service struct {
	source Source
	now    func() time.Time
	group  singleflight.Group
}

func NewService(source Source) *Service {
	return &Service{source: source, now: func() time.Time { return time.Now().UTC() }}
}

// Event reports on a single event. Organizers may only see their own events.
func (s *Service) Event(ctx context.Context, actor auth.Principal, eventID string) (EventReport, error) {
	if !actor.CanManageEvents() {
		return EventReport{}, ErrForbidden
	}
	facts, err := s.source.EventFacts(ctx, eventID, s.now().Add(-TrendWindow))
	if err != nil {
		return EventReport{}, err
	}
	if !actor.Owns(facts.OrganizerID) {
		return EventReport{}, ErrForbidden
	}
	return buildEventReport(facts), nil
}

func (s *Service) Dashboard(ctx context.Context, actor auth.Principal, filter DashboardFilter) (Dashboard, error) {
	if !actor.IsAdmin() {
		return Dashboard{}, ErrForbidden
	}
	if filter.Now.IsZero() {
		filter.Now = s.now()
	}
	// Concurrent requests for the same window share one aggregation.
	v, err, _ := s.group.Do(dashboardKey(filter), func() (any, error) {
		facts, err := s.source.DashboardFacts(ctx, filter)
		if err != nil {
			return nil, err
		}
		return buildDashboard(facts), nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	return v.(Dashboard), nil
}

// Users reports account totals for admins.
func (s *Service) Users(ctx context.Context, actor auth.Principal) (UserStats, error) {
	if !actor.IsAdmin() {
		return UserStats{}, ErrForbidden
	}
	facts, err := s.source.UserFacts(ctx, s.now().Add(-NewUserWindow))
	if err != nil {
		return UserStats{}, err
	}
	stats := UserStats{
		TotalUsers:        facts.Total,
		UsersByRole:       map[string]int{string(auth.RoleAdmin): 0, string(auth.RoleOrganizer): 0, string(auth.RoleAttendee): 0},
		ActiveUsers:       facts.Active,
		NewUsersThisMonth: facts.New,
	}
	for role, n := range facts.ByRole {
		stats.UsersByRole[role] = n
	}
	return stats, nil
}

func dashboardKey(f DashboardFilter) string {
	day := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s", day(f.StartDate), day(f.EndDate), f.Now.UTC().Truncate(time.Minute).Format(time.RFC3339))
}

func buildEventReport(f EventFacts) EventReport {
	r := EventReport{
		EventID:            f.EventID,
		TotalRegistrations: f.Active,
		TotalCheckIns:      f.CheckedIn,
		WaitlistLength:     f.Waitlisted,
		Revenue:            float64(f.Active) * f.Price,
		RegistrationTrend:  f.Trend,
	}
	if r.RegistrationTrend == nil {
		r.RegistrationTrend = []DayCount{}
	}
	r.CheckInRate = percent(f.CheckedIn, f.Active)
	if f.Capacity > 0 {
		r.CapacityUtilization = percent(f.Active, f.Capacity)
	}
	return r
}

func buildDashboard(f DashboardFacts) Dashboard {
	d := Dashboard{
		TotalEvents:         f.TotalEvents,
		TotalAttendees:      f.TotalAttendees,
		TotalRevenue:        f.Revenue,
		UpcomingEvents:      f.UpcomingEvents,
		EventsByStatus:      map[string]int{"draft": 0, "published": 0, "cancelled": 0, "completed": 0},
		TopEvents:           f.TopEvents,
		RecentRegistrations: f.Recent,
	}
	for status, n := range f.ByStatus {
		d.EventsByStatus[status] = n
	}
	if d.TopEvents == nil {
		d.TopEvents = []TopEvent{}
	}
	if d.RecentRegistrations == nil {
		d.RecentRegistrations = []RecentRegistration{}
	}

	var total float64
	var bounded int
	for _, l := range f.Loads {
		if l.Capacity <= 0 {
			continue
		}
		total += float64(l.Active) / float64(l.Capacity)
		bounded++
	}
	if bounded > 0 {
		d.AverageAttendanceRate = total / float64(bounded) * 100
	}
	return d
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
