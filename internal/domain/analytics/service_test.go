package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	event     EventFacts
	dashboard DashboardFacts
	users     UserFacts
	since     time.Time
}

func (s *stubSource) EventFacts(_ context.Context, _ string, since time.Time) (EventFacts, error) {
	s.since = since
	return s.event, nil
}

func (s *stubSource) DashboardFacts(context.Context, DashboardFilter) (DashboardFacts, error) {
	return s.dashboard, nil
}

func (s *stubSource) UserFacts(_ context.Context, since time.Time) (UserFacts, error) {
	s.since = since
	return s.users, nil
}

var (
	admin     = auth.Principal{UserID: "admin", Role: auth.RoleAdmin}
	organizer = auth.Principal{UserID: "org", Role: auth.RoleOrganizer}
	attendee  = auth.Principal{UserID: "att", Role: auth.RoleAttendee}
)

func TestEventReport(t *testing.T) {
	src := &stubSource{event: EventFacts{
		EventID: "e1", OrganizerID: "org", Capacity: 10, Price: 25,
		Active: 8, CheckedIn: 2, Waitlisted: 1,
		Trend: []DayCount{{Date: "2026-10-01", Count: 8}},
	}}
	svc := NewService(src)
	fixed := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	report, err := svc.Event(context.Background(), organizer, "e1")
	require.NoError(t, err)
	require.Equal(t, 8, report.TotalRegistrations)
	require.Equal(t, 2, report.TotalCheckIns)
	require.InDelta(t, 25.0, report.CheckInRate, 0.001)
	require.InDelta(t, 80.0, report.CapacityUtilization, 0.001)
	require.InDelta(t, 200.0, report.Revenue, 0.001)
	require.Equal(t, 1, report.WaitlistLength)
	require.Equal(t, fixed.Add(-TrendWindow), src.since)
}

func TestEventReportUnlimitedAndEmpty(t *testing.T) {
	svc := NewService(&stubSource{event: EventFacts{EventID: "e1", OrganizerID: "org"}})

	report, err := svc.Event(context.Background(), admin, "e1")
	require.NoError(t, err)
	require.Zero(t, report.CheckInRate)
	require.Zero(t, report.CapacityUtilization)
	require.NotNil(t, report.RegistrationTrend)
}

func TestEventReportPermissions(t *testing.T) {
	svc := NewService(&stubSource{event: EventFacts{EventID: "e1", OrganizerID: "someone-else"}})

	_, err := svc.Event(context.Background(), organizer, "e1")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Event(context.Background(), attendee, "e1")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestDashboard(t *testing.T) {
	svc := NewService(&stubSource{dashboard: DashboardFacts{
		TotalEvents:    3,
		TotalAttendees: 15,
		Revenue:        300,
		Loads:          []EventLoad{{Capacity: 10, Active: 5}, {Capacity: 20, Active: 20}, {Capacity: 0, Active: 7}},
		UpcomingEvents: 1,
		ByStatus:       map[string]int{"published": 2, "draft": 1},
	}})

	d, err := svc.Dashboard(context.Background(), admin, DashboardFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, d.TotalEvents)
	require.InDelta(t, 75.0, d.AverageAttendanceRate, 0.001)
	require.Equal(t, 0, d.EventsByStatus["cancelled"])
	require.Equal(t, 2, d.EventsByStatus["published"])
	require.NotNil(t, d.TopEvents)

	_, err = svc.Dashboard(context.Background(), organizer, DashboardFilter{})
	require.ErrorIs(t, err, ErrForbidden)
}

type blockingSource struct {
	stubSource
	calls   atomic.Int32
	release chan struct{}
}

func (s *blockingSource) DashboardFacts(context.Context, DashboardFilter) (DashboardFacts, error) {
	s.calls.Add(1)
	<-s.release
	return DashboardFacts{TotalEvents: 4}, nil
}

func TestDashboardSharesConcurrentAggregation(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	svc := NewService(src)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	results := make([]Dashboard, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := svc.Dashboard(context.Background(), admin, DashboardFilter{})
			require.NoError(t, err)
			results[i] = d
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	require.Equal(t, int32(1), src.calls.Load())
	for _, d := range results {
		require.Equal(t, 4, d.TotalEvents)
	}
}

func TestUserStats(t *testing.T) {
	src := &stubSource{users: UserFacts{Total: 5, Active: 4, New: 2, ByRole: map[string]int{"attendee": 4, "admin": 1}}}
	svc := NewService(src)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	stats, err := svc.Users(context.Background(), admin)
	require.NoError(t, err)
	require.Equal(t, UserStats{
		TotalUsers:        5,
		UsersByRole:       map[string]int{"admin": 1, "organizer": 0, "attendee": 4},
		ActiveUsers:       4,
		NewUsersThisMonth: 2,
	}, stats)
	require.Equal(t, now.Add(-NewUserWindow), src.since)

	for _, actor := range []auth.Principal{organizer, attendee} {
		_, err := svc.Users(context.Background(), actor)
		require.ErrorIs(t, err, ErrForbidden)
	}
}
