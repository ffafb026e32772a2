package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
)

type analyticsSource struct{ s *Store }

func (a analyticsSource) EventFacts(_ context.Context, eventID string, since time.Time) (analytics.EventFacts, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	ev, ok := a.s.events[eventID]
	if !ok {
		return analytics.EventFacts{}, events.ErrNotFound
	}
	facts := analytics.EventFacts{
		EventID:     ev.ID,
		OrganizerID: ev.OrganizerID,
		Capacity:    ev.Capacity,
		Price:       ev.Price,
	}
	perDay := map[string]int{}
	for _, rec := range a.s.records {
		if rec.EventID != eventID {
			continue
		}
		if rec.Status != registrations.StatusCancelled {
			facts.Active++
		}
		switch rec.Status {
		case registrations.StatusCheckedIn:
			facts.CheckedIn++
		case registrations.StatusWaitlisted:
			facts.Waitlisted++
		}
		if !rec.RegisteredAt.Before(since) {
			perDay[rec.RegisteredAt.UTC().Format(time.DateOnly)]++
		}
	}
	for day, n := range perDay {
		facts.Trend = append(facts.Trend, analytics.DayCount{Date: day, Count: n})
	}
	sort.Slice(facts.Trend, func(i, j int) bool { return facts.Trend[i].Date < facts.Trend[j].Date })
	return facts, nil
}

const (
	topEventsLimit = 5
	recentLimit    = 10
)

func (a analyticsSource) DashboardFacts(_ context.Context, filter analytics.DashboardFilter) (analytics.DashboardFacts, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	facts := analytics.DashboardFacts{ByStatus: map[string]int{}}
	included := map[string]events.Event{}
	for _, ev := range a.s.events {
		if filter.StartDate != nil && ev.StartsAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && ev.EndsAt.After(*filter.EndDate) {
			continue
		}
		included[ev.ID] = ev
		facts.TotalEvents++
		facts.ByStatus[string(ev.Status)]++
		if ev.Status == events.StatusPublished && ev.StartsAt.After(filter.Now) {
			facts.UpcomingEvents++
		}
	}

	active := map[string]int{}
	var recent []analytics.RecentRegistration
	for _, rec := range a.s.records {
		ev, ok := included[rec.EventID]
		if !ok {
			continue
		}
		if rec.Status != registrations.StatusCancelled {
			active[rec.EventID]++
			facts.TotalAttendees++
			facts.Revenue += ev.Price
		}
		recent = append(recent, analytics.RecentRegistration{
			ID:               rec.ID,
			Username:         a.s.users[rec.SubjectID].Username,
			EventTitle:       ev.Title,
			RegistrationDate: rec.RegisteredAt,
		})
	}

	for id, ev := range included {
		facts.Loads = append(facts.Loads, analytics.EventLoad{Capacity: ev.Capacity, Active: active[id]})
		if active[id] > 0 {
			facts.TopEvents = append(facts.TopEvents, analytics.TopEvent{ID: id, Title: ev.Title, AttendeeCount: active[id]})
		}
	}
	sort.Slice(facts.TopEvents, func(i, j int) bool {
		if facts.TopEvents[i].AttendeeCount != facts.TopEvents[j].AttendeeCount {
			return facts.TopEvents[i].AttendeeCount > facts.TopEvents[j].AttendeeCount
		}
		return facts.TopEvents[i].ID < facts.TopEvents[j].ID
	})
	if len(facts.TopEvents) > topEventsLimit {
		facts.TopEvents = facts.TopEvents[:topEventsLimit]
	}

	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].RegistrationDate.Equal(recent[j].RegistrationDate) {
			return recent[i].RegistrationDate.After(recent[j].RegistrationDate)
		}
		return recent[i].ID > recent[j].ID
	})
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	facts.Recent = recent
	return facts, nil
}

func (a analyticsSource) UserFacts(_ context.Context, since time.Time) (analytics.UserFacts, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	facts := analytics.UserFacts{ByRole: map[string]int{}}
	for _, u := range a.s.users {
		facts.Total++
		facts.ByRole[string(u.Role)]++
		if u.Active {
			facts.Active++
		}
		if !u.CreatedAt.Before(since) {
			facts.New++
		}
	}
	return facts, nil
}
