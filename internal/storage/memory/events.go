package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
)

type eventRepo struct{ s *Store }

func (r eventRepo) Create(_ context.Context, ev events.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events[ev.ID] = ev
	return nil
}

func (r eventRepo) GetByID(_ context.Context, id string) (*events.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ev, ok := r.s.events[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return &ev, nil
}

func (r eventRepo) Update(_ context.Context, ev events.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.events[ev.ID]
	if !ok {
		return events.ErrNotFound
	}
	ev.Capacity = current.Capacity
	ev.CreatedAt = current.CreatedAt
	r.s.events[ev.ID] = ev
	return nil
}

// Delete takes the event's registration lock so it cannot interleave with
// an engine operation on the same event.
func (r eventRepo) Delete(ctx context.Context, id string) error {
	unlock, err := r.s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[id]; !ok {
		return events.ErrNotFound
	}
	delete(r.s.events, id)
	for rid, rec := range r.s.records {
		if rec.EventID == id {
			delete(r.s.records, rid)
		}
	}
	return nil
}

func (r eventRepo) List(_ context.Context, filters events.Filters, page events.Pagination) (events.ListResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	query := strings.ToLower(filters.Query)
	var matched []events.Event
	for _, ev := range r.s.events {
		if filters.Status != "" && ev.Status != filters.Status {
			continue
		}
		if filters.Category != "" && !strings.EqualFold(ev.Category, filters.Category) {
			continue
		}
		if filters.OrganizerID != "" && ev.OrganizerID != filters.OrganizerID {
			continue
		}
		if filters.UpcomingOnly && !ev.StartsAt.After(filters.Now) {
			continue
		}
		if query != "" && !containsFold(query, ev.Title, ev.Description, ev.Location) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartsAt.Equal(matched[j].StartsAt) {
			return matched[i].StartsAt.Before(matched[j].StartsAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return events.ListResult{Events: paginate(matched, page.Offset, page.Limit), Total: len(matched)}, nil
}

func (r eventRepo) Occupancy(_ context.Context, ids ...string) (map[string]events.Occupancy, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]events.Occupancy, len(ids))
	for _, rec := range r.s.records {
		if !want[rec.EventID] {
			continue
		}
		occ := out[rec.EventID]
		switch {
		case rec.Status.Confirmed():
			occ.Confirmed++
		case rec.Status == registrations.StatusWaitlisted:
			occ.Waitlisted++
		}
		out[rec.EventID] = occ
	}
	return out, nil
}

func containsFold(lowerQuery string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lowerQuery) {
			return true
		}
	}
	return false
}
