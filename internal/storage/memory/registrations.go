package memory

import (
	"context"
	"sort"

	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
)

type registrationStore struct{ s *Store }

func (r registrationStore) WithEvent(ctx context.Context, eventID string, fn func(context.Context, registrations.EventTx) error) error {
	unlock, err := r.s.locks.Lock(ctx, eventID)
	if err != nil {
		return registrations.Unavailable("lock event", err)
	}
	defer unlock()

	r.s.mu.RLock()
	ev, ok := r.s.events[eventID]
	r.s.mu.RUnlock()
	if !ok {
		return registrations.NotFound("lock event", "event")
	}

	tx := &eventTx{
		s:      r.s,
		state:  eventState(ev),
		staged: make(map[string]registrations.Record),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r registrationStore) GetRecord(_ context.Context, recordID string) (registrations.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.records[recordID]
	if !ok {
		return registrations.Record{}, registrations.NotFound("get record", "attendance record")
	}
	return cloneRecord(rec), nil
}

func (r registrationStore) ListRecords(_ context.Context, eventID string, filters registrations.ListFilters, page registrations.Pagination) (registrations.ListResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.events[eventID]; !ok {
		return registrations.ListResult{}, registrations.NotFound("list records", "event")
	}

	var matched []registrations.Record
	for _, rec := range r.s.records {
		if rec.EventID != eventID {
			continue
		}
		if filters.Status != "" && rec.Status != filters.Status {
			continue
		}
		if filters.SubjectID != "" && rec.SubjectID != filters.SubjectID {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	sortRecords(matched, false)
	return registrations.ListResult{Records: paginate(matched, page.Offset, page.Limit), Total: len(matched)}, nil
}

func (r registrationStore) ListBySubject(_ context.Context, subjectID string, page registrations.Pagination) (registrations.ListResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []registrations.Record
	for _, rec := range r.s.records {
		if rec.SubjectID == subjectID {
			matched = append(matched, cloneRecord(rec))
		}
	}
	sortRecords(matched, true)
	return registrations.ListResult{Records: paginate(matched, page.Offset, page.Limit), Total: len(matched)}, nil
}

func (r registrationStore) EventsNeedingPromotion(_ context.Context, limit int) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	confirmed := map[string]int{}
	waitlisted := map[string]int{}
	for _, rec := range r.s.records {
		switch {
		case rec.Status.Confirmed():
			confirmed[rec.EventID]++
		case rec.Status == registrations.StatusWaitlisted:
			waitlisted[rec.EventID]++
		}
	}

	var out []string
	for id, n := range waitlisted {
		ev, ok := r.s.events[id]
		if !ok || n == 0 || ev.Status == events.StatusCancelled || ev.Status == events.StatusCompleted {
			continue
		}
		if ev.Capacity <= 0 || confirmed[id] < ev.Capacity {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// eventTx buffers writes for one locked event. Reads see committed state
// overlaid with the buffer.
type eventTx struct {
	s        *Store
	state    registrations.EventState
	staged   map[string]registrations.Record
	capacity *int
}

func (tx *eventTx) Event() registrations.EventState { return tx.state }

// view returns every record of the event as the transaction sees it.
func (tx *eventTx) view() []registrations.Record {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	out := make([]registrations.Record, 0, len(tx.staged))
	for id, rec := range tx.s.records {
		if rec.EventID != tx.state.ID {
			continue
		}
		if _, ok := tx.staged[id]; ok {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	for _, rec := range tx.staged {
		out = append(out, cloneRecord(rec))
	}
	return out
}

func (tx *eventTx) CountConfirmed(context.Context) (int, error) {
	n := 0
	for _, rec := range tx.view() {
		if rec.Status.Confirmed() {
			n++
		}
	}
	return n, nil
}

func (tx *eventTx) MaxWaitlistPosition(context.Context) (int, error) {
	max := 0
	for _, rec := range tx.view() {
		if rec.Status == registrations.StatusWaitlisted && rec.WaitlistPosition != nil && *rec.WaitlistPosition > max {
			max = *rec.WaitlistPosition
		}
	}
	return max, nil
}

func (tx *eventTx) FindBySubject(_ context.Context, subjectID string) (registrations.Record, error) {
	for _, rec := range tx.view() {
		if rec.SubjectID == subjectID {
			return rec, nil
		}
	}
	return registrations.Record{}, registrations.NotFound("find record", "attendance record")
}

func (tx *eventTx) GetRecord(_ context.Context, recordID string) (registrations.Record, error) {
	if rec, ok := tx.staged[recordID]; ok {
		return cloneRecord(rec), nil
	}
	tx.s.mu.RLock()
	rec, ok := tx.s.records[recordID]
	tx.s.mu.RUnlock()
	if !ok || rec.EventID != tx.state.ID {
		return registrations.Record{}, registrations.NotFound("get record", "attendance record")
	}
	return cloneRecord(rec), nil
}

func (tx *eventTx) InsertRecord(ctx context.Context, rec registrations.Record) error {
	if _, err := tx.FindBySubject(ctx, rec.SubjectID); err == nil {
		return &registrations.Error{Kind: registrations.KindDuplicate, Op: "insert record", Detail: "record already exists for subject"}
	}
	if rec.TicketNumber != "" && tx.ticketIssued(rec.TicketNumber) {
		return registrations.ErrTicketTaken
	}
	tx.staged[rec.ID] = cloneRecord(rec)
	return nil
}

// ticketIssued reports whether any committed or staged record carries ticket.
func (tx *eventTx) ticketIssued(ticket string) bool {
	for _, rec := range tx.staged {
		if rec.TicketNumber == ticket {
			return true
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for _, rec := range tx.s.records {
		if rec.TicketNumber == ticket {
			return true
		}
	}
	return false
}

func (tx *eventTx) UpdateRecord(ctx context.Context, rec registrations.Record) error {
	if _, err := tx.GetRecord(ctx, rec.ID); err != nil {
		return err
	}
	tx.staged[rec.ID] = cloneRecord(rec)
	return nil
}

func (tx *eventTx) ListWaitlisted(context.Context) ([]registrations.Record, error) {
	var out []registrations.Record
	for _, rec := range tx.view() {
		if rec.Status == registrations.StatusWaitlisted {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return position(out[i]) < position(out[j])
	})
	return out, nil
}

func (tx *eventTx) UpdateWaitlistPositions(ctx context.Context, updates []registrations.PositionUpdate) error {
	for _, u := range updates {
		rec, err := tx.GetRecord(ctx, u.RecordID)
		if err != nil {
			return err
		}
		pos := u.Position
		rec.WaitlistPosition = &pos
		rec.UpdatedAt = tx.s.now()
		tx.staged[rec.ID] = rec
	}
	return nil
}

func (tx *eventTx) SetCapacity(_ context.Context, capacity int) error {
	tx.capacity = &capacity
	tx.state.Capacity = capacity
	return nil
}

func (tx *eventTx) commit() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for id, rec := range tx.staged {
		tx.s.records[id] = rec
	}
	if tx.capacity != nil {
		if ev, ok := tx.s.events[tx.state.ID]; ok {
			ev.Capacity = *tx.capacity
			tx.s.events[ev.ID] = ev
		}
	}
}

func eventState(ev events.Event) registrations.EventState {
	return registrations.EventState{
		ID:              ev.ID,
		Capacity:        ev.Capacity,
		Status:          string(ev.Status),
		WaitlistEnabled: ev.WaitlistEnabled,
		Price:           ev.Price,
	}
}

func position(rec registrations.Record) int {
	if rec.WaitlistPosition == nil {
		return 0
	}
	return *rec.WaitlistPosition
}

func sortRecords(recs []registrations.Record, newestFirst bool) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			if newestFirst {
				return a.RegisteredAt.After(b.RegisteredAt)
			}
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ID < b.ID
	})
}

func cloneRecord(rec registrations.Record) registrations.Record {
	if rec.WaitlistPosition != nil {
		pos := *rec.WaitlistPosition
		rec.WaitlistPosition = &pos
	}
	if rec.CheckedInAt != nil {
		at := *rec.CheckedInAt
		rec.CheckedInAt = &at
	}
	return rec
}
