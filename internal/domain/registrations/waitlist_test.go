package registrations

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func waitlisted(positions ...int) []Record {
	out := make([]Record, 0, len(positions))
	for i, p := range positions {
		p := p
		out = append(out, Record{ID: string(rune('a' + i)), Status: StatusWaitlisted, WaitlistPosition: &p})
	}
	return out
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name        string
		event       EventState
		confirmed   int
		maxPosition int
		wantStatus  Status
		wantPos     int
		wantErr     error
	}{
		{name: "free seat", event: EventState{Capacity: 2, WaitlistEnabled: true}, confirmed: 1, wantStatus: StatusRegistered},
		{name: "unlimited", event: EventState{Capacity: 0}, confirmed: 500, wantStatus: StatusRegistered},
		{name: "first on waitlist", event: EventState{Capacity: 2, WaitlistEnabled: true}, confirmed: 2, wantStatus: StatusWaitlisted, wantPos: 1},
		{name: "after max position", event: EventState{Capacity: 2, WaitlistEnabled: true}, confirmed: 2, maxPosition: 7, wantStatus: StatusWaitlisted, wantPos: 8},
		{name: "waitlist disabled", event: EventState{Capacity: 2}, confirmed: 2, wantErr: ErrCapacityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, pos, err := admit(tt.event, tt.confirmed, tt.maxPosition)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, status)
			if tt.wantPos == 0 {
				require.Nil(t, pos)
			} else {
				require.Equal(t, tt.wantPos, *pos)
			}
		})
	}
}

func TestPlanPromotion(t *testing.T) {
	tests := []struct {
		name         string
		capacity     int
		confirmed    int
		waitlist     []Record
		wantPromoted int
		wantRenumber []PositionUpdate
	}{
		{name: "no free seats", capacity: 2, confirmed: 2, waitlist: waitlisted(1, 2)},
		{name: "one seat", capacity: 2, confirmed: 1, waitlist: waitlisted(1, 2, 3), wantPromoted: 1,
			wantRenumber: []PositionUpdate{{RecordID: "b", Position: 1}, {RecordID: "c", Position: 2}}},
		{name: "more seats than waitlist", capacity: 10, confirmed: 1, waitlist: waitlisted(1, 2), wantPromoted: 2},
		{name: "unlimited promotes all", capacity: 0, confirmed: 40, waitlist: waitlisted(1, 2, 3), wantPromoted: 3},
		{name: "over capacity", capacity: 1, confirmed: 3, waitlist: waitlisted(1)},
		{name: "heals gaps", capacity: 1, confirmed: 1, waitlist: waitlisted(2, 5),
			wantRenumber: []PositionUpdate{{RecordID: "a", Position: 1}, {RecordID: "b", Position: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := planPromotion(EventState{Capacity: tt.capacity}, tt.confirmed, tt.waitlist)
			require.Len(t, plan.promote, tt.wantPromoted)
			for i, rec := range plan.promote {
				require.Equal(t, tt.waitlist[i].ID, rec.ID, "promotion must follow position order")
			}
			require.Equal(t, tt.wantRenumber, plan.renumber)
		})
	}
}

func TestRenumberAfterRemoval(t *testing.T) {
	list := waitlisted(1, 2, 3, 4)
	updates := renumber(without(list, "b"))
	require.Equal(t, []PositionUpdate{{RecordID: "c", Position: 2}, {RecordID: "d", Position: 3}}, updates)
	require.Empty(t, renumber(without(list, "d")))
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusRegistered: {StatusCheckedIn, StatusCancelled},
		StatusWaitlisted: {StatusRegistered, StatusCancelled},
	}
	all := []Status{StatusRegistered, StatusCheckedIn, StatusWaitlisted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			require.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	require.True(t, StatusCheckedIn.Confirmed())
	require.False(t, StatusWaitlisted.Confirmed())
}

func TestErrorMatching(t *testing.T) {
	err := Unavailable("count", errors.New("connection reset"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.True(t, Retryable(err))
	require.Contains(t, err.Error(), "connection reset")

	wrapped := Unavailable("again", NotFound("get", "event"))
	require.ErrorIs(t, wrapped, ErrNotFound, "typed errors pass through unchanged")
	require.False(t, Retryable(wrapped))
	require.Nil(t, Unavailable("noop", nil))

	dup := &Error{Kind: KindDuplicate, Op: "register", Detail: "already registered"}
	require.ErrorIs(t, dup, ErrDuplicate)
	require.NotErrorIs(t, dup, ErrNotFound)
	require.Equal(t, "register: already registered", dup.Error())
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestParseListParams(t *testing.T) {
	filters, page, err := ParseListParams(url.Values{})
	require.NoError(t, err)
	require.Empty(t, filters.Status)
	require.Equal(t, Pagination{Limit: DefaultLimit}, page)

	filters, page, err = ParseListParams(url.Values{"status": {"Waitlisted"}, "skip": {"40"}, "limit": {"100"}})
	require.NoError(t, err)
	require.Equal(t, StatusWaitlisted, filters.Status)
	require.Equal(t, Pagination{Offset: 40, Limit: 100}, page)

	for _, values := range []url.Values{
		{"status": {"gone"}},
		{"skip": {"-1"}},
		{"limit": {"0"}},
		{"limit": {"101"}},
		{"limit": {"ten"}},
	} {
		_, _, err := ParseListParams(values)
		var verr ValidationError
		require.ErrorAs(t, err, &verr, "%v", values)
	}
}
