package registrations

// admit decides where a new registrant lands given the event's current
// occupancy. maxPosition is the highest waitlist position in use (0 when
// the waitlist is empty).
func admit(ev EventState, confirmed, maxPosition int) (Status, *int, error) {
	if ev.Unlimited() || confirmed < ev.Capacity {
		return StatusRegistered, nil, nil
	}
	if !ev.WaitlistEnabled {
		return "", nil, &Error{Kind: KindCapacityExceeded, Op: "register", Detail: "event is at capacity"}
	}
	pos := maxPosition + 1
	return StatusWaitlisted, &pos, nil
}

// available returns how many waitlisted records may be promoted.
func available(ev EventState, confirmed, waitlisted int) int {
	if ev.Unlimited() {
		return waitlisted
	}
	free := ev.Capacity - confirmed
	if free < 0 {
		return 0
	}
	if free > waitlisted {
		return waitlisted
	}
	return free
}

type promotionPlan struct {
	promote  []Record
	renumber []PositionUpdate
}

// planPromotion takes the head of an ordered waitlist and renumbers the rest.
func planPromotion(ev EventState, confirmed int, waitlist []Record) promotionPlan {
	n := available(ev, confirmed, len(waitlist))
	return promotionPlan{
		promote:  waitlist[:n],
		renumber: renumber(waitlist[n:]),
	}
}

// renumber assigns dense positions 1..N to an ordered waitlist and returns
// only the records whose position changes. With dense input minus one
// removed entry this is the same as shifting every later position down by one.
func renumber(waitlist []Record) []PositionUpdate {
	var updates []PositionUpdate
	for i, rec := range waitlist {
		want := i + 1
		if rec.WaitlistPosition != nil && *rec.WaitlistPosition == want {
			continue
		}
		updates = append(updates, PositionUpdate{RecordID: rec.ID, Position: want})
	}
	return updates
}

func without(waitlist []Record, recordID string) []Record {
	out := make([]Record, 0, len(waitlist))
	for _, rec := range waitlist {
		if rec.ID != recordID {
			out = append(out, rec)
		}
	}
	return out
}
