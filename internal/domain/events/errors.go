package events

import (
	"errors"
	"fmt"
)

var ErrForbidden = errors.New("not allowed to manage this event")

// TransitionError is returned when an update asks for a status the event
// cannot move to from its current one.
type TransitionError struct {
	From Status
	To   Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("event cannot move from %s to %s", e.From, e.To)
}

var transitions = map[Status][]Status{
	StatusDraft:     {StatusPublished, StatusCancelled},
	StatusPublished: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether an event may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
