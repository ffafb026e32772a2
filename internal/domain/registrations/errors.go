package registrations

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures. The HTTP layer maps each kind to a status.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindDuplicate         Kind = "duplicate_registration"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindStoreUnavailable  Kind = "store_unavailable"
)

// Error is returned by the engine and by stores. Two errors match under
// errors.Is when their kinds are equal, so callers compare against the
// sentinels below.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrDuplicate         = &Error{Kind: KindDuplicate}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}
)

// ErrTicketTaken is returned by EventTx.InsertRecord when the record's
// ticket number is already issued. The transaction stays usable.
var ErrTicketTaken = errors.New("ticket number already issued")

// NotFound builds a not-found error for the named entity.
func NotFound(op, entity string) error {
	return &Error{Kind: KindNotFound, Op: op, Detail: entity + " not found"}
}

// Unavailable wraps a storage failure as a retryable error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindStoreUnavailable, Op: op, Detail: "store unavailable", Err: err}
}

func invalidTransition(op string, from, to Status) error {
	return &Error{
		Kind:   KindInvalidTransition,
		Op:     op,
		Detail: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// KindOf returns the kind of err, or the empty string for foreign errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
