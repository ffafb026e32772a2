package registrations

import "context"

// NoticeType names a committed change to an attendance record.
type NoticeType string

const (
	NoticeConfirmed  NoticeType = "registration.confirmed"
	NoticeWaitlisted NoticeType = "registration.waitlisted"
	NoticeCancelled  NoticeType = "registration.cancelled"
	NoticeCheckedIn  NoticeType = "registration.checked_in"
	NoticePromoted   NoticeType = "waitlist.promoted"
)

// Notice describes one committed change. Notices are emitted after the
// event's critical section has been released.
type Notice struct {
	Type      NoticeType `json:"type"`
	EventID   string     `json:"event_id"`
	RecordID  string     `json:"record_id"`
	SubjectID string     `json:"subject_id,omitempty"`
	Position  *int       `json:"position,omitempty"`
}

// Notifier receives notices. Implementations must not block for long;
// a slow notifier delays the response of the operation that produced it.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice Notice)

func (f NotifierFunc) Notify(ctx context.Context, notice Notice) { f(ctx, notice) }

// Notifiers fans a notice out to every member in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, notice Notice) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, notice)
		}
	}
}

func noticeFor(rec Record, typ NoticeType) Notice {
	return Notice{
		Type:      typ,
		EventID:   rec.EventID,
		RecordID:  rec.ID,
		SubjectID: rec.SubjectID,
		Position:  rec.WaitlistPosition,
	}
}
