package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg config.EmailConfig) *Service {
	t.Helper()
	svc, err := NewService(cfg, "https://events.example.org/", zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestNewServiceRejectsBadSender(t *testing.T) {
	_, err := NewService(config.EmailConfig{Enabled: true, From: "not-an-address"}, "", zerolog.Nop())
	require.Error(t, err)

	svc, err := NewService(config.EmailConfig{From: "not-an-address"}, "", zerolog.Nop())
	require.NoError(t, err, "sender is only checked when email is enabled")
	require.Nil(t, svc.resendClient)
}

func TestRenderTemplates(t *testing.T) {
	svc := newTestService(t, config.EmailConfig{})
	msg := Message{
		To:           "ada@example.org",
		Name:         "Ada <script>",
		EventTitle:   "GopherCon",
		EventID:      "01EVENT",
		RecordID:     "01RECORD",
		StartsAt:     time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC),
		Location:     "Hall A",
		TicketNumber: "TKT-0A1B2C3D",
		Position:     3,
	}

	body, err := svc.render(KindConfirmed, msg)
	require.NoError(t, err)
	require.Contains(t, body, "TKT-0A1B2C3D")
	require.Contains(t, body, "https://events.example.org/api/v1/attendees/01RECORD/ticket.png")
	require.Contains(t, body, "Hall A")
	require.Contains(t, body, "2026")
	require.NotContains(t, body, "<script>", "names are escaped")

	body, err = svc.render(KindWaitlisted, msg)
	require.NoError(t, err)
	require.Contains(t, body, "position <strong>3</strong>")

	for _, kind := range []Kind{KindPromoted, KindCancelled, KindReminder} {
		body, err := svc.render(kind, msg)
		require.NoError(t, err, kind)
		require.Contains(t, body, "GopherCon")
	}
}

func TestSendDisabledSkipsDelivery(t *testing.T) {
	svc := newTestService(t, config.EmailConfig{From: "no-reply@example.org"})
	err := svc.Send(context.Background(), KindConfirmed, Message{To: "ada@example.org", EventTitle: "x"})
	require.NoError(t, err)

	err = svc.Send(context.Background(), KindConfirmed, Message{To: "bad\r\nBcc: x@y.z"})
	require.Error(t, err)
	err = svc.Send(context.Background(), Kind("bogus"), Message{To: "ada@example.org"})
	require.Error(t, err)
}

type sentMail struct {
	kind Kind
	msg  Message
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, kind Kind, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind, msg})
	return f.err
}

func (f *fakeSender) all() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type fakeDirectory struct {
	rec  registrations.Record
	ev   events.Event
	user users.User
}

func (d fakeDirectory) GetRecord(_ context.Context, id string) (registrations.Record, error) {
	if id != d.rec.ID {
		return registrations.Record{}, registrations.ErrNotFound
	}
	return d.rec, nil
}

type eventDir struct{ fakeDirectory }

func (d eventDir) GetByID(_ context.Context, id string) (*events.Event, error) {
	if id != d.ev.ID {
		return nil, events.ErrNotFound
	}
	ev := d.ev
	return &ev, nil
}

type userDir struct{ fakeDirectory }

func (d userDir) GetByID(_ context.Context, id string) (*users.User, error) {
	if id != d.user.ID {
		return nil, users.ErrUserNotFound
	}
	u := d.user
	return &u, nil
}

func newTestMailer(sender Sender) *Mailer {
	dir := fakeDirectory{
		rec:  registrations.Record{ID: "r1", EventID: "e1", SubjectID: "u1", TicketNumber: "TKT-00000001"},
		ev:   events.Event{ID: "e1", Title: "Meetup", Location: "Library"},
		user: users.User{ID: "u1", Email: "ada@example.org", Username: "ada"},
	}
	return NewMailer(sender, dir, eventDir{dir}, userDir{dir})
}

func TestMailerDeliver(t *testing.T) {
	sender := &fakeSender{}
	mailer := newTestMailer(sender)
	ctx := context.Background()

	pos := 2
	require.NoError(t, mailer.Deliver(ctx, registrations.Notice{Type: registrations.NoticeWaitlisted, EventID: "e1", RecordID: "r1", Position: &pos}))
	require.NoError(t, mailer.Deliver(ctx, registrations.Notice{Type: registrations.NoticeCheckedIn, EventID: "e1", RecordID: "r1"}))
	require.NoError(t, mailer.Remind(ctx, "e1", "r1"))

	sent := sender.all()
	require.Len(t, sent, 2, "check-in has no email")
	require.Equal(t, KindWaitlisted, sent[0].kind)
	require.Equal(t, Message{
		To: "ada@example.org", Name: "ada", EventTitle: "Meetup", EventID: "e1", RecordID: "r1",
		Location: "Library", TicketNumber: "TKT-00000001", Position: 2,
	}, sent[0].msg)
	require.Equal(t, KindReminder, sent[1].kind)

	err := mailer.Deliver(ctx, registrations.Notice{Type: registrations.NoticePromoted, EventID: "e1", RecordID: "missing"})
	require.ErrorIs(t, err, registrations.ErrNotFound)
}

func TestQueueDrainsOnClose(t *testing.T) {
	sender := &fakeSender{err: errors.New("provider down")}
	q := NewQueue(newTestMailer(sender), 4, zerolog.Nop())
	go q.Run(context.Background())

	for i := 0; i < 3; i++ {
		q.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeConfirmed, EventID: "e1", RecordID: "r1"})
	}
	q.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeCheckedIn, EventID: "e1", RecordID: "r1"})
	q.Close()

	require.Len(t, sender.all(), 3, "failed deliveries are logged, not retried")
	require.ErrorIs(t, q.Enqueue(registrations.Notice{Type: registrations.NoticeConfirmed}), ErrQueueClosed)
	for _, m := range sender.all() {
		require.True(t, strings.HasPrefix(m.msg.TicketNumber, "TKT-"))
	}
}
