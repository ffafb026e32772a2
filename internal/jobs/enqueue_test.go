package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type insertCall struct {
	args river.JobArgs
	opts river.InsertOpts
}

type fakeInserter struct {
	calls []insertCall
	err   error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, insertCall{args: args, opts: *opts})
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{Kind: args.Kind()}}, nil
}

func newTestQueue(ins Inserter) *Queue {
	return NewQueue(ins, NewRetryPolicy(config.JobsConfig{}), 24*time.Hour, zerolog.Nop())
}

func TestQueueSubmitIsUniquePerEvent(t *testing.T) {
	ins := &fakeInserter{}
	q := newTestQueue(ins)
	require.NoError(t, q.Submit(context.Background(), "e1"))

	require.Len(t, ins.calls, 1)
	require.Equal(t, PromoteWaitlistArgs{EventID: "e1"}, ins.calls[0].args)
	opts := ins.calls[0].opts
	require.True(t, opts.UniqueOpts.ByArgs)
	require.Contains(t, opts.UniqueOpts.ByState, rivertype.JobStateAvailable)
	require.NotContains(t, opts.UniqueOpts.ByState, rivertype.JobStateCompleted, "a finished promotion must not block the next one")
	require.Equal(t, PromotionMaxAttempts, opts.MaxAttempts)

	ins.err = errors.New("queue down")
	require.Error(t, q.Submit(context.Background(), "e1"))
}

func TestQueueNotifySkipsCheckIns(t *testing.T) {
	ins := &fakeInserter{}
	q := newTestQueue(ins)
	q.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeCheckedIn})
	q.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeConfirmed, EventID: "e1", RecordID: "r1"})

	require.Len(t, ins.calls, 1)
	require.Equal(t, JobKindSendNotice, ins.calls[0].args.Kind())
	require.Equal(t, QueueNotifications, ins.calls[0].opts.Queue)

	ins.err = errors.New("queue down")
	q.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeConfirmed})
}

func TestQueueScheduleReminder(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	ins := &fakeInserter{}
	q := newTestQueue(ins)
	q.now = func() time.Time { return now }

	far := events.Event{ID: "far", StartsAt: now.Add(72 * time.Hour)}
	soon := events.Event{ID: "soon", StartsAt: now.Add(2 * time.Hour)}
	past := events.Event{ID: "past", StartsAt: now.Add(-time.Hour)}
	for _, ev := range []events.Event{far, soon, past} {
		require.NoError(t, q.ScheduleReminder(context.Background(), ev))
	}

	require.Len(t, ins.calls, 2, "past events get no reminder")
	require.Equal(t, EventReminderArgs{EventID: "far", StartsAt: far.StartsAt}, ins.calls[0].args)
	require.Equal(t, now.Add(48*time.Hour), ins.calls[0].opts.ScheduledAt)
	require.True(t, ins.calls[1].opts.ScheduledAt.IsZero(), "inside the lead time reminders run immediately")
	require.True(t, ins.calls[1].opts.UniqueOpts.ByArgs)
}
