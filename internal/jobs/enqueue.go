package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/email"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

// Inserter is satisfied by *river.Client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// pendingStates makes a promotion job unique while one is waiting or
// running for the same event. River requires these four at minimum.
var pendingStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// Queue enqueues registration work on River.
type Queue struct {
	client Inserter
	policy *RetryPolicy
	lead   time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewQueue(client Inserter, policy *RetryPolicy, reminderLead time.Duration, logger zerolog.Logger) *Queue {
	if reminderLead <= 0 {
		reminderLead = 24 * time.Hour
	}
	return &Queue{
		client: client,
		policy: policy,
		lead:   reminderLead,
		now:    time.Now,
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Submit implements registrations.Promoter.
func (q *Queue) Submit(ctx context.Context, eventID string) error {
	opts := q.policy.InsertOpts(JobKindPromoteWaitlist)
	opts.UniqueOpts = river.UniqueOpts{ByArgs: true, ByState: pendingStates}
	res, err := q.client.Insert(ctx, PromoteWaitlistArgs{EventID: eventID}, &opts)
	if err != nil {
		metrics.PromotionFallbacks.Inc()
		return fmt.Errorf("enqueue promotion for %s: %w", eventID, err)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		q.logger.Debug().Str("event_id", eventID).Msg("promotion already pending")
	}
	return nil
}

// Notify implements registrations.Notifier by queueing an email job.
// Insert failures are logged; the notice is not retried.
func (q *Queue) Notify(ctx context.Context, notice registrations.Notice) {
	if !email.Wants(notice.Type) {
		return
	}
	opts := q.policy.InsertOpts(JobKindSendNotice)
	if _, err := q.client.Insert(ctx, SendNoticeArgs{Notice: notice}, &opts); err != nil {
		q.logger.Warn().Err(err).
			Str("event_id", notice.EventID).
			Str("record_id", notice.RecordID).
			Str("type", string(notice.Type)).
			Msg("failed to enqueue notice email")
	}
}

// ScheduleReminder implements events.ReminderScheduler. The reminder runs
// the configured lead time before the event starts, or immediately when
// that moment has passed.
func (q *Queue) ScheduleReminder(ctx context.Context, ev events.Event) error {
	if !ev.StartsAt.After(q.now()) {
		return nil
	}
	opts := q.policy.InsertOpts(JobKindEventReminder)
	opts.UniqueOpts = river.UniqueOpts{ByArgs: true}
	if at := ev.StartsAt.Add(-q.lead); at.After(q.now()) {
		opts.ScheduledAt = at
	}
	_, err := q.client.Insert(ctx, EventReminderArgs{EventID: ev.ID, StartsAt: ev.StartsAt}, &opts)
	if err != nil {
		return fmt.Errorf("enqueue reminder for %s: %w", ev.ID, err)
	}
	return nil
}
