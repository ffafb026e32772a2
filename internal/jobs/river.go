package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const (
	JobKindPromoteWaitlist = "promote_waitlist"
	JobKindWaitlistSweep   = "waitlist_sweep"
	JobKindEventReminder   = "event_reminder"
	JobKindSendNotice      = "send_notice"
)

const (
	PromotionMaxAttempts = 5
	SweepMaxAttempts     = 1
	ReminderMaxAttempts  = 3
	NoticeMaxAttempts    = 5
)

// QueueNotifications keeps email delivery from competing with promotions.
const QueueNotifications = "notifications"

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy builds the retry policy, taking attempt limits from cfg
// where they are set.
func NewRetryPolicy(cfg config.JobsConfig) *RetryPolicy {
	promotion := PromotionMaxAttempts
	if cfg.RetryPromotion > 0 {
		promotion = cfg.RetryPromotion
	}
	reminder := ReminderMaxAttempts
	if cfg.RetryReminder > 0 {
		reminder = cfg.RetryReminder
	}

	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: PromotionMaxAttempts,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindPromoteWaitlist: {
				MaxAttempts: promotion,
				BaseDelay:   2 * time.Second,
				MaxDelay:    2 * time.Minute,
			},
			JobKindWaitlistSweep: {
				MaxAttempts: SweepMaxAttempts,
			},
			JobKindEventReminder: {
				MaxAttempts: reminder,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    30 * time.Minute,
			},
			JobKindSendNotice: {
				MaxAttempts: NoticeMaxAttempts,
				BaseDelay:   30 * time.Second,
				MaxDelay:    1 * time.Hour,
			},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}
	return time.Now().Add(delay)
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: PromotionMaxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute}
	}
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}

// InsertOpts returns default insert options for a job kind.
func (p *RetryPolicy) InsertOpts(kind string) river.InsertOpts {
	opts := river.InsertOpts{MaxAttempts: p.configFor(kind).MaxAttempts}
	if kind == JobKindSendNotice {
		opts.Queue = QueueNotifications
	}
	return opts
}

// NewClientConfig builds a River client configuration with retry policy.
func NewClientConfig(cfg config.JobsConfig, workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob) *river.Config {
	maxWorkers := cfg.Workers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	policy := NewRetryPolicy(cfg)
	rc := &river.Config{
		Workers:      workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: periodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
			QueueNotifications: {MaxWorkers: 2},
		},
		Hooks: hooks,
	}
	if logger != nil {
		rc.Logger = logger
		rc.ErrorHandler = NewAlertingErrorHandler(logger, nil)
	}
	return rc
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, rc *river.Config) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), rc)
}

// NewInsertOnlyClient creates a client that can enqueue jobs but does not
// work them, for CLI commands.
func NewInsertOnlyClient(pool *pgxpool.Pool) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), &river.Config{})
}

// NewPeriodicJobs schedules the waitlist sweep.
func NewPeriodicJobs(cfg config.JobsConfig) []*river.PeriodicJob {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return WaitlistSweepArgs{}, &river.InsertOpts{MaxAttempts: SweepMaxAttempts}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
