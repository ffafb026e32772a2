package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/attend/internal/api"
	"github.com/Togather-Foundation/attend/internal/api/handlers"
	"github.com/Togather-Foundation/attend/internal/api/middleware"
	"github.com/Togather-Foundation/attend/internal/audit"
	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/Togather-Foundation/attend/internal/email"
	"github.com/Togather-Foundation/attend/internal/jobs"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/Togather-Foundation/attend/internal/realtime"
	"github.com/Togather-Foundation/attend/internal/storage"
	"github.com/Togather-Foundation/attend/internal/storage/memory"
	"github.com/Togather-Foundation/attend/internal/storage/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

// app is the wired server: storage, domain services, background workers
// and the HTTP handler.
type app struct {
	logger  zerolog.Logger
	store   storage.Repository
	pool    *pgxpool.Pool
	engine  *registrations.Engine
	sweeper *registrations.Sweeper
	users   *users.Service
	hub     *realtime.Hub
	limiter *middleware.RateLimiter
	river   *river.Client[pgx.Tx]
	mail    *email.Queue
	handler http.Handler

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.openStorage(ctx, cfg); err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(logger)
	notifiers := registrations.Notifiers{metrics.Notices{}, a.hub}

	var mailer *email.Mailer
	if cfg.Email.Enabled {
		sender, err := email.NewService(cfg.Email, cfg.Server.BaseURL, logger)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("email service: %w", err)
		}
		mailer = email.NewMailer(sender, a.store.Registrations(), a.store.Events(), a.store.Users())
	}

	// The River client and the engine depend on each other: workers call
	// the engine and the engine submits promotions to the queue.
	var queue *jobs.Queue
	opts := []registrations.Option{registrations.WithLogger(logger)}
	useRiver := a.pool != nil && cfg.Jobs.Enabled
	if useRiver {
		opts = append(opts, registrations.WithPromoter(registrations.PromoterFunc(func(ctx context.Context, eventID string) error {
			return queue.Submit(ctx, eventID)
		})))
		if mailer != nil {
			notifiers = append(notifiers, registrations.NotifierFunc(func(ctx context.Context, n registrations.Notice) {
				queue.Notify(ctx, n)
			}))
		}
	} else if mailer != nil {
		a.mail = email.NewQueue(mailer, 0, logger)
		notifiers = append(notifiers, a.mail)
	}
	opts = append(opts, registrations.WithNotifier(notifiers))

	a.engine = registrations.NewEngine(a.store.Registrations(), opts...)
	a.sweeper = registrations.NewSweeper(a.engine, a.store.Registrations(), logger)

	eventService := events.NewService(a.store.Events(), a.engine, logger)
	if useRiver {
		policy := jobs.NewRetryPolicy(cfg.Jobs)
		workers := jobs.NewWorkers(jobs.Deps{
			Engine:    a.engine,
			Sweeper:   a.sweeper,
			Mailer:    mailerOrNil(mailer),
			Events:    a.store.Events(),
			Attendees: a.engine,
		})
		hooks := []rivertype.Hook{metrics.NewRiverMetricsHook()}
		rc := jobs.NewClientConfig(cfg.Jobs, workers, newSlogLogger(cfg.Logging), hooks, jobs.NewPeriodicJobs(cfg.Jobs))
		client, err := jobs.NewClient(a.pool, rc)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("river client: %w", err)
		}
		a.river = client
		queue = jobs.NewQueue(client, policy, cfg.Jobs.ReminderLeadTime, logger)
		if mailer != nil {
			eventService.SetReminderScheduler(queue)
		}
	}

	tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.Issuer)
	a.users = users.NewService(a.store.Users(), tokens, logger)
	analyticsService := analytics.NewService(a.store.Analytics())

	health := handlers.NewHealthChecker(Version, GitCommit)
	health.AddCheck("storage", handlers.StorageCheck(a.store, cfg.Storage.Driver))
	if a.pool != nil {
		health.AddCheck("migrations", handlers.MigrationsCheck(a.pool))
		health.AddCheck("job_queue", handlers.JobQueueCheck(a.pool))
	}

	auditLogger := audit.NewLogger(logger)
	a.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.Environment)
	a.handler = api.NewRouter(api.Deps{
		Config:    cfg,
		Logger:    logger,
		Tokens:    tokens,
		Limiter:   a.limiter,
		Health:    health,
		Auth:      handlers.NewAuthHandler(a.users, auditLogger, cfg.Environment),
		Users:     handlers.NewUsersHandler(a.users, auditLogger, cfg.Environment),
		Events:    handlers.NewEventsHandler(eventService, a.engine, auditLogger, cfg.Environment),
		Attendees: handlers.NewAttendeesHandler(a.engine, eventService, auditLogger, cfg.Environment),
		Analytics: handlers.NewAnalyticsHandler(analyticsService, cfg.Environment),
		Realtime:  realtime.Handler(a.hub, cfg.CORS.AllowedOrigins, cfg.CORS.AllowAllOrigins),
		Build:     api.BuildInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate},
	})
	return a, nil
}

// mailerOrNil keeps a nil *email.Mailer from becoming a non-nil interface.
func mailerOrNil(m *email.Mailer) jobs.Mailer {
	if m == nil {
		return nil
	}
	return m
}

func (a *app) openStorage(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Driver {
	case "memory":
		a.logger.Warn().Msg("using in-memory storage; data is lost on restart")
		a.store = memory.New()
		return nil
	case "postgres", "":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	store, err := postgres.NewStore(pool)
	if err != nil {
		pool.Close()
		return err
	}
	if cfg.Jobs.Enabled {
		if err := postgres.MigrateRiver(ctx, pool); err != nil {
			store.Close()
			return err
		}
	}
	if err := metrics.RegisterPool(pool); err != nil {
		a.logger.Warn().Err(err).Msg("database pool metrics not registered")
	}
	a.store = store
	a.pool = pool
	return nil
}

func (a *app) bootstrapAdmin(ctx context.Context, cfg config.Config) {
	b := cfg.AdminBootstrap
	if b.Username == "" || b.Password == "" || b.Email == "" {
		a.logger.Warn().Msg("admin bootstrap env vars not fully set; skipping")
		return
	}
	user, created, err := a.users.EnsureAdmin(ctx, b.Email, b.Username, b.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("admin bootstrap failed")
		return
	}
	if !created {
		return
	}
	// the email is PII; keep it out of production logs
	event := a.logger.Info().Str("user_id", user.ID).Str("username", user.Username)
	if cfg.Environment != "production" {
		event = event.Str("email", user.Email)
	}
	event.Msg("bootstrapped admin user")
}

// start launches the background work. Without River the sweeper runs on a
// ticker in this process.
func (a *app) start(ctx context.Context, cfg config.Config) error {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if a.mail != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mail.Run(bg)
		}()
	}

	if a.river != nil {
		if err := a.river.Start(bg); err != nil {
			return fmt.Errorf("river workers failed to start: %w", err)
		}
		a.logger.Info().Msg("river background job workers started")
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sweepLoop(bg, cfg.Jobs.SweepInterval)
	}()
	return nil
}

func (a *app) sweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.sweeper.Sweep(ctx)
			if err != nil {
				a.logger.Error().Err(err).Msg("waitlist sweep failed")
				continue
			}
			metrics.ObserveSweep(res)
		}
	}
}

// stop shuts the background work down and closes storage. It is safe to
// call more than once.
func (a *app) stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		if a.river != nil {
			if err := a.river.Stop(ctx); err != nil {
				a.logger.Error().Err(err).Msg("river workers shutdown error")
			} else {
				a.logger.Info().Msg("river workers stopped")
			}
		}
		if a.mail != nil {
			a.mail.Close()
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.hub.Close()
		a.limiter.Stop()
		a.store.Close()
	})
}

// newSlogLogger builds the slog logger River writes to, honouring the
// configured level.
func newSlogLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
