package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/Togather-Foundation/attend/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	host    string
	port    int
	storage string
}

func newServeCommand(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Attend HTTP server",
		Long: `Start the Attend HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Bootstrap the admin account if ADMIN_* env vars are set
- Start background workers for waitlist promotion, reminders and email
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Run without a database
  server serve --storage memory

  # Start with custom config file
  server serve --config /etc/attend/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			flags.apply(&cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, config.NewLogger(cfg.Logging))
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "server port (default: 8080)")
	cmd.Flags().StringVar(&flags.storage, "storage", "", "storage driver: postgres or memory (default: postgres)")
	return cmd
}

func (f *serveFlags) apply(cfg *config.Config) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.storage != "" {
		cfg.Storage.Driver = f.storage
	}
}

func runServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Str("version", Version).Str("storage", cfg.Storage.Driver).Msg("starting attend server")
	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a.bootstrapAdmin(bootCtx, cfg)
	cancel()

	if err := a.start(ctx, cfg); err != nil {
		a.stop(context.Background())
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           a.handler,
		ReadTimeout:       10 * time.Second, // Total time to read request
		WriteTimeout:      30 * time.Second, // Total time to write response
		ReadHeaderTimeout: 5 * time.Second,  // Time to read headers
		MaxHeaderBytes:    1 << 20,          // 1 MB max header size
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		a.stop(context.Background())
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	return gracefulShutdown(server, a, cfg.Server.ShutdownTimeout, logger)
}

// gracefulShutdown drains HTTP traffic first, then stops the workers and
// closes storage.
func gracefulShutdown(server *http.Server, a *app, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	a.stop(ctx)
	if err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
