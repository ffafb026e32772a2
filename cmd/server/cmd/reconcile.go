package cmd

import (
	"fmt"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func newReconcileCommand(global *globalFlags) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Promote waitlists into free seats",
		Long: `Run one waitlist reconciliation pass against the database.

Every event that has free seats and a non-empty waitlist is promoted in
FIFO order. This repairs promotions lost when a deferred promotion job did
not run. The server runs the same pass periodically.

Examples:
  # Reconcile every event
  server reconcile

  # Limit parallel promotions
  server reconcile --concurrency 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := migrationConfig(global)
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Logging)

			pool, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			store, err := postgres.NewStore(pool)
			if err != nil {
				pool.Close()
				return err
			}
			defer store.Close()

			engine := registrations.NewEngine(store.Registrations(), registrations.WithLogger(logger))
			sweeper := registrations.NewSweeper(engine, store.Registrations(), logger)
			sweeper.SetConcurrency(concurrency)

			res, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Events examined: %d\n", res.Events)
			fmt.Fprintf(out, "Promoted:        %d\n", res.Promoted)
			fmt.Fprintf(out, "Failed:          %d\n", res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d event(s) failed to reconcile", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", registrations.DefaultSweepConcurrency, "events promoted in parallel")
	return cmd
}
