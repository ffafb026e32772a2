package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand(global *globalFlags) *cobra.Command {
	var (
		migrationsPath string
		steps          int
		skipRiver      bool
	)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Long: `Apply or roll back the Postgres schema migrations.

Migrations are embedded in the binary; --path reads them from disk instead.

Examples:
  # Apply all pending migrations, including River's job tables
  server migrate up

  # Roll back the most recent migration
  server migrate down --steps 1`,
	}
	migrateCmd.PersistentFlags().StringVar(&migrationsPath, "path", "", "migrations directory (default: embedded)")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := migrationConfig(global)
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
				return err
			}
			if !skipRiver {
				ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
				defer cancel()
				pool, err := postgres.Open(ctx, cfg.Database)
				if err != nil {
					return fmt.Errorf("database connection failed: %w", err)
				}
				defer pool.Close()
				if err := postgres.MigrateRiver(ctx, pool); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	upCmd.Flags().BoolVar(&skipRiver, "skip-river", false, "do not migrate River's job tables")

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := migrationConfig(global)
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(cfg.Database.URL, migrationsPath, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(upCmd, downCmd)
	return migrateCmd
}

// migrationConfig loads the configuration needing only a database URL.
func migrationConfig(global *globalFlags) (config.Config, error) {
	cfg, err := global.loadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.Database.URL == "" {
		return config.Config{}, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}
