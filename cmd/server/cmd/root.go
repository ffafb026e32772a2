package cmd

import (
	"fmt"
	"os"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	serve := newServeCommand(flags)

	root := &cobra.Command{
		Use:   "server",
		Short: "Attend server - event registration backend",
		Long: `Attend server runs the event registration API.

The server supports:
- Event management for organizers and admins
- Capacity-bounded registration with a FIFO waitlist
- Check-in, cancellation and automatic waitlist promotion
- Attendance analytics and live websocket updates`,
		SilenceUsage: true,
		// serve is the default when no subcommand is given
		RunE: serve.RunE,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file path (optional, uses env vars by default)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (json, console) (default: json)")
	// the default serve run reads serve's flags
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve)
	root.AddCommand(newMigrateCommand(flags))
	root.AddCommand(newReconcileCommand(flags))
	root.AddCommand(newVersionCommand())
	root.AddCommand(newHealthcheckCommand())
	return root
}

// loadConfig reads the configuration and applies the logging flags. The
// result is not validated yet.
func (f *globalFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Read(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	return cfg, nil
}
