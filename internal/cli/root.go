// Package cli provides the reminderd commands: serve runs the daemon, pass
// runs a single dispatch pass and inspect lists records that need an operator.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"reminder-dispatcher/internal/app"
	"reminder-dispatcher/internal/config"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reminderd",
		Short: "Deferred follow-up notification dispatcher",
		Long: `reminderd scans pending records kept as Redis hashes, sends one follow-up
message to every record whose receipt is older than the configured delay and
deletes the record once the message is delivered.

Configuration is read from --config (.json, .yaml or .yml) and REMINDER_*
environment variables; REDIS_URL, TOKEN and PAGE_ID are honoured as well.`,
		Example: `  # Run the daemon
  reminderd serve --config /etc/reminderd.yaml

  # One pass from cron
  reminderd pass

  # List records that will never be sent as-is
  reminderd inspect`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to config file")

	root.AddCommand(newServeCmd(), newPassCmd(), newInspectCmd())
	return root
}

func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func openApp(cmd *cobra.Command) (*app.App, *config.Config, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cmd.Context(), cfg, path)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}
