package cli

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher daemon",
		Long: `Run scheduled dispatch passes and serve the operator endpoints:

  POST /dispatch  request a pass now (202, coalesced while one is pending)
  GET  /healthz   liveness and the last pass summary

The first pass starts immediately unless dispatch.run_on_start is false.
Dispatch tunables in the config file are reloaded on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}
