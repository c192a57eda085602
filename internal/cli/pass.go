package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reminder-dispatcher/internal/worker"
)

func newPassCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run exactly one dispatch pass and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			a, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Dispatcher().RunPass(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return fmt.Errorf("pass stopped early: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r worker.PassReport) {
	fmt.Fprintf(w, "Pass %s (%s)\n", r.ID, r.Duration)
	fmt.Fprintf(w, "  scanned:        %d in %d batches (%d duplicates)\n", r.Scanned, r.Batches, r.Duplicates)
	fmt.Fprintf(w, "  sent:           %d (deleted %d, delete failed %d)\n", r.Sent, r.Deleted, r.DeleteFailed)
	fmt.Fprintf(w, "  send failed:    %d\n", r.SendFailed)
	fmt.Fprintf(w, "  deferred:       %d (backing off %d)\n", r.Deferred, r.BackingOff)
	fmt.Fprintf(w, "  malformed:      %d (retries exhausted %d)\n", r.Malformed, r.Exhausted)
	fmt.Fprintf(w, "  skipped:        %d filtered, %d vanished, %d unreadable\n", r.Filtered, r.Vanished, r.ReadFailed)
	if r.Truncated {
		fmt.Fprintln(w, "  coverage:       partial (batch cap reached)")
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:          %s\n", r.Error)
	}
}
