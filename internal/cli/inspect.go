package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reminder-dispatcher/internal/audit"
	"reminder-dispatcher/internal/worker"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List records a pass will never resolve",
		Long: `Walk the keyspace read-only and list records that are malformed (no
identity, unparseable receipt time) or have exhausted their retry budget.
Such records are never deleted automatically.

With an audit store configured, the most recent delivery attempts are shown
as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			recent, _ := cmd.Flags().GetInt("recent")

			a, cfg, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			findings, err := worker.Inspect(cmd.Context(), a.Store(), a.Dispatcher().Settings(), time.Now(), cfg.Dispatch.MaxBatches)
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			var entries []audit.Entry
			if au := a.Audit(); au != nil && recent > 0 {
				entries, err = au.Recent(cmd.Context(), recent)
				if err != nil {
					return fmt.Errorf("read audit: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Findings []worker.Finding `json:"findings"`
					Recent   []audit.Entry    `json:"recent,omitempty"`
				}{findings, entries})
			}

			if len(findings) == 0 {
				fmt.Fprintln(out, "No stuck records.")
			} else {
				fmt.Fprintf(out, "Stuck records (%d):\n", len(findings))
				for _, f := range findings {
					fmt.Fprintf(out, "  %-24s %-20s %s", f.Key, orDash(f.Identity), f.Problem)
					if f.Attempts > 0 {
						fmt.Fprintf(out, " (attempts %d)", f.Attempts)
					}
					fmt.Fprintln(out)
				}
			}
			if len(entries) > 0 {
				fmt.Fprintf(out, "\nRecent deliveries:\n")
				for _, e := range entries {
					fmt.Fprintf(out, "  %s  %-13s %-24s %s", e.At.Format(time.RFC3339), e.Action, e.Key, orDash(e.Identity))
					if e.Error != "" {
						fmt.Fprintf(out, "  %s", e.Error)
					}
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print findings as JSON")
	cmd.Flags().Int("recent", 20, "Number of audit entries to show (0 to skip)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
