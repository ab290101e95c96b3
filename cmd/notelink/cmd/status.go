package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and provider status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			status, err := app.scheduler.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"provider_state": status.ProviderState.String(),
					"model":          status.Model,
					"pending":        status.Pending,
					"chunks":         status.Chunks,
					"notes":          status.Notes,
				})
			}

			fmt.Fprintf(out, "Vault:    %s\n", app.cfg.Vault.Path)
			fmt.Fprintf(out, "Model:    %s (%s)\n", status.Model, status.ProviderState)
			fmt.Fprintf(out, "Notes:    %d\n", status.Notes)
			fmt.Fprintf(out, "Chunks:   %d\n", status.Chunks)
			fmt.Fprintf(out, "Pending:  %d\n", status.Pending)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}
