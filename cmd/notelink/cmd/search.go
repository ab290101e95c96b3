package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var limit int
	var minScore float64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the vault by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			results, err := app.searcher.Search(cmd.Context(), strings.Join(args, " "),
				app.queryOptions(limit, minScore))
			if err != nil {
				return err
			}

			return printResults(cmd, results, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", -2, "Minimum similarity score (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}
