package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notelink/notelink/internal/indexer"
)

// newRelatedCmd creates the related command.
func newRelatedCmd() *cobra.Command {
	var limit int
	var minScore float64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "related <note-path>",
		Short: "Show notes related to a note",
		Long: `Find the notes semantically closest to the given note. The path is
vault-relative, e.g. "projects/greenhouse.md".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			results, err := app.searcher.Related(cmd.Context(), args[0],
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

func printResults(cmd *cobra.Command, results []indexer.RelatedNote, asJSON bool) error {
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No related notes found.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%.3f  %s  (%s)\n", r.Score, r.Path, r.Title)
	}
	return nil
}
