// Package cmd provides the CLI commands for notelink.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notelink/notelink/internal/logging"
	"github.com/notelink/notelink/pkg/version"
)

var (
	configPath string
	vaultPath  string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the notelink CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notelink",
		Short: "Semantic related-notes engine for a note vault",
		Long: `notelink indexes a folder of plain-text notes into vector embeddings
and answers "what else in my vault is about this?" queries.

It runs entirely locally by default; Ollama and OpenAI-compatible
endpoints are supported for higher quality embeddings.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("notelink version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <vault>/.notelink.yaml)")
	cmd.PersistentFlags().StringVar(&vaultPath, "vault", "", "Vault root directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRelatedCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
