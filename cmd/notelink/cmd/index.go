package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notelink/notelink/internal/vault"
)

// newIndexCmd creates the index command.
func newIndexCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the vault",
		Long: `Scan the vault, index every new or changed note, and remove deleted
notes from the index.

With --watch, stay running and re-index as notes change on disk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.queue.Initialize(ctx); err != nil {
				return fmt.Errorf("scan vault: %w", err)
			}

			pending := app.queue.Len()
			if pending > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Indexing %d changed note(s)...\n", pending)
			}

			processed, err := app.scheduler.Drain(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d note(s), %d chunk(s) total.\n",
				processed, app.store.Count())

			if !watch {
				return nil
			}

			// Watch mode: vault events feed the queue, the scheduler
			// drains it on its interval.
			unsubscribe := app.source.Subscribe(func(ev vault.Event) {
				app.queue.OnEvent(ctx, ev)
			})
			defer unsubscribe()

			if err := app.source.Watch(ctx); err != nil {
				return fmt.Errorf("watch vault: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes (Ctrl+C to stop)...")
			if err := app.scheduler.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and index changes as they happen")
	return cmd
}
