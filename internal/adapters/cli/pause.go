package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewPauseCommand creates the pause command
func NewPauseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause <run-id>",
		Short: "Pause a running pipeline run",
		Long: `Pause a RUNNING run. Its queued work stays parked until the run
is resumed; no delivery attempts are consumed while paused.

Example:
  qbank pause 3f8a1c2e-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			client, err := daemon.Dial(socketPath)
			if err != nil {
				return fmt.Errorf("failed to connect to daemon: %w", err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := client.PausePipeline(ctx, runID); err != nil {
				return fmt.Errorf("pause failed: %w", err)
			}

			fmt.Println("✓ Pipeline paused")
			fmt.Printf("  Run ID: %s\n", runID)
			fmt.Printf("\nResume with: qbank resume %s\n", runID)

			return nil
		},
	}

	return cmd
}
