package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewCancelCommand creates the cancel command
func NewCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pipeline run",
		Long: `Cancel a run and, for batch parents, all of its children.
In-flight stage attempts are aborted at their next heartbeat.

Example:
  qbank cancel 3f8a1c2e-...`,
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

			if err := client.CancelPipeline(ctx, runID); err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}

			fmt.Println("✓ Pipeline cancelled")
			fmt.Printf("  Run ID: %s\n", runID)

			return nil
		},
	}

	return cmd
}
