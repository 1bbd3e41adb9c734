package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewRestartCommand creates the restart command
func NewRestartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart <run-id>",
		Short: "Restart a terminal pipeline run",
		Long: `Restart a COMPLETED, FAILED or CANCELLED run from its preserved
uploads. The old run is replaced by a fresh one processing the same
documents from the first stage.

Example:
  qbank restart 3f8a1c2e-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			client, err := daemon.Dial(socketPath)
			if err != nil {
				return fmt.Errorf("failed to connect to daemon: %w", err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			resp, err := client.RestartPipeline(ctx, runID)
			if err != nil {
				return fmt.Errorf("restart failed: %w", err)
			}

			run := resp.Run
			fmt.Println("✓ Pipeline restarted")
			fmt.Printf("  Old Run ID: %s\n", runID)
			fmt.Printf("  New Run ID: %s\n", run.ID)
			fmt.Printf("  Status:     %s\n", run.Status)
			fmt.Printf("  Files:      %d\n", len(run.InputFiles))
			fmt.Printf("\nFollow progress with: qbank get %s\n", run.ID)

			return nil
		},
	}

	return cmd
}
