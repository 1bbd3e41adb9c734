package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewDeleteCommand creates the delete command
func NewDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a terminal pipeline run",
		Long: `Delete a COMPLETED, FAILED or CANCELLED run together with its
jobs, logs and on-disk artifacts. Corpus items extracted by the run
stay in the tenant's question bank. Batch parents delete their
children; children cannot be deleted on their own.

Example:
  qbank delete 3f8a1c2e-...`,
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

			if err := client.DeletePipeline(ctx, runID); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}

			fmt.Println("✓ Pipeline deleted")
			fmt.Printf("  Run ID: %s\n", runID)

			return nil
		},
	}

	return cmd
}
