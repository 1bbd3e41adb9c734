package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewResumeCommand creates the resume command
func NewResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a paused pipeline run",
		Long: `Resume a PAUSED run. Parked work becomes claimable again and
execution continues from the stage the run was paused at.

Example:
  qbank resume 3f8a1c2e-...`,
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

			if err := client.ResumePipeline(ctx, runID); err != nil {
				return fmt.Errorf("resume failed: %w", err)
			}

			fmt.Println("✓ Pipeline resumed")
			fmt.Printf("  Run ID: %s\n", runID)

			return nil
		},
	}

	return cmd
}
