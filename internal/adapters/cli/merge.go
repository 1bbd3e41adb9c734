package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewMergeCommand creates the merge command
func NewMergeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <run-id> <run-id>...",
		Short: "Merge completed runs into one similarity pass",
		Long: `Merge two or more COMPLETED runs of one tenant into a new run
that re-groups their combined question corpus. The merged run starts
at the similarity stage; the source runs are left untouched.

Example:
  qbank merge 3f8a1c2e-... 9b41d07a-...`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemon.Dial(socketPath)
			if err != nil {
				return fmt.Errorf("failed to connect to daemon: %w", err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			resp, err := client.MergePipelines(ctx, args)
			if err != nil {
				return fmt.Errorf("merge failed: %w", err)
			}

			run := resp.Run
			fmt.Println("✓ Pipelines merged")
			fmt.Printf("  Merged Run ID: %s\n", run.ID)
			fmt.Printf("  Source Runs:   %d\n", len(args))
			fmt.Printf("  Status:        %s\n", run.Status)
			fmt.Printf("  Stage:         %s\n", run.CurrentStage)
			fmt.Printf("\nFollow progress with: qbank get %s\n", run.ID)

			return nil
		},
	}

	return cmd
}
