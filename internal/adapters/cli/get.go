package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Get detailed run information",
		Long: `Show one run with its stage attempts and, for batch parents,
the child run tree.

Example:
  qbank get 3f8a1c2e-...`,
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

			resp, err := client.GetPipeline(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to get pipeline: %w", err)
			}

			run := resp.Run

			// Display detailed info
			fmt.Printf("Run: %s\n", run.ID)
			fmt.Println("══════════════════════════════════════════════")
			fmt.Printf("  Tenant:        %s\n", run.TenantID)
			fmt.Printf("  Status:        %s\n", run.Status)
			fmt.Printf("  Stage:         %s\n", run.CurrentStage)
			fmt.Printf("  Progress:      %d%%\n", run.Progress)
			fmt.Printf("  Input Files:   %s\n", strings.Join(run.InputFiles, ", "))
			if len(run.SourceURLs) > 0 {
				fmt.Printf("  Source URLs:   %s\n", strings.Join(run.SourceURLs, ", "))
			}
			if run.TotalQuestions > 0 {
				fmt.Printf("  Questions:     %d\n", run.TotalQuestions)
			}
			if run.TotalItems > 0 {
				fmt.Printf("  Items:         %d/%d processed\n", run.ProcessedItems, run.TotalItems)
			}
			fmt.Printf("  Created At:    %s\n", formatTimestamp(run.CreatedAt))
			fmt.Printf("  Started At:    %s\n", formatOptionalTime(run.StartedAt))
			fmt.Printf("  Completed At:  %s\n", formatOptionalTime(run.CompletedAt))
			if run.ErrorMessage != "" {
				fmt.Printf("  Error:         %s\n", run.ErrorMessage)
			}

			if len(resp.Children) > 0 {
				formatter := NewTreeFormatter(true, false)
				fmt.Printf("\n%s\n", formatter.FormatTreeSummary(run, resp.Children))
				fmt.Print(formatter.FormatTree(run, resp.Children))
			}

			if len(resp.Jobs) > 0 {
				fmt.Printf("\n%-12s %-10s %-8s %-9s %-20s %s\n",
					"STAGE", "STATUS", "ATTEMPT", "PROGRESS", "STARTED", "ERROR")
				fmt.Println("─────────────────────────────────────────────────────────────────────────────────")
				for _, job := range resp.Jobs {
					errMsg := "-"
					if job.ErrorMessage != "" {
						errMsg = truncate(job.ErrorMessage, 40)
					}
					fmt.Printf("%-12s %-10s %-8d %-9s %-20s %s\n",
						job.Stage,
						job.Status,
						job.Attempt,
						fmt.Sprintf("%d%%", job.Progress),
						formatOptionalTime(job.StartedAt),
						errMsg,
					)
				}
			}

			return nil
		},
	}

	return cmd
}
