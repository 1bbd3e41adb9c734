package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	var (
		statuses        []string
		includeChildren bool
		limit           int
		offset          int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's pipeline runs",
		Long: `List pipeline runs for a tenant, newest first. Batch children
are hidden by default; --all includes them.

Examples:
  qbank list --tenant acme
  qbank list --tenant acme --status RUNNING --status QUEUED
  qbank list --tenant acme --all --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := resolveTenant()
			if err != nil {
				return err
			}

			client, err := daemon.Dial(socketPath)
			if err != nil {
				return fmt.Errorf("failed to connect to daemon: %w", err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp, err := client.ListPipelines(ctx, &daemon.ListPipelinesRequest{
				TenantID:        tenantID,
				Statuses:        statuses,
				IncludeChildren: includeChildren,
				Limit:           limit,
				Offset:          offset,
			})
			if err != nil {
				return fmt.Errorf("failed to list pipelines: %w", err)
			}

			if len(resp.Runs) == 0 {
				fmt.Println("No runs found")
				return nil
			}

			// Display runs in table format
			fmt.Printf("%-36s %-10s %-12s %-9s %-6s %s\n",
				"RUN ID", "STATUS", "STAGE", "PROGRESS", "FILES", "CREATED")
			fmt.Println("─────────────────────────────────────────────────────────────────────────────────────────────")

			for _, run := range resp.Runs {
				label := run.ID
				if run.ParentRunID != nil && run.BatchIndex != nil {
					label = fmt.Sprintf("%s (batch %d)", run.ID, *run.BatchIndex)
				}

				fmt.Printf("%-36s %-10s %-12s %-9s %-6d %s\n",
					truncate(label, 36),
					run.Status,
					run.CurrentStage,
					fmt.Sprintf("%d%%", run.Progress),
					len(run.InputFiles),
					formatTimestamp(run.CreatedAt),
				)
			}

			fmt.Printf("\nTotal: %d runs\n", len(resp.Runs))

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&statuses, "status", nil,
		"Filter by status (QUEUED, RUNNING, PAUSED, COMPLETED, FAILED, CANCELLED; repeatable)")
	cmd.Flags().BoolVar(&includeChildren, "all", false, "Include batch children")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip the first N runs")

	return cmd
}
