package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewLogsCommand creates the logs command
func NewLogsCommand() *cobra.Command {
	var (
		limit  int
		offset int
		level  string
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Get logs for a pipeline run",
		Long: `Retrieve the persisted log lines of one run, oldest first.

Examples:
  qbank logs 3f8a1c2e-...
  qbank logs 3f8a1c2e-... --limit 50
  qbank logs 3f8a1c2e-... --level ERROR
  qbank logs 3f8a1c2e-... --since 1h`,
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

			req := &daemon.GetPipelineLogsRequest{
				RunID:  runID,
				Limit:  limit,
				Offset: offset,
				Level:  level,
			}
			if since > 0 {
				req.Since = time.Now().Add(-since)
			}

			resp, err := client.GetPipelineLogs(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}

			if len(resp.Logs) == 0 {
				fmt.Println("No logs found for run:", runID)
				return nil
			}

			// Rows arrive newest first; display oldest first
			for i := len(resp.Logs) - 1; i >= 0; i-- {
				entry := resp.Logs[i]
				fmt.Printf("[%s] [%s] %s\n",
					entry.Timestamp.Local().Format("2006-01-02 15:04:05"),
					entry.Level,
					entry.Message,
				)
			}

			fmt.Printf("\nTotal: %d log entries\n", len(resp.Logs))

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of log entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip the first N entries")
	cmd.Flags().StringVar(&level, "level", "", "Filter by log level (INFO, WARNING, ERROR, DEBUG)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this age (e.g. 30m, 2h)")

	return cmd
}
