package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	socketPath string
	tenantFlag string
	verbose    bool
)

// NewRootCommand creates the root command for the CLI
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qbank",
		Short: "qbank CLI - Interact with the qbank pipeline daemon",
		Long: `qbank CLI submits PDF batches and manages pipeline runs.
The CLI communicates with the daemon via Unix socket; tenant
administration talks to the store directly.

Examples:
  qbank submit exam1.pdf exam2.pdf --tenant acme
  qbank submit --url https://example.com/exam.pdf --tenant acme
  qbank list --tenant acme --status RUNNING
  qbank get <run-id>
  qbank logs <run-id> --level ERROR
  qbank cancel <run-id>
  qbank merge <run-id> <run-id>
  qbank tenant create acme --max-runs 4`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", getDefaultSocketPath(),
		"Path to daemon Unix socket")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "",
		"Tenant ID or slug (falls back to the configured default)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose output")

	// Add command groups
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewSubmitCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewLogsCommand())
	rootCmd.AddCommand(NewCancelCommand())
	rootCmd.AddCommand(NewPauseCommand())
	rootCmd.AddCommand(NewResumeCommand())
	rootCmd.AddCommand(NewRestartCommand())
	rootCmd.AddCommand(NewDeleteCommand())
	rootCmd.AddCommand(NewMergeCommand())
	rootCmd.AddCommand(NewTenantCommand())
	rootCmd.AddCommand(NewHealthCommand())

	return rootCmd
}

// getDefaultSocketPath returns the default socket path
func getDefaultSocketPath() string {
	if path := os.Getenv("QBANK_SOCKET"); path != "" {
		return path
	}
	return "/tmp/qbank-daemon.sock"
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
