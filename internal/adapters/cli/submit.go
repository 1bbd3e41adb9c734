package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
)

// NewSubmitCommand creates the submit command
func NewSubmitCommand() *cobra.Command {
	var sourceURLs []string

	cmd := &cobra.Command{
		Use:   "submit [pdf-file]...",
		Short: "Submit PDFs for processing",
		Long: `Submit one or more PDF documents as a new pipeline run.
Local files are uploaded through the daemon; --url fetches documents
server-side instead. Submissions larger than the batch size are fanned
out into child runs automatically.

Examples:
  qbank submit exam1.pdf exam2.pdf --tenant acme
  qbank submit --url https://example.com/exam.pdf --tenant acme
  qbank submit chapter*.pdf --tenant acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(sourceURLs) == 0 {
				return fmt.Errorf("nothing to submit: pass PDF files or --url")
			}

			tenantID, err := resolveTenant()
			if err != nil {
				return err
			}

			uploads := make([]daemon.UploadPart, 0, len(args))
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				uploads = append(uploads, daemon.UploadPart{
					Filename: filepath.Base(path),
					Content:  content,
				})
			}

			client, err := daemon.Dial(socketPath)
			if err != nil {
				return fmt.Errorf("failed to connect to daemon: %w", err)
			}
			defer client.Close()

			// Upload bodies travel in the request; give big batches room
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			resp, err := client.SubmitPipeline(ctx, &daemon.SubmitPipelineRequest{
				TenantID:   tenantID,
				Uploads:    uploads,
				SourceURLs: sourceURLs,
			})
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}

			run := resp.Run
			fmt.Println("✓ Pipeline submitted")
			fmt.Printf("  Run ID:  %s\n", run.ID)
			fmt.Printf("  Tenant:  %s\n", run.TenantID)
			fmt.Printf("  Status:  %s\n", run.Status)
			fmt.Printf("  Files:   %d\n", len(run.InputFiles))
			if run.TotalBatches != nil && *run.TotalBatches > 1 {
				fmt.Printf("  Batches: %d child runs\n", *run.TotalBatches)
			}
			fmt.Printf("\nFollow progress with: qbank get %s\n", run.ID)

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sourceURLs, "url", nil,
		"Document URL fetched server-side (repeatable)")

	return cmd
}
