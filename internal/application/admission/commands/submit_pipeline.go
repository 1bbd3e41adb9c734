package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// SubmitPipelineCommand asks admission to accept a new document batch
type SubmitPipelineCommand struct {
	TenantID   string
	Uploads    []admission.Upload
	SourceURLs []string
}

// SubmitPipelineResponse carries the accepted run (the standalone run
// or the batch parent)
type SubmitPipelineResponse struct {
	Run *admission.RunSummary
}

// SubmitPipelineHandler handles pipeline submissions
type SubmitPipelineHandler struct {
	service *admission.Service
}

// NewSubmitPipelineHandler creates a new submit handler
func NewSubmitPipelineHandler(service *admission.Service) *SubmitPipelineHandler {
	return &SubmitPipelineHandler{service: service}
}

// Handle executes the submit command
func (h *SubmitPipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*SubmitPipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *SubmitPipelineCommand")
	}

	run, err := h.service.Submit(ctx, admission.Submission{
		TenantID:   cmd.TenantID,
		Uploads:    cmd.Uploads,
		SourceURLs: cmd.SourceURLs,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitPipelineResponse{Run: run}, nil
}
