package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// ResumePipelineCommand returns a paused run to RUNNING
type ResumePipelineCommand struct {
	RunID string
}

// ResumePipelineResponse acknowledges the resume
type ResumePipelineResponse struct{}

// ResumePipelineHandler handles run resumes
type ResumePipelineHandler struct {
	service *admission.Service
}

// NewResumePipelineHandler creates a new resume handler
func NewResumePipelineHandler(service *admission.Service) *ResumePipelineHandler {
	return &ResumePipelineHandler{service: service}
}

// Handle executes the resume command
func (h *ResumePipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*ResumePipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *ResumePipelineCommand")
	}

	if err := h.service.Resume(ctx, cmd.RunID); err != nil {
		return nil, err
	}
	return &ResumePipelineResponse{}, nil
}
