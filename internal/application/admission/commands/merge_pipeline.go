package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// MergePipelineCommand combines completed runs into a new run that
// re-enters the pipeline at similarity
type MergePipelineCommand struct {
	RunIDs []string
}

// MergePipelineResponse carries the merged run
type MergePipelineResponse struct {
	Run *admission.RunSummary
}

// MergePipelineHandler handles run merges
type MergePipelineHandler struct {
	service *admission.Service
}

// NewMergePipelineHandler creates a new merge handler
func NewMergePipelineHandler(service *admission.Service) *MergePipelineHandler {
	return &MergePipelineHandler{service: service}
}

// Handle executes the merge command
func (h *MergePipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*MergePipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *MergePipelineCommand")
	}

	run, err := h.service.Merge(ctx, cmd.RunIDs)
	if err != nil {
		return nil, err
	}
	return &MergePipelineResponse{Run: run}, nil
}
