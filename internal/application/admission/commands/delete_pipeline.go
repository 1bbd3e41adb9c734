package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// DeletePipelineCommand removes a terminal run, its children and their
// directories. Corpus items outlive their runs.
type DeletePipelineCommand struct {
	RunID string
}

// DeletePipelineResponse acknowledges the deletion
type DeletePipelineResponse struct{}

// DeletePipelineHandler handles run deletions
type DeletePipelineHandler struct {
	service *admission.Service
}

// NewDeletePipelineHandler creates a new delete handler
func NewDeletePipelineHandler(service *admission.Service) *DeletePipelineHandler {
	return &DeletePipelineHandler{service: service}
}

// Handle executes the delete command
func (h *DeletePipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*DeletePipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *DeletePipelineCommand")
	}

	if err := h.service.Delete(ctx, cmd.RunID); err != nil {
		return nil, err
	}
	return &DeletePipelineResponse{}, nil
}
