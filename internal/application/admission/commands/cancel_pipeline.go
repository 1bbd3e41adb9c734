package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// CancelPipelineCommand stops a run and its batch children
type CancelPipelineCommand struct {
	RunID string
}

// CancelPipelineResponse acknowledges the cancellation
type CancelPipelineResponse struct{}

// CancelPipelineHandler handles run cancellations
type CancelPipelineHandler struct {
	service *admission.Service
}

// NewCancelPipelineHandler creates a new cancel handler
func NewCancelPipelineHandler(service *admission.Service) *CancelPipelineHandler {
	return &CancelPipelineHandler{service: service}
}

// Handle executes the cancel command
func (h *CancelPipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*CancelPipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *CancelPipelineCommand")
	}

	if err := h.service.Cancel(ctx, cmd.RunID); err != nil {
		return nil, err
	}
	return &CancelPipelineResponse{}, nil
}
