package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// PausePipelineCommand suspends a running run; leased work drains back
// to the queue without consuming attempts
type PausePipelineCommand struct {
	RunID string
}

// PausePipelineResponse acknowledges the pause
type PausePipelineResponse struct{}

// PausePipelineHandler handles run pauses
type PausePipelineHandler struct {
	service *admission.Service
}

// NewPausePipelineHandler creates a new pause handler
func NewPausePipelineHandler(service *admission.Service) *PausePipelineHandler {
	return &PausePipelineHandler{service: service}
}

// Handle executes the pause command
func (h *PausePipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*PausePipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *PausePipelineCommand")
	}

	if err := h.service.Pause(ctx, cmd.RunID); err != nil {
		return nil, err
	}
	return &PausePipelineResponse{}, nil
}
