package commands

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// RestartPipelineCommand replaces a terminal run with a fresh one built
// from its preserved uploads
type RestartPipelineCommand struct {
	RunID string
}

// RestartPipelineResponse carries the replacement run
type RestartPipelineResponse struct {
	Run *admission.RunSummary
}

// RestartPipelineHandler handles run restarts
type RestartPipelineHandler struct {
	service *admission.Service
}

// NewRestartPipelineHandler creates a new restart handler
func NewRestartPipelineHandler(service *admission.Service) *RestartPipelineHandler {
	return &RestartPipelineHandler{service: service}
}

// Handle executes the restart command
func (h *RestartPipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*RestartPipelineCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *RestartPipelineCommand")
	}

	run, err := h.service.Restart(ctx, cmd.RunID)
	if err != nil {
		return nil, err
	}
	return &RestartPipelineResponse{Run: run}, nil
}
