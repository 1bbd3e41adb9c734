package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// GetPipelineLogsQuery pages through a run's log rows, oldest first
type GetPipelineLogsQuery struct {
	RunID string

	// Limit caps the page size; zero means the repository default
	Limit int

	// Offset skips the first N entries
	Offset int

	// Level filters to one level when non-empty
	Level string

	// Since drops entries before the given time when non-zero
	Since time.Time
}

// LogEntry is the transport-facing projection of one log row
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
	Level     string                 `json:"level" msgpack:"level"`
	Message   string                 `json:"message" msgpack:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// GetPipelineLogsResponse carries one page of log entries
type GetPipelineLogsResponse struct {
	Logs []LogEntry
}

// GetPipelineLogsHandler handles run log reads
type GetPipelineLogsHandler struct {
	runs pipeline.RunRepository
	logs persistence.PipelineLogRepository
}

// NewGetPipelineLogsHandler creates a new logs handler
func NewGetPipelineLogsHandler(runs pipeline.RunRepository, logs persistence.PipelineLogRepository) *GetPipelineLogsHandler {
	return &GetPipelineLogsHandler{runs: runs, logs: logs}
}

// Handle executes the logs query
func (h *GetPipelineLogsHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	query, ok := request.(*GetPipelineLogsQuery)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *GetPipelineLogsQuery")
	}

	run, err := h.runs.FindByID(ctx, query.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", query.RunID, err)
	}
	if run == nil {
		return nil, &pipeline.ErrRunNotFound{RunID: query.RunID}
	}

	var level *string
	if query.Level != "" {
		level = &query.Level
	}
	var since *time.Time
	if !query.Since.IsZero() {
		since = &query.Since
	}

	entries, err := h.logs.GetLogsWithOffset(ctx, run.ID(), query.Limit, query.Offset, level, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load logs of run %s: %w", run.ID(), err)
	}

	logs := make([]LogEntry, len(entries))
	for i, entry := range entries {
		logs[i] = LogEntry{
			Timestamp: entry.Timestamp,
			Level:     entry.Level,
			Message:   entry.Message,
			Metadata:  entry.Metadata,
		}
	}
	return &GetPipelineLogsResponse{Logs: logs}, nil
}
