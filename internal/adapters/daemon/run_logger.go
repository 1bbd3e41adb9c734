package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/pkg/utils"
)

// logRingCapacity bounds the in-memory tail kept per attempt
const logRingCapacity = 200

// RunLogger implements common.RunLogger for one run. Lines go to three
// places: an in-memory tail for the attempt, stdout, and asynchronously
// the run's pipeline_logs rows so `qbank logs` sees them later.
type RunLogger struct {
	runID string
	logs  persistence.PipelineLogRepository

	mu   sync.Mutex
	tail []persistence.PipelineLogEntry
}

// NewRunLogger creates a logger bound to one run. A nil repository
// keeps the stdout and in-memory behavior and skips persistence.
func NewRunLogger(runID string, logs persistence.PipelineLogRepository) *RunLogger {
	return &RunLogger{runID: runID, logs: logs}
}

// Log records one line at the given level
func (l *RunLogger) Log(level, message string, metadata map[string]interface{}) {
	entry := persistence.PipelineLogEntry{
		RunID:     l.runID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	}

	l.mu.Lock()
	l.tail = append(l.tail, entry)
	if len(l.tail) > logRingCapacity {
		l.tail = l.tail[len(l.tail)-logRingCapacity:]
	}
	l.mu.Unlock()

	fmt.Printf("[%s] [%s] %s: %s\n",
		entry.Timestamp.Format(time.RFC3339), utils.ShortRunID(l.runID), level, message)

	if l.logs == nil {
		return
	}

	// Persist without blocking the stage; a failed write only costs
	// the row, never the attempt.
	go func() {
		ctx, cancel := persistContext()
		defer cancel()
		if err := l.logs.Log(ctx, l.runID, message, level, metadata); err != nil {
			fmt.Printf("[%s] [%s] ERROR: failed to persist log row: %v\n",
				time.Now().UTC().Format(time.RFC3339), utils.ShortRunID(l.runID), err)
		}
	}()
}

// Tail returns the most recent lines kept in memory
func (l *RunLogger) Tail() []persistence.PipelineLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]persistence.PipelineLogEntry(nil), l.tail...)
}
