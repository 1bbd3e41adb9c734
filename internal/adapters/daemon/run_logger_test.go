package daemon_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func TestRunLogger_KeepsBoundedTail(t *testing.T) {
	// Arrange
	logger := daemon.NewRunLogger("run-tail", nil)

	// Act
	for i := 0; i < 205; i++ {
		logger.Log("INFO", fmt.Sprintf("line %d", i), nil)
	}

	// Assert: only the newest lines survive
	tail := logger.Tail()
	require.Len(t, tail, 200)
	assert.Equal(t, "line 5", tail[0].Message)
	assert.Equal(t, "line 204", tail[len(tail)-1].Message)
}

func TestRunLogger_PersistsRowsAsynchronously(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	owner := helpers.SeedTenant(t, repos, "acme")
	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)

	logger := daemon.NewRunLogger(run.ID(), repos.Logs)

	// Act
	logger.Log("INFO", "Stage parse started", map[string]interface{}{"stage": "parse"})
	logger.Log("WARNING", "Vision model responded slowly", nil)

	// Assert: rows appear once the background writes land
	require.Eventually(t, func() bool {
		entries, err := repos.Logs.GetLogs(context.Background(), run.ID(), 50, nil, nil)
		return err == nil && len(entries) == 2
	}, 3*time.Second, 10*time.Millisecond)

	entries, err := repos.Logs.GetLogs(context.Background(), run.ID(), 50, nil, nil)
	require.NoError(t, err)

	messages := make([]string, len(entries))
	for i, entry := range entries {
		messages[i] = entry.Message
		assert.Equal(t, run.ID(), entry.RunID)
	}
	assert.ElementsMatch(t, []string{"Stage parse started", "Vision model responded slowly"}, messages)

	for _, entry := range entries {
		if entry.Message == "Stage parse started" {
			assert.Equal(t, "parse", entry.Metadata["stage"])
		}
	}
}

func TestRunLogger_NilRepositoryKeepsTailOnly(t *testing.T) {
	// Arrange
	logger := daemon.NewRunLogger("run-memory-only", nil)

	// Act
	logger.Log("ERROR", "split produced no files", nil)

	// Assert
	tail := logger.Tail()
	require.Len(t, tail, 1)
	assert.Equal(t, "ERROR", tail[0].Level)
	assert.Equal(t, "split produced no files", tail[0].Message)
}
