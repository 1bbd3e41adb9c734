package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func newLogRepoForTest(t *testing.T) (*persistence.GormPipelineLogRepository, *shared.MockClock) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return persistence.NewGormPipelineLogRepository(db, clock), clock
}

func TestPipelineLogRepository_LogAndGetLogs(t *testing.T) {
	// Arrange
	repo, clock := newLogRepoForTest(t)
	ctx := context.Background()

	require.NoError(t, repo.Log(ctx, "run-1", "Starting extraction", "INFO", nil))
	clock.Advance(time.Second)
	require.NoError(t, repo.Log(ctx, "run-1", "Extracted 12 crops", "INFO", map[string]interface{}{
		"stage": "extract",
		"crops": 12,
	}))
	clock.Advance(time.Second)
	require.NoError(t, repo.Log(ctx, "run-1", "Parse failed for q3.pdf", "ERROR", nil))
	require.NoError(t, repo.Log(ctx, "run-2", "Starting extraction", "INFO", nil))

	// Act
	entries, err := repo.GetLogs(ctx, "run-1", 10, nil, nil)

	// Assert: newest first, scoped to the run
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Parse failed for q3.pdf", entries[0].Message)
	assert.Equal(t, "ERROR", entries[0].Level)
	assert.Equal(t, "Extracted 12 crops", entries[1].Message)
	assert.Equal(t, "extract", entries[1].Metadata["stage"])
	assert.EqualValues(t, 12, entries[1].Metadata["crops"])
	assert.Equal(t, "Starting extraction", entries[2].Message)
}

func TestPipelineLogRepository_DedupesRepeatedMessages(t *testing.T) {
	// Arrange
	repo, clock := newLogRepoForTest(t)
	ctx := context.Background()

	// Act: a heartbeat loop repeats itself within the window
	require.NoError(t, repo.Log(ctx, "run-1", "Waiting for batch children", "INFO", nil))
	clock.Advance(10 * time.Second)
	require.NoError(t, repo.Log(ctx, "run-1", "Waiting for batch children", "INFO", nil))
	clock.Advance(10 * time.Second)
	require.NoError(t, repo.Log(ctx, "run-1", "Waiting for batch children", "INFO", nil))

	// Assert: only the first write landed
	entries, err := repo.GetLogs(ctx, "run-1", 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A different run or a different message is not suppressed
	require.NoError(t, repo.Log(ctx, "run-2", "Waiting for batch children", "INFO", nil))
	require.NoError(t, repo.Log(ctx, "run-1", "Batch children completed", "INFO", nil))

	otherRun, err := repo.GetLogs(ctx, "run-2", 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, otherRun, 1)

	entries, err = repo.GetLogs(ctx, "run-1", 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Once the window passes the message may repeat
	clock.Advance(time.Minute)
	require.NoError(t, repo.Log(ctx, "run-1", "Waiting for batch children", "INFO", nil))
	entries, err = repo.GetLogs(ctx, "run-1", 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPipelineLogRepository_FiltersByLevelAndTime(t *testing.T) {
	// Arrange
	repo, clock := newLogRepoForTest(t)
	ctx := context.Background()

	cutoff := clock.Now()
	require.NoError(t, repo.Log(ctx, "run-1", "Starting extraction", "INFO", nil))
	clock.Advance(time.Second)
	require.NoError(t, repo.Log(ctx, "run-1", "Parse failed for q3.pdf", "ERROR", nil))
	clock.Advance(time.Second)
	require.NoError(t, repo.Log(ctx, "run-1", "Retrying parse", "WARN", nil))

	// Act & Assert: level filter
	level := "ERROR"
	entries, err := repo.GetLogs(ctx, "run-1", 10, &level, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Parse failed for q3.pdf", entries[0].Message)

	// Time filter is exclusive of the cutoff itself
	entries, err = repo.GetLogs(ctx, "run-1", 10, nil, &cutoff)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Pagination
	entries, err = repo.GetLogsWithOffset(ctx, "run-1", 1, 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Parse failed for q3.pdf", entries[0].Message)
}
