package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

func TestNewRun_StartsQueuedAtExtract(t *testing.T) {
	// Act
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, []string{"https://example.com/exam.pdf"})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID())
	assert.Equal(t, "tenant-1", run.TenantID())
	assert.Equal(t, pipeline.RunStatusQueued, run.Status())
	assert.Equal(t, pipeline.StageExtract, run.CurrentStage())
	assert.Equal(t, 0, run.Progress())
	assert.Nil(t, run.StartedAt())
	assert.False(t, run.IsParent())
	assert.False(t, run.IsChild())
}

func TestNewRun_RequiresTenantAndInputs(t *testing.T) {
	_, err := pipeline.NewRun("", []string{"exam.pdf"}, nil)
	assert.Error(t, err)

	_, err = pipeline.NewRun("tenant-1", nil, nil)
	assert.Error(t, err)
}

func TestNewMergedRun_EntersAtSimilarity(t *testing.T) {
	// Act
	run, err := pipeline.NewMergedRun("tenant-1", []string{"a.pdf", "b.pdf"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageSimilarity, run.CurrentStage())
	assert.Equal(t, pipeline.RunStatusQueued, run.Status())
}

func TestNewChildRun_InheritsBatchShapeFromParent(t *testing.T) {
	// Arrange
	files := []string{"a.pdf", "b.pdf", "c.pdf"}
	parent, err := pipeline.NewParentRun("tenant-1", files, nil, 2, 2)
	require.NoError(t, err)
	require.True(t, parent.IsParent())
	assert.Equal(t, pipeline.StageCoordinate, parent.CurrentStage())

	// Act
	child, err := pipeline.NewChildRun(parent, 1, files[2:])

	// Assert
	require.NoError(t, err)
	assert.True(t, child.IsChild())
	assert.False(t, child.IsParent())
	assert.Equal(t, parent.ID(), *child.ParentRunID())
	assert.Equal(t, 1, *child.BatchIndex())
	assert.Equal(t, 2, *child.BatchSize())
	assert.Equal(t, 2, *child.TotalBatches())
	assert.Equal(t, pipeline.StageExtract, child.CurrentStage())
}

func TestNewChildRun_RejectsNonParent(t *testing.T) {
	// Arrange
	standalone, err := pipeline.NewRun("tenant-1", []string{"a.pdf"}, nil)
	require.NoError(t, err)

	// Act
	_, err = pipeline.NewChildRun(standalone, 0, []string{"a.pdf"})

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a batch parent")
}

func TestRun_LifecycleTransitions(t *testing.T) {
	// Arrange
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	// Act & Assert - QUEUED -> RUNNING
	require.NoError(t, run.Start())
	assert.Equal(t, pipeline.RunStatusRunning, run.Status())
	assert.NotNil(t, run.StartedAt())

	// RUNNING -> PAUSED -> RUNNING
	require.NoError(t, run.Pause())
	assert.Equal(t, pipeline.RunStatusPaused, run.Status())
	assert.False(t, run.IsActive(), "paused runs must not hold a concurrency slot")

	require.NoError(t, run.Resume())
	assert.Equal(t, pipeline.RunStatusRunning, run.Status())
	assert.True(t, run.IsActive())

	// RUNNING -> COMPLETED
	require.NoError(t, run.Complete())
	assert.Equal(t, pipeline.RunStatusCompleted, run.Status())
	assert.Equal(t, 100, run.Progress())
	assert.NotNil(t, run.CompletedAt())
	assert.True(t, run.IsTerminal())
}

func TestRun_InvalidTransitionsAreRejected(t *testing.T) {
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	// Queued runs cannot pause, resume, or complete
	var transitionErr *pipeline.ErrInvalidRunTransition
	assert.ErrorAs(t, run.Pause(), &transitionErr)
	assert.ErrorAs(t, run.Resume(), &transitionErr)
	assert.ErrorAs(t, run.Complete(), &transitionErr)
	assert.ErrorAs(t, run.Fail("boom"), &transitionErr)

	// Started runs cannot start twice
	require.NoError(t, run.Start())
	assert.ErrorAs(t, run.Start(), &transitionErr)

	// Terminal runs reject everything, including cancel
	require.NoError(t, run.Complete())
	assert.ErrorAs(t, run.Cancel(), &transitionErr)
	assert.ErrorAs(t, run.Fail("boom"), &transitionErr)
}

func TestRun_FailRecordsMessage(t *testing.T) {
	// Arrange
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)
	require.NoError(t, run.Start())

	// Act
	require.NoError(t, run.Fail("stage parse failed: model returned garbage"))

	// Assert
	assert.Equal(t, pipeline.RunStatusFailed, run.Status())
	assert.Equal(t, "stage parse failed: model returned garbage", run.ErrorMessage())
	assert.NotNil(t, run.CompletedAt())
}

func TestRun_PausedRunsCanFail(t *testing.T) {
	// A stage already in flight when the pause lands may still settle
	// with a terminal failure.
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)
	require.NoError(t, run.Start())
	require.NoError(t, run.Pause())

	require.NoError(t, run.Fail("exhausted retries"))
	assert.Equal(t, pipeline.RunStatusFailed, run.Status())
}

func TestRun_CancelFromAnyNonTerminalState(t *testing.T) {
	for _, setup := range []func(r *pipeline.Run){
		func(r *pipeline.Run) {},
		func(r *pipeline.Run) { _ = r.Start() },
		func(r *pipeline.Run) { _ = r.Start(); _ = r.Pause() },
	} {
		run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
		require.NoError(t, err)
		setup(run)

		require.NoError(t, run.Cancel())
		assert.Equal(t, pipeline.RunStatusCancelled, run.Status())
		assert.NotNil(t, run.CompletedAt())
	}
}

func TestRun_ProgressNeverMovesBackwards(t *testing.T) {
	// Arrange
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	// Act
	run.SetProgress(40)
	run.SetProgress(20) // stale update
	run.SetProgress(140)
	run.SetProgress(-5)

	// Assert
	assert.Equal(t, 100, run.Progress(), "values clamp to 0-100 and only move forward")
}

func TestRun_SetTotalItemsRebasesCounters(t *testing.T) {
	// Arrange
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	run.SetTotalItems(10)
	run.AddProcessedItems(7)

	// Act - the next stage counts a different unit
	run.SetTotalItems(120)

	// Assert
	assert.Equal(t, 120, run.TotalItems())
	assert.Equal(t, 0, run.ProcessedItems(), "rebasing resets the processed counter")
}

func TestRun_QuestionCounters(t *testing.T) {
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	// Extraction accumulates an estimate crop by crop
	run.AddQuestions(30)
	run.AddQuestions(12)
	assert.Equal(t, 42, run.TotalQuestions())

	// Parse replaces it with the exact parsed count
	run.SetTotalQuestions(39)
	assert.Equal(t, 39, run.TotalQuestions())
}
