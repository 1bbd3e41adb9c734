package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

func TestNewJob_FirstAttempt(t *testing.T) {
	// Act
	job, err := pipeline.NewJob("run-1", pipeline.StageParse)

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID())
	assert.Equal(t, "run-1", job.RunID())
	assert.Equal(t, pipeline.StageParse, job.Stage())
	assert.Equal(t, pipeline.JobStatusPending, job.Status())
	assert.Equal(t, 1, job.Attempt())
	assert.Nil(t, job.StartedAt())
}

func TestNewJobAttempt_Validation(t *testing.T) {
	_, err := pipeline.NewJobAttempt("", pipeline.StageParse, 1)
	assert.Error(t, err)

	_, err = pipeline.NewJobAttempt("run-1", "", 1)
	assert.Error(t, err)

	_, err = pipeline.NewJobAttempt("run-1", pipeline.StageParse, 0)
	assert.Error(t, err)
}

func TestJob_CompleteKeepsResult(t *testing.T) {
	// Arrange
	job, err := pipeline.NewJob("run-1", pipeline.StageExtract)
	require.NoError(t, err)

	// Act
	require.NoError(t, job.Activate("delivery-token"))
	assert.Equal(t, pipeline.JobStatusActive, job.Status())
	require.NotNil(t, job.ExternalJobID())
	assert.Equal(t, "delivery-token", *job.ExternalJobID())
	assert.NotNil(t, job.StartedAt())

	require.NoError(t, job.Complete([]byte(`{"pages":12}`)))

	// Assert
	assert.Equal(t, pipeline.JobStatusCompleted, job.Status())
	assert.Equal(t, 100, job.Progress())
	assert.JSONEq(t, `{"pages":12}`, string(job.Result()))
	assert.NotNil(t, job.CompletedAt())
	assert.True(t, job.IsTerminal())
}

func TestJob_FailFromPendingOrActive(t *testing.T) {
	// A pending job fails when its run reached a terminal state before
	// the stage ever ran.
	pending, err := pipeline.NewJob("run-1", pipeline.StageParse)
	require.NoError(t, err)
	require.NoError(t, pending.Fail("run cancelled before the stage ran"))
	assert.Equal(t, pipeline.JobStatusFailed, pending.Status())
	assert.Equal(t, "run cancelled before the stage ran", pending.ErrorMessage())

	active, err := pipeline.NewJob("run-1", pipeline.StageParse)
	require.NoError(t, err)
	require.NoError(t, active.Activate(""))
	require.NoError(t, active.Fail("fatal: unreadable pdf"))
	assert.Equal(t, pipeline.JobStatusFailed, active.Status())
}

func TestJob_MarkRetryingRequiresActive(t *testing.T) {
	// Arrange
	job, err := pipeline.NewJob("run-1", pipeline.StageCategorize)
	require.NoError(t, err)

	// Pending attempts have nothing to retry
	var transitionErr *pipeline.ErrInvalidJobTransition
	assert.ErrorAs(t, job.MarkRetrying("lease expired"), &transitionErr)

	// Act
	require.NoError(t, job.Activate(""))
	require.NoError(t, job.MarkRetrying("lease expired; attempt superseded by redelivery"))

	// Assert
	assert.Equal(t, pipeline.JobStatusRetrying, job.Status())
	assert.True(t, job.IsTerminal(), "a retrying attempt is closed; the redelivery gets a new job row")
	assert.ErrorAs(t, job.Complete(nil), &transitionErr)
}

func TestJob_InvalidTransitionsAreRejected(t *testing.T) {
	job, err := pipeline.NewJob("run-1", pipeline.StageSplit)
	require.NoError(t, err)

	var transitionErr *pipeline.ErrInvalidJobTransition
	assert.ErrorAs(t, job.Complete(nil), &transitionErr, "pending jobs cannot complete")

	require.NoError(t, job.Activate(""))
	assert.ErrorAs(t, job.Activate(""), &transitionErr, "active jobs cannot activate twice")

	require.NoError(t, job.Complete(nil))
	assert.ErrorAs(t, job.Fail("late failure"), &transitionErr, "terminal jobs reject fail")
}

func TestJob_ProgressNeverMovesBackwards(t *testing.T) {
	job, err := pipeline.NewJob("run-1", pipeline.StageParse)
	require.NoError(t, err)

	job.SetProgress(60)
	job.SetProgress(30)
	job.SetProgress(101)

	assert.Equal(t, 100, job.Progress())
}
