package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func TestJobRepository_CreateAndFindByID(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"a.pdf"})

	job, err := pipeline.NewJob(run.ID(), pipeline.StageExtract)
	require.NoError(t, err)
	require.NoError(t, job.Activate("delivery-token"))
	require.NoError(t, job.Complete([]byte(`{"crops":12}`)))

	// Act
	require.NoError(t, repos.Jobs.Create(ctx, job))
	found, err := repos.Jobs.FindByID(ctx, job.ID())

	// Assert
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, run.ID(), found.RunID())
	assert.Equal(t, pipeline.StageExtract, found.Stage())
	assert.Equal(t, pipeline.JobStatusCompleted, found.Status())
	assert.Equal(t, 1, found.Attempt())
	assert.JSONEq(t, `{"crops":12}`, string(found.Result()))
	require.NotNil(t, found.ExternalJobID())
	assert.Equal(t, "delivery-token", *found.ExternalJobID())
}

func TestJobRepository_FindLatestByRunAndStage(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"a.pdf"})

	first, err := pipeline.NewJob(run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	require.NoError(t, first.Activate(""))
	require.NoError(t, first.MarkRetrying("lease expired"))
	require.NoError(t, repos.Jobs.Create(ctx, first))

	second, err := pipeline.NewJobAttempt(run.ID(), pipeline.StageParse, 2)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.Create(ctx, second))

	// Act
	latest, err := repos.Jobs.FindLatestByRunAndStage(ctx, run.ID(), pipeline.StageParse)

	// Assert: the highest attempt is the authoritative one
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID(), latest.ID())
	assert.Equal(t, 2, latest.Attempt())

	none, err := repos.Jobs.FindLatestByRunAndStage(ctx, run.ID(), pipeline.StageSplit)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobRepository_FindByRunIDOldestFirst(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"a.pdf"})
	other := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"b.pdf"})

	for _, stage := range []pipeline.Stage{pipeline.StageExtract, pipeline.StageParse} {
		job, err := pipeline.NewJob(run.ID(), stage)
		require.NoError(t, err)
		require.NoError(t, repos.Jobs.Create(ctx, job))
	}
	foreign, err := pipeline.NewJob(other.ID(), pipeline.StageExtract)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.Create(ctx, foreign))

	// Act
	jobs, err := repos.Jobs.FindByRunID(ctx, run.ID())

	// Assert
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, pipeline.StageExtract, jobs[0].Stage())
	assert.Equal(t, pipeline.StageParse, jobs[1].Stage())
}

func TestJobRepository_FindByStatuses(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"a.pdf"})

	pending, err := pipeline.NewJob(run.ID(), pipeline.StageExtract)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.Create(ctx, pending))

	active, err := pipeline.NewJob(run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	require.NoError(t, active.Activate(""))
	require.NoError(t, repos.Jobs.Create(ctx, active))

	done, err := pipeline.NewJob(run.ID(), pipeline.StageCategorize)
	require.NoError(t, err)
	require.NoError(t, done.Activate(""))
	require.NoError(t, done.Complete(nil))
	require.NoError(t, repos.Jobs.Create(ctx, done))

	// Act
	open, err := repos.Jobs.FindByStatuses(ctx, []pipeline.JobStatus{
		pipeline.JobStatusPending,
		pipeline.JobStatusActive,
	})

	// Assert
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, pending.ID(), open[0].ID())
	assert.Equal(t, active.ID(), open[1].ID())
}

func TestJobRepository_DeleteByRunID(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"a.pdf"})
	keep := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"b.pdf"})

	for _, r := range []string{run.ID(), keep.ID()} {
		job, err := pipeline.NewJob(r, pipeline.StageExtract)
		require.NoError(t, err)
		require.NoError(t, repos.Jobs.Create(ctx, job))
	}

	// Act
	require.NoError(t, repos.Jobs.DeleteByRunID(ctx, run.ID()))

	// Assert
	gone, err := repos.Jobs.FindByRunID(ctx, run.ID())
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := repos.Jobs.FindByRunID(ctx, keep.ID())
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
