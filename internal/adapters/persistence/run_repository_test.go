package persistence_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func TestRunRepository_CreateAndFindByID(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")

	run, err := pipeline.NewRun(owner.ID(), []string{"anatomy.pdf", "surgery.pdf"}, []string{"https://cdn.example.com/anatomy.pdf"})
	require.NoError(t, err)

	// Act
	require.NoError(t, repos.Runs.Create(ctx, run))
	found, err := repos.Runs.FindByID(ctx, run.ID())

	// Assert
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, run.ID(), found.ID())
	assert.Equal(t, owner.ID(), found.TenantID())
	assert.Equal(t, []string{"anatomy.pdf", "surgery.pdf"}, found.InputFiles())
	assert.Equal(t, []string{"https://cdn.example.com/anatomy.pdf"}, found.SourceURLs())
	assert.Equal(t, pipeline.RunStatusQueued, found.Status())
	assert.Equal(t, pipeline.StageExtract, found.CurrentStage())
	assert.Equal(t, 0, found.Progress())
	assert.Nil(t, found.ParentRunID())
}

func TestRunRepository_FindByIDReturnsNilWhenMissing(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)

	// Act
	found, err := repos.Runs.FindByID(context.Background(), "no-such-run")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRunRepository_UpdatePersistsTransitions(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")

	run, err := pipeline.NewRun(owner.ID(), []string{"anatomy.pdf"}, nil)
	require.NoError(t, err)
	require.NoError(t, repos.Runs.Create(ctx, run))

	// Act
	require.NoError(t, run.Start())
	run.SetCurrentStage(pipeline.StageParse)
	run.SetProgress(40)
	require.NoError(t, repos.Runs.Update(ctx, run))

	// Assert
	found, err := repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusRunning, found.Status())
	assert.Equal(t, pipeline.StageParse, found.CurrentStage())
	assert.Equal(t, 40, found.Progress())
	assert.NotNil(t, found.StartedAt())
}

func TestRunRepository_UpdateProgressNeverLowers(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"anatomy.pdf"})

	// Act & Assert: moves up, refuses to move down
	require.NoError(t, repos.Runs.UpdateProgress(ctx, run.ID(), 50))
	found, err := repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, 50, found.Progress())

	require.NoError(t, repos.Runs.UpdateProgress(ctx, run.ID(), 30))
	found, err = repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, 50, found.Progress())

	require.NoError(t, repos.Runs.UpdateProgress(ctx, run.ID(), 70))
	found, err = repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, 70, found.Progress())

	// Unknown runs are a no-op, not an error
	assert.NoError(t, repos.Runs.UpdateProgress(ctx, "no-such-run", 90))
}

func TestRunRepository_UpdateItemCountsLeavesStatusAlone(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"anatomy.pdf"})

	// An operator cancels the run while a stage is mid-loop
	fresh, err := repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	require.NoError(t, fresh.Cancel())
	require.NoError(t, repos.Runs.Update(ctx, fresh))

	// Act: the stage keeps reporting counters off its stale copy
	require.NoError(t, repos.Runs.UpdateItemCounts(ctx, run.ID(), 4, 2, 17))

	// Assert: counters land, the status change survives
	found, err := repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, 4, found.TotalItems())
	assert.Equal(t, 2, found.ProcessedItems())
	assert.Equal(t, 17, found.TotalQuestions())
	assert.Equal(t, pipeline.RunStatusCancelled, found.Status())

	// Unknown runs are a no-op, not an error
	assert.NoError(t, repos.Runs.UpdateItemCounts(ctx, "no-such-run", 1, 1, 1))
}

func TestRunRepository_FindByTenantFiltersAndPaginates(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")
	other := helpers.SeedTenant(t, repos, "debrecen")

	queued, err := pipeline.NewRun(owner.ID(), []string{"a.pdf"}, nil)
	require.NoError(t, err)
	require.NoError(t, repos.Runs.Create(ctx, queued))

	completed := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"b.pdf"})
	require.NoError(t, completed.Complete())
	require.NoError(t, repos.Runs.Update(ctx, completed))

	parent, err := pipeline.NewParentRun(owner.ID(), []string{"c.pdf"}, nil, 30, 2)
	require.NoError(t, err)
	require.NoError(t, repos.Runs.Create(ctx, parent))

	child, err := pipeline.NewChildRun(parent, 0, []string{"c.pdf"})
	require.NoError(t, err)
	require.NoError(t, repos.Runs.Create(ctx, child))

	foreign := helpers.SeedRunningRun(t, repos, other.ID(), []string{"z.pdf"})

	// Act: default filter hides children and other tenants
	runs, err := repos.Runs.FindByTenant(ctx, owner.ID(), pipeline.RunFilter{})

	// Assert: newest first
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, parent.ID(), runs[0].ID())
	assert.Equal(t, completed.ID(), runs[1].ID())
	assert.Equal(t, queued.ID(), runs[2].ID())
	for _, r := range runs {
		assert.NotEqual(t, foreign.ID(), r.ID())
	}

	// Status filter
	runs, err = repos.Runs.FindByTenant(ctx, owner.ID(), pipeline.RunFilter{
		Statuses: []pipeline.RunStatus{pipeline.RunStatusCompleted},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, completed.ID(), runs[0].ID())

	// Children included on request
	runs, err = repos.Runs.FindByTenant(ctx, owner.ID(), pipeline.RunFilter{IncludeChildren: true})
	require.NoError(t, err)
	assert.Len(t, runs, 4)

	// Pagination
	runs, err = repos.Runs.FindByTenant(ctx, owner.ID(), pipeline.RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, completed.ID(), runs[0].ID())
}

func TestRunRepository_FindChildrenOrdersByBatchIndex(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")

	files := []string{"a.pdf", "b.pdf", "c.pdf"}
	parent, err := pipeline.NewParentRun(owner.ID(), files, nil, 1, 3)
	require.NoError(t, err)
	require.NoError(t, repos.Runs.Create(ctx, parent))

	// Created out of order on purpose
	for _, idx := range []int{2, 0, 1} {
		child, err := pipeline.NewChildRun(parent, idx, files[idx:idx+1])
		require.NoError(t, err)
		require.NoError(t, repos.Runs.Create(ctx, child))
	}

	// Act
	children, err := repos.Runs.FindChildren(ctx, parent.ID())

	// Assert
	require.NoError(t, err)
	require.Len(t, children, 3)
	for i, child := range children {
		require.NotNil(t, child.BatchIndex())
		assert.Equal(t, i, *child.BatchIndex())
		assert.Equal(t, files[i:i+1], child.InputFiles())
	}
}

func TestRunRepository_CountActiveByTenant(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	ctx := context.Background()
	owner := helpers.SeedTenant(t, repos, "semmelweis")

	queued, err := pipeline.NewRun(owner.ID(), []string{"a.pdf"}, nil)
	require.NoError(t, err)
	require.NoError(t, repos.Runs.Create(ctx, queued))

	helpers.SeedRunningRun(t, repos, owner.ID(), []string{"b.pdf"})

	paused := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"c.pdf"})
	require.NoError(t, paused.Pause())
	require.NoError(t, repos.Runs.Update(ctx, paused))

	completed := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"d.pdf"})
	require.NoError(t, completed.Complete())
	require.NoError(t, repos.Runs.Update(ctx, completed))

	// A running batch counts once: children stay out of the tally
	parent, err := pipeline.NewParentRun(owner.ID(), []string{"e.pdf", "f.pdf"}, nil, 1, 2)
	require.NoError(t, err)
	require.NoError(t, parent.Start())
	require.NoError(t, repos.Runs.Create(ctx, parent))
	for idx := 0; idx < 2; idx++ {
		child, err := pipeline.NewChildRun(parent, idx, []string{fmt.Sprintf("%c.pdf", 'e'+idx)})
		require.NoError(t, err)
		require.NoError(t, child.Start())
		require.NoError(t, repos.Runs.Create(ctx, child))
	}

	// Act
	count, err := repos.Runs.CountActiveByTenant(ctx, owner.ID())

	// Assert: queued + running + parent; paused and completed are free
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunRepository_DeleteCascadesJobsAndLogs(t *testing.T) {
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
		require.NoError(t, repos.Logs.Log(ctx, r, "Starting extraction", "INFO", nil))
	}

	// Act
	require.NoError(t, repos.Runs.Delete(ctx, run.ID()))

	// Assert: the run and its history are gone, the sibling untouched
	found, err := repos.Runs.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Nil(t, found)

	jobs, err := repos.Jobs.FindByRunID(ctx, run.ID())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	logs, err := repos.Logs.GetLogs(ctx, run.ID(), 10, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, logs)

	keptJobs, err := repos.Jobs.FindByRunID(ctx, keep.ID())
	require.NoError(t, err)
	assert.Len(t, keptJobs, 1)
}
