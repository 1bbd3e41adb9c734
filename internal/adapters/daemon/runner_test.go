package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
	"github.com/qbanklabs/qbank-go/internal/application/stages"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

// scriptedProcessor runs a test-provided function as a stage.
type scriptedProcessor struct {
	stage pipeline.Stage
	fn    func(ctx context.Context, run *pipeline.Run, payload json.RawMessage) (*stages.Result, error)
	calls int32
}

func (p *scriptedProcessor) Stage() pipeline.Stage { return p.stage }

func (p *scriptedProcessor) Process(ctx context.Context, run *pipeline.Run, payload json.RawMessage) (*stages.Result, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.fn(ctx, run, payload)
}

// Calls reports how many attempts ran. Inside fn it already counts the
// attempt in flight, so the first call sees 1.
func (p *scriptedProcessor) Calls() int {
	return int(atomic.LoadInt32(&p.calls))
}

func succeedWith(summary, nextPayload string) func(context.Context, *pipeline.Run, json.RawMessage) (*stages.Result, error) {
	return func(context.Context, *pipeline.Run, json.RawMessage) (*stages.Result, error) {
		result := &stages.Result{Summary: json.RawMessage(summary)}
		if nextPayload != "" {
			result.NextPayload = json.RawMessage(nextPayload)
		}
		return result, nil
	}
}

func newRunner(t *testing.T, repos *helpers.TestRepositories, q queue.Queue, proc stages.Processor, leaseDuration time.Duration) *daemon.StageRunner {
	t.Helper()

	runner, err := daemon.NewStageRunner(proc.Stage(), stages.NewRegistry(proc), q,
		repos.Runs, repos.Jobs, repos.Logs, nil, nil, leaseDuration, 1)
	require.NoError(t, err)
	return runner
}

// seedRun persists a run already advanced to the given stage.
func seedRun(t *testing.T, repos *helpers.TestRepositories, tenantID string, stage pipeline.Stage, start bool) *pipeline.Run {
	t.Helper()

	run, err := pipeline.NewRun(tenantID, []string{"exam.pdf"}, nil)
	require.NoError(t, err)
	if start {
		require.NoError(t, run.Start())
	}
	run.SetCurrentStage(stage)
	require.NoError(t, repos.Runs.Create(context.Background(), run))
	return run
}

// enqueueWork mirrors the admission side: queue message first, then the
// PENDING job row the runner will claim.
func enqueueWork(t *testing.T, repos *helpers.TestRepositories, q queue.Queue, run *pipeline.Run, stage pipeline.Stage, payload string) string {
	t.Helper()

	messageID, err := q.Enqueue(context.Background(), queue.Message{
		Stage:    stage,
		TenantID: run.TenantID(),
		RunID:    run.ID(),
		Payload:  json.RawMessage(payload),
	})
	require.NoError(t, err)

	job, err := pipeline.NewJob(run.ID(), stage)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.Create(context.Background(), job))
	return messageID
}

func TestStageRunner_CompletesStageAndChains(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageExtract, false)
	proc := &scriptedProcessor{
		stage: pipeline.StageExtract,
		fn:    succeedWith(`{"images":12}`, `{"input_dir":"/data/out"}`),
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageExtract, `{}`)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusRunning, stored.Status())
	assert.Equal(t, pipeline.StageParse, stored.CurrentStage())
	assert.Equal(t, 20, stored.Progress())

	extractJob, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageExtract)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, extractJob.Status())
	assert.JSONEq(t, `{"images":12}`, string(extractJob.Result()))

	parseJob, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusPending, parseJob.Status())

	parseMessages := q.Messages(pipeline.StageParse)
	require.Len(t, parseMessages, 1)
	assert.Equal(t, run.ID(), parseMessages[0].RunID)
	assert.JSONEq(t, `{"input_dir":"/data/out"}`, string(parseMessages[0].Payload))

	status, ok := q.StatusOf(messageID)
	require.True(t, ok)
	assert.Equal(t, "COMPLETED", status)
}

func TestStageRunner_ProcessOneReportsEmptyQueue(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	proc := &scriptedProcessor{stage: pipeline.StageExtract, fn: succeedWith(`{}`, "")}
	runner := newRunner(t, repos, q, proc, time.Minute)

	// Act
	err := runner.ProcessOne(context.Background())

	// Assert
	require.ErrorIs(t, err, helpers.ErrQueueEmpty)
	assert.Equal(t, 0, proc.Calls())
}

func TestStageRunner_CompletesRunAfterFinalStage(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageSplit, true)
	proc := &scriptedProcessor{
		stage: pipeline.StageSplit,
		fn:    succeedWith(`{"files":4}`, ""),
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageSplit, `{}`)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, stored.Status())
	assert.Equal(t, 100, stored.Progress())
	assert.NotNil(t, stored.CompletedAt())

	splitJob, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageSplit)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, splitJob.Status())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "COMPLETED", status)

	for _, stage := range pipeline.AllStages {
		if stage == pipeline.StageSplit {
			continue
		}
		assert.Empty(t, q.Messages(stage), "no follow-up work expected on %s", stage)
	}
}

func TestStageRunner_RetryableFailureRedelivers(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	now := time.Now()
	q.SetNow(func() time.Time { return now })

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	proc := &scriptedProcessor{stage: pipeline.StageParse}
	proc.fn = func(ctx context.Context, run *pipeline.Run, payload json.RawMessage) (*stages.Result, error) {
		if proc.Calls() == 1 {
			return nil, pipeline.Retryable(errors.New("vision model overloaded"))
		}
		return succeedWith(`{"parsed":3}`, `{"batch":"b"}`)(ctx, run, payload)
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	// Act: first attempt fails retryably
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert: the attempt is parked, the run is not
	firstJob, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusRetrying, firstJob.Status())
	assert.Contains(t, firstJob.ErrorMessage(), "vision model overloaded")

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusRunning, stored.Status())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "PENDING", status)

	// The redelivery honors the backoff window
	require.ErrorIs(t, runner.ProcessOne(context.Background()), helpers.ErrQueueEmpty)

	// Act: past the backoff the second attempt succeeds
	now = now.Add(queue.InitialRetryBackoff + time.Second)
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	latest, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, latest.Status())
	assert.Equal(t, 2, latest.Attempt())

	stored, err = repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageCategorize, stored.CurrentStage())
	assert.Equal(t, 2, proc.Calls())
}

func TestStageRunner_ExhaustedAttemptsFailTheRun(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	now := time.Now()
	q.SetNow(func() time.Time { return now })

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	proc := &scriptedProcessor{
		stage: pipeline.StageParse,
		fn: func(context.Context, *pipeline.Run, json.RawMessage) (*stages.Result, error) {
			return nil, pipeline.Retryable(errors.New("model keeps timing out"))
		},
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	// Act: burn through the delivery budget
	require.NoError(t, runner.ProcessOne(context.Background()))
	now = now.Add(queue.RetryBackoff(1) + time.Second)
	require.NoError(t, runner.ProcessOne(context.Background()))
	now = now.Add(queue.RetryBackoff(2) + time.Second)
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	assert.Equal(t, queue.MaxDeliveryAttempts, proc.Calls())

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, stored.Status())
	assert.Contains(t, stored.ErrorMessage(), "stage parse failed")
	assert.Contains(t, stored.ErrorMessage(), "model keeps timing out")

	latest, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, latest.Status())
	assert.Equal(t, queue.MaxDeliveryAttempts, latest.Attempt())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "FAILED", status)
}

func TestStageRunner_CrashedFinalAttemptFailsTheRun(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	now := time.Now()
	q.SetNow(func() time.Time { return now })

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	proc := &scriptedProcessor{
		stage: pipeline.StageParse,
		fn:    succeedWith(`{}`, ""),
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	// Workers crash mid-attempt: every lease expires without a
	// disposition, burning the whole delivery budget silently
	for attempt := 1; attempt <= queue.MaxDeliveryAttempts; attempt++ {
		delivery, err := q.Lease(context.Background(), pipeline.StageParse, daemon.ConsumerGroup, time.Minute)
		require.NoError(t, err)
		require.Equal(t, attempt, delivery.Attempt)
		now = now.Add(time.Minute + time.Second)
	}

	// Act: a live worker claims the exhausted redelivery
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert: the stage never ran again, and the failure reached the run
	assert.Equal(t, 0, proc.Calls())

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, stored.Status())
	assert.Contains(t, stored.ErrorMessage(), "lease expired on final attempt")

	latest, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, latest.Status())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "FAILED", status)
}

func TestStageRunner_FatalErrorFailsRunImmediately(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageCategorize, true)
	proc := &scriptedProcessor{
		stage: pipeline.StageCategorize,
		fn: func(context.Context, *pipeline.Run, json.RawMessage) (*stages.Result, error) {
			return nil, errors.New("tenant has no categories configured")
		},
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageCategorize, `{}`)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	assert.Equal(t, 1, proc.Calls())

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, stored.Status())
	assert.Contains(t, stored.ErrorMessage(), "tenant has no categories configured")

	job, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageCategorize)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, job.Status())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "FAILED", status)
}

func TestStageRunner_PanicFailsRun(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageExtract, true)
	proc := &scriptedProcessor{
		stage: pipeline.StageExtract,
		fn: func(context.Context, *pipeline.Run, json.RawMessage) (*stages.Result, error) {
			panic("corrupt page tree")
		},
	}
	runner := newRunner(t, repos, q, proc, time.Minute)
	enqueueWork(t, repos, q, run, pipeline.StageExtract, `{}`)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, stored.Status())
	assert.Contains(t, stored.ErrorMessage(), "panicked")
	assert.Contains(t, stored.ErrorMessage(), "corrupt page tree")
}

func TestStageRunner_ParksPausedRuns(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	now := time.Now()
	q.SetNow(func() time.Time { return now })

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	require.NoError(t, run.Pause())
	require.NoError(t, repos.Runs.Update(context.Background(), run))

	proc := &scriptedProcessor{stage: pipeline.StageParse, fn: succeedWith(`{"parsed":1}`, `{}`)}
	runner := newRunner(t, repos, q, proc, time.Minute)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	// Act: the delivery is parked, not consumed
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	assert.Equal(t, 0, proc.Calls())
	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "PENDING", status)

	job, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusPending, job.Status())

	// Act: resume and step past the park delay
	require.NoError(t, run.Resume())
	require.NoError(t, repos.Runs.Update(context.Background(), run))
	now = now.Add(16 * time.Second)
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	assert.Equal(t, 1, proc.Calls())
	latest, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, latest.Status())
}

func TestStageRunner_DropsMessagesForDeletedRuns(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	proc := &scriptedProcessor{stage: pipeline.StageParse, fn: succeedWith(`{}`, "")}
	runner := newRunner(t, repos, q, proc, time.Minute)

	messageID, err := q.Enqueue(context.Background(), queue.Message{
		Stage: pipeline.StageParse,
		RunID: "run-deleted-long-ago",
	})
	require.NoError(t, err)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	assert.Equal(t, 0, proc.Calls())
	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "COMPLETED", status)
}

func TestStageRunner_ClosesOutCancelledRuns(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	require.NoError(t, run.Cancel())
	require.NoError(t, repos.Runs.Update(context.Background(), run))

	proc := &scriptedProcessor{stage: pipeline.StageParse, fn: succeedWith(`{}`, "")}
	runner := newRunner(t, repos, q, proc, time.Minute)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	assert.Equal(t, 0, proc.Calls())

	job, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, job.Status())
	assert.Contains(t, job.ErrorMessage(), "CANCELLED before the stage ran")

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "COMPLETED", status)

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCancelled, stored.Status())
}

func TestStageRunner_AcksDuplicateDeliveryOfSettledStage(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)

	settled, err := pipeline.NewJob(run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	require.NoError(t, settled.Activate(""))
	require.NoError(t, settled.Complete(json.RawMessage(`{"parsed":7}`)))
	require.NoError(t, repos.Jobs.Create(context.Background(), settled))

	messageID, err := q.Enqueue(context.Background(), queue.Message{
		Stage:    pipeline.StageParse,
		TenantID: run.TenantID(),
		RunID:    run.ID(),
	})
	require.NoError(t, err)

	proc := &scriptedProcessor{stage: pipeline.StageParse, fn: succeedWith(`{}`, "")}
	runner := newRunner(t, repos, q, proc, time.Minute)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert: the stale copy is dropped without running anything
	assert.Equal(t, 0, proc.Calls())

	latest, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, latest.Status())
	assert.Equal(t, 1, latest.Attempt())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "COMPLETED", status)
}

func TestStageRunner_RecreatesMissingJobRow(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageExtract, true)

	// The enqueue-side job write was lost; only the message exists.
	_, err := q.Enqueue(context.Background(), queue.Message{
		Stage:    pipeline.StageExtract,
		TenantID: run.TenantID(),
		RunID:    run.ID(),
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	proc := &scriptedProcessor{stage: pipeline.StageExtract, fn: succeedWith(`{"images":2}`, `{}`)}
	runner := newRunner(t, repos, q, proc, time.Minute)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert
	job, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageExtract)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, pipeline.JobStatusCompleted, job.Status())
	assert.Equal(t, 1, job.Attempt())
}

func TestStageRunner_SupersedesStaleActiveJob(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	now := time.Now()
	q.SetNow(func() time.Time { return now })

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	// A previous worker claimed the message and died mid-attempt.
	_, err := q.Lease(context.Background(), pipeline.StageParse, daemon.ConsumerGroup, 2*time.Second)
	require.NoError(t, err)
	stale, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	require.NoError(t, stale.Activate(""))
	require.NoError(t, repos.Jobs.Update(context.Background(), stale))

	// The lease expires and the message becomes claimable again.
	now = now.Add(3 * time.Second)

	proc := &scriptedProcessor{stage: pipeline.StageParse, fn: succeedWith(`{"parsed":5}`, `{}`)}
	runner := newRunner(t, repos, q, proc, time.Minute)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert: the stale row is closed, the redelivery ran as attempt 2
	jobs, err := repos.Jobs.FindByRunID(context.Background(), run.ID())
	require.NoError(t, err)

	var parseJobs []*pipeline.Job
	for _, job := range jobs {
		if job.Stage() == pipeline.StageParse {
			parseJobs = append(parseJobs, job)
		}
	}
	require.Len(t, parseJobs, 2)

	latest, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, latest.Status())
	assert.Equal(t, 2, latest.Attempt())

	superseded, err := repos.Jobs.FindByID(context.Background(), stale.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusRetrying, superseded.Status())
	assert.Contains(t, superseded.ErrorMessage(), "lease expired")
}

func TestStageRunner_ShutdownReleasesInFlightAttempt(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	started := make(chan struct{})
	proc := &scriptedProcessor{
		stage: pipeline.StageParse,
		fn: func(ctx context.Context, _ *pipeline.Run, _ json.RawMessage) (*stages.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	runner := newRunner(t, repos, q, proc, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	// Act
	err := runner.ProcessOne(ctx)

	// Assert: the attempt is parked without consuming a delivery
	require.ErrorIs(t, err, context.Canceled)

	job, jerr := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, jerr)
	assert.Equal(t, pipeline.JobStatusRetrying, job.Status())
	assert.Contains(t, job.ErrorMessage(), "interrupted by daemon shutdown")

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "PENDING", status)

	stored, rerr := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, rerr)
	assert.Equal(t, pipeline.RunStatusRunning, stored.Status())
}

func TestStageRunner_HeartbeatCancelsAttemptWhenRunCancelled(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	messageID := enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	proc := &scriptedProcessor{stage: pipeline.StageParse}
	proc.fn = func(ctx context.Context, attempt *pipeline.Run, _ json.RawMessage) (*stages.Result, error) {
		// An operator cancels the run behind the attempt's back
		fresh, err := repos.Runs.FindByID(context.Background(), attempt.ID())
		require.NoError(t, err)
		require.NoError(t, fresh.Cancel())
		require.NoError(t, repos.Runs.Update(context.Background(), fresh))

		<-ctx.Done()
		return nil, ctx.Err()
	}

	// A short lease keeps the heartbeat interval at its 1s floor.
	runner := newRunner(t, repos, q, proc, 2*time.Second)

	// Act
	require.NoError(t, runner.ProcessOne(context.Background()))

	// Assert: the attempt was aborted and the run kept its CANCELLED state
	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCancelled, stored.Status())

	job, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, job.Status())

	status, _ := q.StatusOf(messageID)
	assert.Equal(t, "COMPLETED", status)
}

func TestStageRunner_LostLeaseSupersedesAttempt(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	base := time.Now()
	q.SetNow(func() time.Time { return base })

	run := seedRun(t, repos, owner.ID(), pipeline.StageParse, true)
	enqueueWork(t, repos, q, run, pipeline.StageParse, `{}`)

	started := make(chan struct{})
	proc := &scriptedProcessor{
		stage: pipeline.StageParse,
		fn: func(ctx context.Context, _ *pipeline.Run, _ json.RawMessage) (*stages.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	runner := newRunner(t, repos, q, proc, 2*time.Second)

	done := make(chan error, 1)
	go func() {
		done <- runner.ProcessOne(context.Background())
	}()

	// The attempt's lease expires and another worker claims the message.
	<-started
	expired := base.Add(3 * time.Second)
	q.SetNow(func() time.Time { return expired })
	_, err := q.Lease(context.Background(), pipeline.StageParse, daemon.ConsumerGroup, time.Minute)
	require.NoError(t, err)

	// Act: the next heartbeat loses the lease and aborts the attempt
	require.NoError(t, <-done)

	// Assert: the run is untouched; only the attempt row records the loss
	job, err := repos.Jobs.FindLatestByRunAndStage(context.Background(), run.ID(), pipeline.StageParse)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusRetrying, job.Status())
	assert.Contains(t, job.ErrorMessage(), "lease lost")

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusRunning, stored.Status())
}

func TestStageRunner_StartDrainsQueueUntilStopped(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	q := helpers.NewMockQueue()
	owner := helpers.SeedTenant(t, repos, "acme")

	run := seedRun(t, repos, owner.ID(), pipeline.StageSplit, true)
	proc := &scriptedProcessor{stage: pipeline.StageSplit, fn: succeedWith(`{"files":2}`, "")}
	runner := newRunner(t, repos, q, proc, time.Minute)
	enqueueWork(t, repos, q, run, pipeline.StageSplit, `{}`)

	// Act
	runner.Start()
	defer runner.Stop()

	// Assert
	require.Eventually(t, func() bool {
		stored, err := repos.Runs.FindByID(context.Background(), run.ID())
		return err == nil && stored != nil && stored.Status() == pipeline.RunStatusCompleted
	}, 5*time.Second, 25*time.Millisecond)
}
