package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qbanklabs/qbank-go/internal/adapters/metrics"
	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/application/stages"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

const (
	// ConsumerGroup is the delivery group shared by every worker
	// process; all daemons drain the same copy of each stage stream.
	ConsumerGroup = "workers"

	// pausedRetryDelay is how long a leased message for a paused run is
	// parked before it becomes claimable again
	pausedRetryDelay = 15 * time.Second

	// leaseErrorBackoff paces the lease loop after an infrastructure
	// error so a broken database does not spin the daemon hot
	leaseErrorBackoff = time.Second

	// stopTimeout bounds how long Stop waits for in-flight attempts
	stopTimeout = 10 * time.Second
)

// persistContext returns a short-lived context for bookkeeping writes
// that must survive attempt or daemon cancellation.
func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// StageRunner drains one stage's queue. It leases deliveries, keeps a
// job row per attempt, supervises the processor with heartbeats and
// panic recovery, and applies the chaining policy when a stage
// succeeds. One runner per stage; concurrency sets how many lease
// loops it runs in parallel.
type StageRunner struct {
	stage         pipeline.Stage
	processor     stages.Processor
	queue         queue.Queue
	runs          pipeline.RunRepository
	jobs          pipeline.JobRepository
	logs          persistence.PipelineLogRepository
	cache         common.BlobCache
	clock         shared.Clock
	leaseDuration time.Duration
	concurrency   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewStageRunner creates a runner for one stage. The registry must
// hold a processor for it; leaseDuration is the stage's visibility
// timeout (the coordinate stage gets the coordinator timeout here).
func NewStageRunner(
	stage pipeline.Stage,
	registry *stages.Registry,
	q queue.Queue,
	runs pipeline.RunRepository,
	jobs pipeline.JobRepository,
	logs persistence.PipelineLogRepository,
	cache common.BlobCache,
	clock shared.Clock,
	leaseDuration time.Duration,
	concurrency int,
) (*StageRunner, error) {
	processor, ok := registry.For(stage)
	if !ok {
		return nil, fmt.Errorf("no processor registered for stage %s", stage)
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if leaseDuration <= 0 {
		leaseDuration = queue.DefaultLeaseDuration
	}
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &StageRunner{
		stage:         stage,
		processor:     processor,
		queue:         q,
		runs:          runs,
		jobs:          jobs,
		logs:          logs,
		cache:         cache,
		clock:         clock,
		leaseDuration: leaseDuration,
		concurrency:   concurrency,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Stage returns the stage this runner drains
func (r *StageRunner) Stage() pipeline.Stage {
	return r.stage
}

// Start launches the lease loops
func (r *StageRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	fmt.Printf("Stage runner %s starting with %d lease loops (lease %s)\n",
		r.stage, r.concurrency, r.leaseDuration)

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.leaseLoop()
	}
}

// Stop cancels the loops and waits for in-flight attempts to wind
// down. Attempts interrupted by shutdown are released back to the
// queue without consuming a delivery attempt.
func (r *StageRunner) Stop() {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		fmt.Printf("Stage runner %s stopped\n", r.stage)
	case <-time.After(stopTimeout):
		fmt.Printf("Warning: stage runner %s did not stop within %s\n", r.stage, stopTimeout)
	}
}

func (r *StageRunner) leaseLoop() {
	defer r.wg.Done()
	for {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.ProcessOne(r.ctx); err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.clock.Sleep(leaseErrorBackoff)
		}
	}
}

// ProcessOne leases a single delivery and sees it through to a
// disposition. It returns the lease error when nothing could be
// claimed; a delivery that was handled, even one that failed its run,
// returns nil.
func (r *StageRunner) ProcessOne(ctx context.Context) error {
	delivery, err := r.queue.Lease(ctx, r.stage, ConsumerGroup, r.leaseDuration)
	if err != nil {
		return err
	}
	return r.handleDelivery(ctx, delivery)
}

func (r *StageRunner) handleDelivery(ctx context.Context, delivery *queue.Delivery) error {
	runID := delivery.Message.RunID

	run, err := r.runs.FindByID(ctx, runID)
	if err != nil {
		// Transient load failure: hand the lease back untouched
		r.release(delivery.Handle, leaseErrorBackoff)
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		// The run was deleted while its message sat in the queue
		fmt.Printf("Dropping %s message for deleted run %s\n", r.stage, runID)
		r.ack(delivery.Handle)
		return nil
	}

	if run.Status() == pipeline.RunStatusPaused {
		// Park the work; releasing does not consume an attempt
		r.release(delivery.Handle, pausedRetryDelay)
		return nil
	}
	if run.IsTerminal() {
		r.closeOutTerminal(run, delivery)
		return nil
	}
	if delivery.Exhausted() {
		r.settleExhausted(run, delivery)
		return nil
	}

	job, proceed, err := r.resolveJob(ctx, delivery)
	if err != nil {
		r.release(delivery.Handle, leaseErrorBackoff)
		return err
	}
	if !proceed {
		r.ack(delivery.Handle)
		return nil
	}

	if run.Status() == pipeline.RunStatusQueued {
		if err := run.Start(); err == nil {
			if err := r.runs.Update(ctx, run); err != nil {
				r.release(delivery.Handle, leaseErrorBackoff)
				return fmt.Errorf("failed to start run %s: %w", runID, err)
			}
			metrics.RecordRunTransition(string(pipeline.RunStatusRunning))
		}
	}

	return r.execute(ctx, run, job, delivery)
}

// resolveJob reconciles the delivery with the run's job rows. Enqueue
// creates a PENDING row for the first delivery; redeliveries after
// retries or crashes get fresh attempt rows; a delivery whose stage
// already completed is acknowledged without running (proceed=false).
func (r *StageRunner) resolveJob(ctx context.Context, delivery *queue.Delivery) (*pipeline.Job, bool, error) {
	runID := delivery.Message.RunID

	latest, err := r.jobs.FindLatestByRunAndStage(ctx, runID, r.stage)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load job for run %s stage %s: %w", runID, r.stage, err)
	}

	switch {
	case latest == nil:
		// Enqueue-side job creation failed; reconcile by creating the
		// attempt row now
		job, err := pipeline.NewJobAttempt(runID, r.stage, delivery.Attempt)
		if err != nil {
			return nil, false, err
		}
		if err := r.jobs.Create(ctx, job); err != nil {
			return nil, false, fmt.Errorf("failed to create job: %w", err)
		}
		return job, true, nil

	case latest.Status() == pipeline.JobStatusPending:
		return latest, true, nil

	case latest.Status() == pipeline.JobStatusActive:
		// A previous worker died mid-attempt and the lease expired.
		// Close the stale row and run a fresh attempt.
		if err := latest.MarkRetrying("lease expired; attempt superseded by redelivery"); err == nil {
			if err := r.jobs.Update(ctx, latest); err != nil {
				return nil, false, fmt.Errorf("failed to close stale job %s: %w", latest.ID(), err)
			}
		}
		job, err := pipeline.NewJobAttempt(runID, r.stage, delivery.Attempt)
		if err != nil {
			return nil, false, err
		}
		if err := r.jobs.Create(ctx, job); err != nil {
			return nil, false, fmt.Errorf("failed to create job: %w", err)
		}
		return job, true, nil

	case latest.Status() == pipeline.JobStatusRetrying:
		job, err := pipeline.NewJobAttempt(runID, r.stage, delivery.Attempt)
		if err != nil {
			return nil, false, err
		}
		if err := r.jobs.Create(ctx, job); err != nil {
			return nil, false, fmt.Errorf("failed to create job: %w", err)
		}
		return job, true, nil

	default:
		// COMPLETED or FAILED: duplicate delivery of settled work
		return nil, false, nil
	}
}

// closeOutTerminal handles a delivery for a run that reached a
// terminal state before the work ran: the pending attempt is failed
// for the record and the message acknowledged.
func (r *StageRunner) closeOutTerminal(run *pipeline.Run, delivery *queue.Delivery) {
	ctx, cancel := persistContext()
	defer cancel()

	latest, err := r.jobs.FindLatestByRunAndStage(ctx, run.ID(), r.stage)
	if err == nil && latest != nil && !latest.IsTerminal() {
		if ferr := latest.Fail(fmt.Sprintf("run %s before the stage ran", run.Status())); ferr == nil {
			if uerr := r.jobs.Update(ctx, latest); uerr != nil {
				fmt.Printf("Failed to close out job %s: %v\n", latest.ID(), uerr)
			}
		}
	}
	r.ack(delivery.Handle)
}

// settleExhausted closes out a delivery whose final attempt's lease
// expired without a disposition: the worker holding it crashed and no
// retries are left. That attempt never got to report its own failure,
// so the runner records it here instead of running the work again,
// failing the latest attempt row and the run.
func (r *StageRunner) settleExhausted(run *pipeline.Run, delivery *queue.Delivery) {
	ctx, cancel := persistContext()
	defer cancel()

	reason := fmt.Sprintf("stage %s failed: lease expired on final attempt", r.stage)

	latest, err := r.jobs.FindLatestByRunAndStage(ctx, run.ID(), r.stage)
	if err != nil {
		fmt.Printf("Failed to load job for exhausted delivery on run %s: %v\n", run.ID(), err)
	}
	if latest != nil && !latest.IsTerminal() {
		if ferr := latest.Fail(reason); ferr == nil {
			if uerr := r.jobs.Update(ctx, latest); uerr != nil {
				fmt.Printf("Failed to persist failed job %s: %v\n", latest.ID(), uerr)
			}
		}
	}

	// A run that never got past QUEUED still has to end up FAILED
	if run.Status() == pipeline.RunStatusQueued {
		if serr := run.Start(); serr != nil {
			fmt.Printf("Failed to start run %s before failing it: %v\n", run.ID(), serr)
		}
	}

	// Children fail themselves here; the coordinator notices and fails
	// the parent with a message naming the child.
	if ferr := run.Fail(reason); ferr == nil {
		metrics.RecordRunTransition(string(pipeline.RunStatusFailed))
	}
	if uerr := r.runs.Update(ctx, run); uerr != nil {
		fmt.Printf("Failed to persist failed run %s: %v\n", run.ID(), uerr)
	}
	r.invalidateTenant(ctx, run.TenantID())

	r.nack(delivery.Handle, queue.DispositionFail)
	metrics.RecordJobOutcome(string(r.stage), string(pipeline.JobStatusFailed))
}

// execute supervises one attempt: activate the job, heartbeat the
// lease, run the processor, then settle queue, job and run together.
func (r *StageRunner) execute(ctx context.Context, run *pipeline.Run, job *pipeline.Job, delivery *queue.Delivery) error {
	if job.Status() == pipeline.JobStatusPending {
		if err := job.Activate(""); err != nil {
			r.release(delivery.Handle, leaseErrorBackoff)
			return fmt.Errorf("failed to activate job %s: %w", job.ID(), err)
		}
		if err := r.jobs.Update(ctx, job); err != nil {
			r.release(delivery.Handle, leaseErrorBackoff)
			return fmt.Errorf("failed to persist active job %s: %w", job.ID(), err)
		}
	}

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	logger := NewRunLogger(run.ID(), r.logs)
	var liveProgress int64

	stageCtx := common.WithRunLogger(attemptCtx, logger)
	stageCtx = common.WithProgress(stageCtx, func(percent int) {
		atomic.StoreInt64(&liveProgress, int64(percent))
	})

	stopHeartbeat := make(chan struct{})
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go func() {
		defer heartbeatWG.Done()
		r.heartbeat(stopHeartbeat, cancelAttempt, run.ID(), job, delivery.Handle, &liveProgress)
	}()

	logger.Log("INFO", fmt.Sprintf("Stage %s started (attempt %d)", r.stage, delivery.Attempt),
		map[string]interface{}{"stage": string(r.stage), "attempt": delivery.Attempt})

	startedAt := r.clock.Now()
	result, perr := r.runProcessor(stageCtx, run, delivery.Message.Payload)
	elapsed := r.clock.Now().Sub(startedAt)

	close(stopHeartbeat)
	heartbeatWG.Wait()

	metrics.ObserveStageDuration(string(r.stage), elapsed.Seconds())

	if perr == nil {
		return r.settleSuccess(run, job, delivery, result, logger)
	}
	return r.settleFailure(ctx, run, job, delivery, perr, logger)
}

// runProcessor executes the stage, converting panics into fatal errors
func (r *StageRunner) runProcessor(ctx context.Context, run *pipeline.Run, payload []byte) (result *stages.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage %s panicked: %v", r.stage, rec)
		}
	}()
	return r.processor.Process(ctx, run, payload)
}

// heartbeat keeps the lease alive at half its duration, mirrors live
// progress onto the job row, and cancels the attempt when the run is
// cancelled or deleted underneath it. Losing the lease also cancels
// the attempt: a redelivered copy may already be running elsewhere.
func (r *StageRunner) heartbeat(stop <-chan struct{}, cancelAttempt context.CancelFunc, runID string, job *pipeline.Job, handle queue.Handle, liveProgress *int64) {
	interval := r.leaseDuration / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := persistContext()

		if err := r.queue.Extend(ctx, handle, r.leaseDuration); err != nil {
			fmt.Printf("Lost lease for run %s stage %s: %v\n", runID, r.stage, err)
			cancel()
			cancelAttempt()
			return
		}

		if percent := int(atomic.LoadInt64(liveProgress)); percent > job.Progress() {
			job.SetProgress(percent)
			if err := r.jobs.Update(ctx, job); err != nil {
				fmt.Printf("Failed to persist progress for job %s: %v\n", job.ID(), err)
			}
		}

		fresh, err := r.runs.FindByID(ctx, runID)
		cancel()
		if err == nil && (fresh == nil || fresh.Status() == pipeline.RunStatusCancelled) {
			cancelAttempt()
			return
		}
	}
}

// settleSuccess persists the stage outcome and applies the chaining
// policy: either the next stage is enqueued with a fresh PENDING job,
// or the run completes. The chain is applied before the job row is
// closed so a crash in between is redelivered, never lost.
func (r *StageRunner) settleSuccess(run *pipeline.Run, job *pipeline.Job, delivery *queue.Delivery, result *stages.Result, logger *RunLogger) error {
	ctx, cancel := persistContext()
	defer cancel()

	// A cancel that raced the final moments of the stage wins; the
	// attempt's output stays on disk but the run does not advance.
	fresh, err := r.runs.FindByID(ctx, run.ID())
	if err == nil && (fresh == nil || fresh.IsTerminal()) {
		r.completeJob(ctx, job, result)
		r.ack(delivery.Handle)
		return nil
	}

	decision, derr := pipeline.NextAfter(run, r.stage)
	if derr != nil {
		return r.settleFailure(ctx, run, job, delivery, derr, logger)
	}

	if decision.CompleteRun {
		if cerr := run.Complete(); cerr != nil {
			var invalid *pipeline.ErrInvalidRunTransition
			if !errors.As(cerr, &invalid) {
				return r.settleFailure(ctx, run, job, delivery, cerr, logger)
			}
		} else {
			metrics.RecordRunTransition(string(pipeline.RunStatusCompleted))
		}
		if err := r.runs.Update(ctx, run); err != nil {
			r.release(delivery.Handle, leaseErrorBackoff)
			return fmt.Errorf("failed to complete run %s: %w", run.ID(), err)
		}
		r.invalidateTenant(ctx, run.TenantID())
		logger.Log("INFO", fmt.Sprintf("Stage %s finished; run completed", r.stage), nil)
	} else {
		run.SetCurrentStage(decision.Next)
		run.SetProgress(decision.Progress)
		if err := r.runs.Update(ctx, run); err != nil {
			r.release(delivery.Handle, leaseErrorBackoff)
			return fmt.Errorf("failed to advance run %s: %w", run.ID(), err)
		}
		if err := r.enqueueNext(ctx, run, decision.Next, result.NextPayload); err != nil {
			// The message redelivers and reconciliation picks it up
			logger.Log("ERROR", fmt.Sprintf("Failed to enqueue %s: %v", decision.Next, err), nil)
			r.release(delivery.Handle, leaseErrorBackoff)
			return err
		}
		logger.Log("INFO", fmt.Sprintf("Stage %s finished; %s enqueued", r.stage, decision.Next), nil)
	}

	r.completeJob(ctx, job, result)
	r.ack(delivery.Handle)
	metrics.RecordJobOutcome(string(r.stage), string(pipeline.JobStatusCompleted))
	return nil
}

// settleFailure decides between redelivery and terminal failure. Only
// retryable errors with attempts left are redelivered; anything else
// fails the attempt and the run. A shutdown mid-attempt releases the
// message instead, so the next daemon resumes without losing a try.
func (r *StageRunner) settleFailure(ctx context.Context, run *pipeline.Run, job *pipeline.Job, delivery *queue.Delivery, perr error, logger *RunLogger) error {
	pctx, cancel := persistContext()
	defer cancel()

	if ctx.Err() != nil {
		// Interrupted, not failed: park the attempt for the next daemon
		if merr := job.MarkRetrying("interrupted by daemon shutdown"); merr == nil {
			if uerr := r.jobs.Update(pctx, job); uerr != nil {
				fmt.Printf("Failed to persist interrupted job %s: %v\n", job.ID(), uerr)
			}
		}
		r.release(delivery.Handle, 0)
		return ctx.Err()
	}

	// A run cancelled or deleted mid-attempt keeps its state; only the
	// attempt row records what happened.
	fresh, lerr := r.runs.FindByID(pctx, run.ID())
	if lerr == nil && (fresh == nil || fresh.IsTerminal()) {
		if ferr := job.Fail(perr.Error()); ferr == nil {
			if uerr := r.jobs.Update(pctx, job); uerr != nil {
				fmt.Printf("Failed to persist failed job %s: %v\n", job.ID(), uerr)
			}
		}
		r.ack(delivery.Handle)
		return nil
	}

	if errors.Is(perr, context.Canceled) {
		// The heartbeat aborted the attempt after losing the lease; a
		// redelivered copy owns this stage now.
		if merr := job.MarkRetrying("attempt superseded: lease lost"); merr == nil {
			if uerr := r.jobs.Update(pctx, job); uerr != nil {
				fmt.Printf("Failed to persist superseded job %s: %v\n", job.ID(), uerr)
			}
		}
		r.release(delivery.Handle, 0)
		return nil
	}

	willRetry := pipeline.IsRetryable(perr) && delivery.Attempt < queue.MaxDeliveryAttempts
	if willRetry {
		logger.Log("WARNING", fmt.Sprintf("Stage %s attempt %d failed, will retry: %v",
			r.stage, delivery.Attempt, perr), nil)
		if merr := job.MarkRetrying(perr.Error()); merr == nil {
			if uerr := r.jobs.Update(pctx, job); uerr != nil {
				fmt.Printf("Failed to persist retrying job %s: %v\n", job.ID(), uerr)
			}
		}
		r.nack(delivery.Handle, queue.DispositionRetry)
		metrics.RecordJobOutcome(string(r.stage), string(pipeline.JobStatusRetrying))
		return nil
	}

	logger.Log("ERROR", fmt.Sprintf("Stage %s failed: %v", r.stage, perr), nil)
	if ferr := job.Fail(perr.Error()); ferr == nil {
		if uerr := r.jobs.Update(pctx, job); uerr != nil {
			fmt.Printf("Failed to persist failed job %s: %v\n", job.ID(), uerr)
		}
	}

	// Children fail themselves here; the coordinator notices and fails
	// the parent with a message naming the child.
	if ferr := run.Fail(fmt.Sprintf("stage %s failed: %v", r.stage, perr)); ferr == nil {
		metrics.RecordRunTransition(string(pipeline.RunStatusFailed))
	}
	if uerr := r.runs.Update(pctx, run); uerr != nil {
		fmt.Printf("Failed to persist failed run %s: %v\n", run.ID(), uerr)
	}
	r.invalidateTenant(pctx, run.TenantID())

	r.nack(delivery.Handle, queue.DispositionFail)
	metrics.RecordJobOutcome(string(r.stage), string(pipeline.JobStatusFailed))
	return nil
}

// enqueueNext mirrors the admission side: queue message first, then
// the PENDING job row the next runner will claim.
func (r *StageRunner) enqueueNext(ctx context.Context, run *pipeline.Run, next pipeline.Stage, payload []byte) error {
	if _, err := r.queue.Enqueue(ctx, queue.Message{
		Stage:    next,
		TenantID: run.TenantID(),
		RunID:    run.ID(),
		Payload:  payload,
	}); err != nil {
		return fmt.Errorf("failed to enqueue %s for run %s: %w", next, run.ID(), err)
	}

	job, err := pipeline.NewJob(run.ID(), next)
	if err != nil {
		return err
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create %s job for run %s: %w", next, run.ID(), err)
	}
	return nil
}

func (r *StageRunner) completeJob(ctx context.Context, job *pipeline.Job, result *stages.Result) {
	var summary []byte
	if result != nil {
		summary = result.Summary
	}
	if err := job.Complete(summary); err != nil {
		fmt.Printf("Job %s could not complete: %v\n", job.ID(), err)
		return
	}
	if err := r.jobs.Update(ctx, job); err != nil {
		fmt.Printf("Failed to persist completed job %s: %v\n", job.ID(), err)
	}
}

// invalidateTenant drops the tenant's cached read-side views after a
// run changes state
func (r *StageRunner) invalidateTenant(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.DeletePrefix(ctx, common.TenantCacheKey(tenantID)); err != nil {
		fmt.Printf("Failed to invalidate cache for tenant %s: %v\n", tenantID, err)
	}
}

func (r *StageRunner) ack(handle queue.Handle) {
	ctx, cancel := persistContext()
	defer cancel()
	if err := r.queue.Ack(ctx, handle); err != nil {
		fmt.Printf("Failed to ack message %s: %v\n", handle.MessageID, err)
	}
}

func (r *StageRunner) nack(handle queue.Handle, disposition queue.Disposition) {
	ctx, cancel := persistContext()
	defer cancel()
	if err := r.queue.Nack(ctx, handle, disposition); err != nil {
		fmt.Printf("Failed to nack message %s: %v\n", handle.MessageID, err)
	}
}

func (r *StageRunner) release(handle queue.Handle, delay time.Duration) {
	ctx, cancel := persistContext()
	defer cancel()
	if err := r.queue.Release(ctx, handle, delay); err != nil {
		fmt.Printf("Failed to release message %s: %v\n", handle.MessageID, err)
	}
}
