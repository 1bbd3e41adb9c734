package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a single stage attempt
type JobStatus string

const (
	// JobStatusPending - stage enqueued, waiting for a worker
	JobStatusPending JobStatus = "PENDING"

	// JobStatusActive - a worker holds the lease and is executing
	JobStatusActive JobStatus = "ACTIVE"

	// JobStatusCompleted - terminal, attempt succeeded
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed - terminal, attempt failed with no retry left
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusRetrying - terminal for this attempt, a later attempt follows
	JobStatusRetrying JobStatus = "RETRYING"
)

// Job records one attempt at one stage of a run. Every redelivery gets
// its own job row, so the full attempt history stays queryable.
type Job struct {
	id            string
	runID         string
	stage         Stage
	status        JobStatus
	attempt       int
	progress      int
	externalJobID *string
	result        []byte
	errorMessage  string
	createdAt     time.Time
	startedAt     *time.Time
	completedAt   *time.Time
}

// NewJob creates the first attempt for a stage of a run
func NewJob(runID string, stage Stage) (*Job, error) {
	return NewJobAttempt(runID, stage, 1)
}

// NewJobAttempt creates a later attempt after a retryable failure
func NewJobAttempt(runID string, stage Stage, attempt int) (*Job, error) {
	if runID == "" {
		return nil, errors.New("run ID is required")
	}
	if stage == "" {
		return nil, errors.New("stage is required")
	}
	if attempt < 1 {
		return nil, errors.New("attempt must be at least 1")
	}

	return &Job{
		id:        uuid.New().String(),
		runID:     runID,
		stage:     stage,
		status:    JobStatusPending,
		attempt:   attempt,
		createdAt: time.Now().UTC(),
	}, nil
}

// ReconstituteJob rebuilds a job from persisted state
func ReconstituteJob(
	id string,
	runID string,
	stage Stage,
	status JobStatus,
	attempt int,
	progress int,
	externalJobID *string,
	result []byte,
	errorMessage string,
	createdAt time.Time,
	startedAt *time.Time,
	completedAt *time.Time,
) *Job {
	return &Job{
		id:            id,
		runID:         runID,
		stage:         stage,
		status:        status,
		attempt:       attempt,
		progress:      progress,
		externalJobID: externalJobID,
		result:        result,
		errorMessage:  errorMessage,
		createdAt:     createdAt,
		startedAt:     startedAt,
		completedAt:   completedAt,
	}
}

// ID returns the job identifier
func (j *Job) ID() string {
	return j.id
}

// RunID returns the run this attempt belongs to
func (j *Job) RunID() string {
	return j.runID
}

// Stage returns the pipeline stage being attempted
func (j *Job) Stage() Stage {
	return j.stage
}

// Status returns the current lifecycle state
func (j *Job) Status() JobStatus {
	return j.status
}

// Attempt returns the 1-based attempt number
func (j *Job) Attempt() int {
	return j.attempt
}

// Progress returns the live completion percentage reported by the worker
func (j *Job) Progress() int {
	return j.progress
}

// ExternalJobID returns the queue delivery handle, nil before leasing
func (j *Job) ExternalJobID() *string {
	return j.externalJobID
}

// Result returns the processor's result blob for completed attempts
func (j *Job) Result() []byte {
	return j.result
}

// ErrorMessage returns the failure description for failed attempts
func (j *Job) ErrorMessage() string {
	return j.errorMessage
}

// CreatedAt returns when the attempt was enqueued
func (j *Job) CreatedAt() time.Time {
	return j.createdAt
}

// StartedAt returns when a worker leased the attempt, nil while pending
func (j *Job) StartedAt() *time.Time {
	return j.startedAt
}

// CompletedAt returns when the attempt reached a terminal state
func (j *Job) CompletedAt() *time.Time {
	return j.completedAt
}

// IsTerminal reports whether this attempt can no longer change state
func (j *Job) IsTerminal() bool {
	return j.status == JobStatusCompleted || j.status == JobStatusFailed || j.status == JobStatusRetrying
}

// Activate marks the attempt leased by a worker
func (j *Job) Activate(externalJobID string) error {
	if j.status != JobStatusPending {
		return &ErrInvalidJobTransition{
			JobID:       j.id,
			From:        j.status,
			To:          JobStatusActive,
			Description: "only pending jobs can activate",
		}
	}
	now := time.Now().UTC()
	j.status = JobStatusActive
	if externalJobID != "" {
		j.externalJobID = &externalJobID
	}
	j.startedAt = &now
	return nil
}

// Complete marks the attempt successful, keeping the processor's result
func (j *Job) Complete(result []byte) error {
	if j.status != JobStatusActive {
		return &ErrInvalidJobTransition{
			JobID:       j.id,
			From:        j.status,
			To:          JobStatusCompleted,
			Description: "only active jobs can complete",
		}
	}
	now := time.Now().UTC()
	j.status = JobStatusCompleted
	j.progress = 100
	j.result = result
	j.completedAt = &now
	return nil
}

// SetProgress records live progress from the worker's heartbeat loop.
// Progress never moves backwards.
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.progress {
		j.progress = progress
	}
}

// Fail marks the attempt failed with no retry to follow
func (j *Job) Fail(message string) error {
	if j.status != JobStatusActive && j.status != JobStatusPending {
		return &ErrInvalidJobTransition{
			JobID:       j.id,
			From:        j.status,
			To:          JobStatusFailed,
			Description: "job already reached a terminal state",
		}
	}
	now := time.Now().UTC()
	j.status = JobStatusFailed
	j.errorMessage = message
	j.completedAt = &now
	return nil
}

// MarkRetrying closes this attempt; the queue will deliver a fresh one
func (j *Job) MarkRetrying(message string) error {
	if j.status != JobStatusActive {
		return &ErrInvalidJobTransition{
			JobID:       j.id,
			From:        j.status,
			To:          JobStatusRetrying,
			Description: "only active jobs can retry",
		}
	}
	now := time.Now().UTC()
	j.status = JobStatusRetrying
	j.errorMessage = message
	j.completedAt = &now
	return nil
}
