package pipeline

import "context"

// RunFilter narrows and pages run listings
type RunFilter struct {
	// Statuses restricts the result to the given states; empty means all
	Statuses []RunStatus

	// IncludeChildren also returns batch children; by default only
	// standalone and parent runs are listed
	IncludeChildren bool

	// Limit caps the page size; zero means no limit
	Limit int

	// Offset skips the first N runs of the result
	Offset int
}

// RunRepository handles persistence of pipeline runs
type RunRepository interface {
	// Create persists a new run
	Create(ctx context.Context, run *Run) error

	// Update saves changes to an existing run
	Update(ctx context.Context, run *Run) error

	// UpdateProgress persists only the progress column. The coordinator
	// polls for hours and must not overwrite concurrent status changes
	// with a stale full-row write.
	UpdateProgress(ctx context.Context, runID string, progress int) error

	// UpdateItemCounts persists only the work counters, for the same
	// reason: stages report them mid-attempt while the run row may be
	// changing under them.
	UpdateItemCounts(ctx context.Context, runID string, totalItems, processedItems, totalQuestions int) error

	// FindByID retrieves a run by its ID
	FindByID(ctx context.Context, id string) (*Run, error)

	// FindByTenant retrieves runs for a tenant, newest first
	FindByTenant(ctx context.Context, tenantID string, filter RunFilter) ([]*Run, error)

	// FindByIDs retrieves the given runs in one query
	FindByIDs(ctx context.Context, ids []string) ([]*Run, error)

	// FindChildren retrieves the batch children of a parent, ordered by batchIndex
	FindChildren(ctx context.Context, parentRunID string) ([]*Run, error)

	// FindByStatuses retrieves all runs in the given states across tenants.
	// Used by startup recovery to find work interrupted by a crash.
	FindByStatuses(ctx context.Context, statuses []RunStatus) ([]*Run, error)

	// CountActiveByTenant counts QUEUED/RUNNING runs owned by the tenant,
	// excluding batch children. This is the number admission compares
	// against the tenant's concurrency quota.
	CountActiveByTenant(ctx context.Context, tenantID string) (int, error)

	// Delete removes a run and its jobs
	Delete(ctx context.Context, id string) error
}

// JobRepository handles persistence of stage attempts
type JobRepository interface {
	// Create persists a new job
	Create(ctx context.Context, job *Job) error

	// Update saves changes to an existing job
	Update(ctx context.Context, job *Job) error

	// FindByID retrieves a job by its ID
	FindByID(ctx context.Context, id string) (*Job, error)

	// FindByRunID retrieves every attempt for a run, oldest first
	FindByRunID(ctx context.Context, runID string) ([]*Job, error)

	// FindLatestByRunAndStage retrieves the highest attempt for a stage
	// of a run. That attempt is authoritative; earlier ones are audit.
	// Returns nil, nil when the stage has never been attempted.
	FindLatestByRunAndStage(ctx context.Context, runID string, stage Stage) (*Job, error)

	// FindByStatuses retrieves jobs in the given states across runs.
	// Used by startup recovery to sweep attempts orphaned by a crash.
	FindByStatuses(ctx context.Context, statuses []JobStatus) ([]*Job, error)

	// DeleteByRunID removes all attempts for a run
	DeleteByRunID(ctx context.Context, runID string) error
}
