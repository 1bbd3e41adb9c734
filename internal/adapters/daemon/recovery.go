package daemon

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// LeaseRecoverer is the queue-side recovery hook. The gorm queue
// implements it; at startup every lease still held in the store
// belongs to a process that no longer exists.
type LeaseRecoverer interface {
	ReleaseAbandonedLeases(ctx context.Context) (int64, error)
}

// RecoveryReport summarizes what startup recovery found
type RecoveryReport struct {
	// ReleasedLeases is how many abandoned deliveries went back to pending
	ReleasedLeases int64

	// InterruptedJobs is how many ACTIVE attempts of live runs were
	// parked for redelivery
	InterruptedJobs int

	// OrphanedJobs is how many ACTIVE attempts belonged to terminal or
	// deleted runs and were failed for the record
	OrphanedJobs int
}

// RecoverAtStartup reconciles queue and job state left behind by the
// previous daemon process. It must run before any stage runner starts:
// released leases become claimable immediately. Coordinate jobs of
// running batch parents resume the same way; the coordinator re-polls
// children from scratch, so nothing else is needed.
func RecoverAtStartup(
	ctx context.Context,
	recoverer LeaseRecoverer,
	runs pipeline.RunRepository,
	jobs pipeline.JobRepository,
) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	released, err := recoverer.ReleaseAbandonedLeases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to release abandoned leases: %w", err)
	}
	report.ReleasedLeases = released

	active, err := jobs.FindByStatuses(ctx, []pipeline.JobStatus{pipeline.JobStatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to sweep active jobs: %w", err)
	}

	for _, job := range active {
		run, err := runs.FindByID(ctx, job.RunID())
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s for job %s: %w", job.RunID(), job.ID(), err)
		}

		if run == nil || run.IsTerminal() {
			if ferr := job.Fail("orphaned by daemon shutdown"); ferr != nil {
				continue
			}
			if err := jobs.Update(ctx, job); err != nil {
				return nil, fmt.Errorf("failed to persist orphaned job %s: %w", job.ID(), err)
			}
			report.OrphanedJobs++
			continue
		}

		if merr := job.MarkRetrying("interrupted by daemon restart"); merr != nil {
			continue
		}
		if err := jobs.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to persist interrupted job %s: %w", job.ID(), err)
		}
		report.InterruptedJobs++
	}

	return report, nil
}
