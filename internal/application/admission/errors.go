package admission

import (
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// ErrNoInputs rejects a submission that materialized zero documents
type ErrNoInputs struct {
	TenantID string
}

func (e *ErrNoInputs) Error() string {
	return fmt.Sprintf("submission for tenant %s carries no input documents", e.TenantID)
}

// ErrBatchTooLarge rejects a submission above the fan-out ceiling
type ErrBatchTooLarge struct {
	Documents int
	Limit     int
}

func (e *ErrBatchTooLarge) Error() string {
	return fmt.Sprintf("submission has %d documents, the ceiling is %d", e.Documents, e.Limit)
}

// ErrMergeTooFewRuns rejects a merge of fewer than two runs
type ErrMergeTooFewRuns struct {
	Provided int
}

func (e *ErrMergeTooFewRuns) Error() string {
	return fmt.Sprintf("merge needs at least two runs, got %d", e.Provided)
}

// ErrMergeMixedTenants rejects a merge whose runs span tenants
type ErrMergeMixedTenants struct {
	RunID    string
	TenantID string
	Expected string
}

func (e *ErrMergeMixedTenants) Error() string {
	return fmt.Sprintf("run %s belongs to tenant %s, the other runs to %s: merges cannot span tenants",
		e.RunID, e.TenantID, e.Expected)
}

// ErrMergeSourceNotCompleted rejects a merge over an unfinished run
type ErrMergeSourceNotCompleted struct {
	RunID  string
	Status pipeline.RunStatus
}

func (e *ErrMergeSourceNotCompleted) Error() string {
	return fmt.Sprintf("run %s is %s, only completed runs can be merged", e.RunID, e.Status)
}
