package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

const (
	// RunStatusQueued - run accepted but no stage has executed yet
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusRunning - at least one stage has started
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusPaused - run suspended by an operator; leases drain back
	RunStatusPaused RunStatus = "PAUSED"

	// RunStatusCompleted - terminal, all stages finished
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed - terminal, a stage exhausted its retries
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled - terminal, stopped by an operator
	RunStatusCancelled RunStatus = "CANCELLED"
)

// Run is the aggregate root for one pipeline execution over a set of
// input PDFs. Batch submissions form a tree: a parent run that only
// coordinates, and one child run per batch of files.
type Run struct {
	id             string
	tenantID       string
	inputFiles     []string
	sourceURLs     []string
	status         RunStatus
	currentStage   Stage
	progress       int
	errorMessage   string
	createdAt      time.Time
	startedAt      *time.Time
	completedAt    *time.Time
	parentRunID    *string
	batchIndex     *int
	batchSize      *int
	totalBatches   *int
	totalItems     int
	processedItems int
	totalQuestions int
}

// NewRun creates a standalone run that walks the full stage sequence
func NewRun(tenantID string, inputFiles []string, sourceURLs []string) (*Run, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if len(inputFiles) == 0 {
		return nil, errors.New("at least one input file is required")
	}

	return &Run{
		id:           uuid.New().String(),
		tenantID:     tenantID,
		inputFiles:   inputFiles,
		sourceURLs:   sourceURLs,
		status:       RunStatusQueued,
		currentStage: StageExtract,
		createdAt:    time.Now().UTC(),
	}, nil
}

// NewMergedRun creates a run that re-enters the pipeline at the
// similarity stage, operating on the combined inputs of previously
// completed runs.
func NewMergedRun(tenantID string, inputFiles []string) (*Run, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if len(inputFiles) == 0 {
		return nil, errors.New("at least one input file is required")
	}

	return &Run{
		id:           uuid.New().String(),
		tenantID:     tenantID,
		inputFiles:   inputFiles,
		status:       RunStatusQueued,
		currentStage: StageSimilarity,
		createdAt:    time.Now().UTC(),
	}, nil
}

// NewParentRun creates the coordinating run of a batch submission.
// It owns the full input list but delegates extraction through
// categorization to its children.
func NewParentRun(tenantID string, inputFiles []string, sourceURLs []string, batchSize, totalBatches int) (*Run, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if len(inputFiles) == 0 {
		return nil, errors.New("at least one input file is required")
	}
	if batchSize < 1 {
		return nil, errors.New("batch size must be at least 1")
	}
	if totalBatches < 1 {
		return nil, errors.New("total batches must be at least 1")
	}

	return &Run{
		id:           uuid.New().String(),
		tenantID:     tenantID,
		inputFiles:   inputFiles,
		sourceURLs:   sourceURLs,
		status:       RunStatusQueued,
		currentStage: StageCoordinate,
		batchSize:    &batchSize,
		totalBatches: &totalBatches,
		createdAt:    time.Now().UTC(),
	}, nil
}

// NewChildRun creates one batch member under a parent run
func NewChildRun(parent *Run, batchIndex int, inputFiles []string) (*Run, error) {
	if parent == nil {
		return nil, errors.New("parent run is required")
	}
	if !parent.IsParent() {
		return nil, fmt.Errorf("run %s is not a batch parent", parent.ID())
	}
	if batchIndex < 0 {
		return nil, errors.New("batch index must not be negative")
	}
	if len(inputFiles) == 0 {
		return nil, errors.New("at least one input file is required")
	}

	parentID := parent.ID()
	batchSize := *parent.BatchSize()
	totalBatches := *parent.TotalBatches()
	return &Run{
		id:           uuid.New().String(),
		tenantID:     parent.TenantID(),
		inputFiles:   inputFiles,
		status:       RunStatusQueued,
		currentStage: StageExtract,
		parentRunID:  &parentID,
		batchIndex:   &batchIndex,
		batchSize:    &batchSize,
		totalBatches: &totalBatches,
		createdAt:    time.Now().UTC(),
	}, nil
}

// ReconstituteRun rebuilds a run from persisted state
func ReconstituteRun(
	id string,
	tenantID string,
	inputFiles []string,
	sourceURLs []string,
	status RunStatus,
	currentStage Stage,
	progress int,
	errorMessage string,
	createdAt time.Time,
	startedAt *time.Time,
	completedAt *time.Time,
	parentRunID *string,
	batchIndex *int,
	batchSize *int,
	totalBatches *int,
	totalItems int,
	processedItems int,
	totalQuestions int,
) *Run {
	return &Run{
		id:             id,
		tenantID:       tenantID,
		inputFiles:     inputFiles,
		sourceURLs:     sourceURLs,
		status:         status,
		currentStage:   currentStage,
		progress:       progress,
		errorMessage:   errorMessage,
		createdAt:      createdAt,
		startedAt:      startedAt,
		completedAt:    completedAt,
		parentRunID:    parentRunID,
		batchIndex:     batchIndex,
		batchSize:      batchSize,
		totalBatches:   totalBatches,
		totalItems:     totalItems,
		processedItems: processedItems,
		totalQuestions: totalQuestions,
	}
}

// ID returns the run identifier
func (r *Run) ID() string {
	return r.id
}

// TenantID returns the owning tenant
func (r *Run) TenantID() string {
	return r.tenantID
}

// InputFiles returns the PDF paths this run processes
func (r *Run) InputFiles() []string {
	return r.inputFiles
}

// SourceURLs returns the origin URLs recorded at submission, if any
func (r *Run) SourceURLs() []string {
	return r.sourceURLs
}

// Status returns the current lifecycle state
func (r *Run) Status() RunStatus {
	return r.status
}

// CurrentStage returns the stage the run is in or about to enter
func (r *Run) CurrentStage() Stage {
	return r.currentStage
}

// Progress returns the completion percentage (0-100)
func (r *Run) Progress() int {
	return r.progress
}

// ErrorMessage returns the failure description, empty unless failed
func (r *Run) ErrorMessage() string {
	return r.errorMessage
}

// CreatedAt returns when the run was accepted
func (r *Run) CreatedAt() time.Time {
	return r.createdAt
}

// StartedAt returns when the first stage began, nil if never started
func (r *Run) StartedAt() *time.Time {
	return r.startedAt
}

// CompletedAt returns when the run reached a terminal state
func (r *Run) CompletedAt() *time.Time {
	return r.completedAt
}

// ParentRunID returns the coordinating run's ID for batch children
func (r *Run) ParentRunID() *string {
	return r.parentRunID
}

// BatchIndex returns this child's zero-based position in the batch
func (r *Run) BatchIndex() *int {
	return r.batchIndex
}

// BatchSize returns the configured files-per-batch for batch runs
func (r *Run) BatchSize() *int {
	return r.batchSize
}

// TotalBatches returns the child count for batch parents
func (r *Run) TotalBatches() *int {
	return r.totalBatches
}

// TotalItems returns how many work items the current stage walks
func (r *Run) TotalItems() int {
	return r.totalItems
}

// ProcessedItems returns how many of the stage's items finished
func (r *Run) ProcessedItems() int {
	return r.processedItems
}

// TotalQuestions returns the number of questions written to the corpus
func (r *Run) TotalQuestions() int {
	return r.totalQuestions
}

// IsParent reports whether this run coordinates batch children
func (r *Run) IsParent() bool {
	return r.totalBatches != nil && r.parentRunID == nil
}

// IsChild reports whether this run belongs to a batch parent
func (r *Run) IsChild() bool {
	return r.parentRunID != nil
}

// IsTerminal reports whether the run can no longer change state
func (r *Run) IsTerminal() bool {
	return r.status == RunStatusCompleted || r.status == RunStatusFailed || r.status == RunStatusCancelled
}

// IsActive reports whether the run occupies a tenant concurrency slot.
// Paused runs do not count against the quota.
func (r *Run) IsActive() bool {
	return r.status == RunStatusQueued || r.status == RunStatusRunning
}

// Start transitions the run from QUEUED to RUNNING
func (r *Run) Start() error {
	if r.status != RunStatusQueued {
		return &ErrInvalidRunTransition{
			RunID:       r.id,
			From:        r.status,
			To:          RunStatusRunning,
			Description: "only queued runs can start",
		}
	}
	now := time.Now().UTC()
	r.status = RunStatusRunning
	r.startedAt = &now
	return nil
}

// Pause suspends a running run; in-flight work drains back to the queue
func (r *Run) Pause() error {
	if r.status != RunStatusRunning {
		return &ErrInvalidRunTransition{
			RunID:       r.id,
			From:        r.status,
			To:          RunStatusPaused,
			Description: "only running runs can pause",
		}
	}
	r.status = RunStatusPaused
	return nil
}

// Resume returns a paused run to RUNNING
func (r *Run) Resume() error {
	if r.status != RunStatusPaused {
		return &ErrInvalidRunTransition{
			RunID:       r.id,
			From:        r.status,
			To:          RunStatusRunning,
			Description: "only paused runs can resume",
		}
	}
	r.status = RunStatusRunning
	return nil
}

// Complete marks the run finished after its final stage
func (r *Run) Complete() error {
	if r.status != RunStatusRunning {
		return &ErrInvalidRunTransition{
			RunID:       r.id,
			From:        r.status,
			To:          RunStatusCompleted,
			Description: "only running runs can complete",
		}
	}
	now := time.Now().UTC()
	r.status = RunStatusCompleted
	r.progress = 100
	r.completedAt = &now
	return nil
}

// Fail marks the run failed with the given message
func (r *Run) Fail(message string) error {
	if r.status != RunStatusRunning && r.status != RunStatusPaused {
		return &ErrInvalidRunTransition{
			RunID:       r.id,
			From:        r.status,
			To:          RunStatusFailed,
			Description: "only running or paused runs can fail",
		}
	}
	now := time.Now().UTC()
	r.status = RunStatusFailed
	r.errorMessage = message
	r.completedAt = &now
	return nil
}

// Cancel stops a run on operator request
func (r *Run) Cancel() error {
	if r.IsTerminal() {
		return &ErrInvalidRunTransition{
			RunID:       r.id,
			From:        r.status,
			To:          RunStatusCancelled,
			Description: "run already reached a terminal state",
		}
	}
	now := time.Now().UTC()
	r.status = RunStatusCancelled
	r.completedAt = &now
	return nil
}

// SetCurrentStage records the stage the run is entering
func (r *Run) SetCurrentStage(stage Stage) {
	r.currentStage = stage
}

// SetProgress advances the completion percentage. Progress never moves
// backwards, so stale or out-of-order updates are ignored.
func (r *Run) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > r.progress {
		r.progress = progress
	}
}

// SetTotalItems re-bases the per-stage work counters. Stages count
// different units (extract walks PDFs, parse walks crops), so a stage
// calls this before its loop and totalItems and processedItems always
// describe the same unit.
func (r *Run) SetTotalItems(count int) {
	if count >= 0 {
		r.totalItems = count
		r.processedItems = 0
	}
}

// AddProcessedItems increments the finished-item counter
func (r *Run) AddProcessedItems(count int) {
	if count > 0 {
		r.processedItems += count
	}
}

// AddQuestions increments the question counter as extraction discovers
// crops. Parse later replaces the estimate with the parsed count.
func (r *Run) AddQuestions(count int) {
	if count > 0 {
		r.totalQuestions += count
	}
}

// SetTotalQuestions replaces the question counter once a stage knows the
// exact number of usable questions.
func (r *Run) SetTotalQuestions(count int) {
	if count >= 0 {
		r.totalQuestions = count
	}
}

// RuntimeDuration returns how long the run has been executing
func (r *Run) RuntimeDuration() time.Duration {
	if r.startedAt == nil {
		return 0
	}
	if r.completedAt != nil {
		return r.completedAt.Sub(*r.startedAt)
	}
	return time.Since(*r.startedAt)
}

// String returns a human-readable summary of the run
func (r *Run) String() string {
	kind := "run"
	if r.IsParent() {
		kind = "batch parent"
	} else if r.IsChild() {
		kind = fmt.Sprintf("batch child %d", *r.batchIndex)
	}
	return fmt.Sprintf("%s %s [tenant=%s status=%s stage=%s progress=%d%%]",
		kind, r.id, r.tenantID, r.status, r.currentStage, r.progress)
}
