package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
	"github.com/qbanklabs/qbank-go/pkg/utils"
)

var validate = validator.New()

// Submission is the input of Submit: one tenant, any mix of direct
// uploads and URL sources.
type Submission struct {
	TenantID   string   `validate:"required"`
	Uploads    []Upload
	SourceURLs []string `validate:"dive,required"`
}

// Service is the tenant-facing entry point of the pipeline. It admits
// submissions, fans large ones out into batches, and owns the run
// lifecycle operations (cancel, pause, resume, restart, delete, merge).
// The daemon RPC layer and the CLI drive it through mediator commands.
type Service struct {
	tenants    tenant.Repository
	runs       pipeline.RunRepository
	jobs       pipeline.JobRepository
	items      corpus.ItemRepository
	queue      queue.Queue
	store      ports.ArtifactStore
	sources    *SourceMaterializer
	batchSize  int
	maxBatches int
}

// NewService creates the admission service. batchSize and maxBatches
// bound the fan-out; non-positive values fall back to the defaults.
func NewService(
	tenants tenant.Repository,
	runs pipeline.RunRepository,
	jobs pipeline.JobRepository,
	items corpus.ItemRepository,
	q queue.Queue,
	store ports.ArtifactStore,
	sources *SourceMaterializer,
	batchSize, maxBatches int,
) *Service {
	if batchSize < 1 {
		batchSize = 30
	}
	if maxBatches < 1 {
		maxBatches = 20
	}
	return &Service{
		tenants:    tenants,
		runs:       runs,
		jobs:       jobs,
		items:      items,
		queue:      q,
		store:      store,
		sources:    sources,
		batchSize:  batchSize,
		maxBatches: maxBatches,
	}
}

// Submit admits a new submission: checks the tenant and its concurrency
// quota, materializes the inputs, and routes to a standalone run or a
// batch fan-out. The returned summary describes the standalone run or
// the batch parent.
func (s *Service) Submit(ctx context.Context, sub Submission) (*RunSummary, error) {
	if err := validate.Struct(sub); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	owner, err := s.admitTenant(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}

	inputs, err := s.sources.Materialize(ctx, sub.Uploads, sub.SourceURLs)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, &ErrNoInputs{TenantID: owner.ID()}
	}
	if ceiling := s.batchSize * s.maxBatches; len(inputs) > ceiling {
		return nil, &ErrBatchTooLarge{Documents: len(inputs), Limit: ceiling}
	}

	names := make([]string, len(inputs))
	bodies := make(map[string][]byte, len(inputs))
	for i, input := range inputs {
		names[i] = input.Name
		bodies[input.Name] = input.Content
	}

	run, err := s.launch(ctx, owner.ID(), names, sub.SourceURLs,
		func(ctx context.Context, dstRunID, filename string) (string, error) {
			return s.store.SaveUpload(ctx, owner.ID(), dstRunID, filename, bodies[filename])
		})
	if err != nil {
		return nil, err
	}
	return NewRunSummary(run), nil
}

// Cancel stops a run. Cancelling a batch parent takes its non-terminal
// children down with it; in-flight stage work observes the status on
// its next heartbeat and drains.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := run.Cancel(); err != nil {
		return err
	}
	if err := s.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to persist cancellation of run %s: %w", runID, err)
	}

	children, err := s.runs.FindChildren(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load children of run %s: %w", runID, err)
	}
	for _, child := range children {
		if child.IsTerminal() {
			continue
		}
		if err := child.Cancel(); err != nil {
			return err
		}
		if err := s.runs.Update(ctx, child); err != nil {
			return fmt.Errorf("failed to persist cancellation of batch run %s: %w", child.ID(), err)
		}
	}
	return nil
}

// Pause suspends a running run. Leased stage work drains back to the
// queue without consuming an attempt; the run resumes where it stopped.
func (s *Service) Pause(ctx context.Context, runID string) error {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := run.Pause(); err != nil {
		return err
	}
	if err := s.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to persist pause of run %s: %w", runID, err)
	}

	children, err := s.runs.FindChildren(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load children of run %s: %w", runID, err)
	}
	for _, child := range children {
		if child.Status() != pipeline.RunStatusRunning {
			continue
		}
		if err := child.Pause(); err != nil {
			return err
		}
		if err := s.runs.Update(ctx, child); err != nil {
			return fmt.Errorf("failed to persist pause of batch run %s: %w", child.ID(), err)
		}
	}
	return nil
}

// Resume returns a paused run to RUNNING
func (s *Service) Resume(ctx context.Context, runID string) error {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := run.Resume(); err != nil {
		return err
	}
	if err := s.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to persist resume of run %s: %w", runID, err)
	}

	children, err := s.runs.FindChildren(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load children of run %s: %w", runID, err)
	}
	for _, child := range children {
		if child.Status() != pipeline.RunStatusPaused {
			continue
		}
		if err := child.Resume(); err != nil {
			return err
		}
		if err := s.runs.Update(ctx, child); err != nil {
			return fmt.Errorf("failed to persist resume of batch run %s: %w", child.ID(), err)
		}
	}
	return nil
}

// Restart replaces a terminal run with a fresh one built from the old
// run's preserved uploads. The replacement is routed through the same
// standalone-versus-batch decision as a new submission; the old run,
// its children, their corpus items and their directories are deleted
// once the uploads have been copied across.
func (s *Service) Restart(ctx context.Context, runID string) (*RunSummary, error) {
	old, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if old.IsChild() {
		return nil, &pipeline.ErrChildRestartNotAllowed{RunID: runID, ParentRunID: *old.ParentRunID()}
	}
	if !old.IsTerminal() {
		return nil, &pipeline.ErrRunNotTerminal{RunID: runID, Status: old.Status()}
	}

	uploads, err := s.store.ListUploads(ctx, old.TenantID(), old.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads of run %s: %w", runID, err)
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("run %s has no preserved uploads to restart from", runID)
	}
	names := make([]string, len(uploads))
	for i, path := range uploads {
		names[i] = filepath.Base(path)
	}

	replacement, err := s.launch(ctx, old.TenantID(), names, old.SourceURLs(),
		func(ctx context.Context, dstRunID, filename string) (string, error) {
			return s.store.CopyUpload(ctx, old.TenantID(), old.ID(), dstRunID, filename)
		})
	if err != nil {
		return nil, err
	}

	// The old tree goes away only after its uploads were copied across.
	if err := s.removeRunTree(ctx, old, true); err != nil {
		return nil, fmt.Errorf("replacement run %s was created but the old run could not be removed: %w",
			replacement.ID(), err)
	}

	return NewRunSummary(replacement), nil
}

// Delete removes a terminal run, its batch children, their jobs and
// their directories. Corpus items outlive their runs.
func (s *Service) Delete(ctx context.Context, runID string) error {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.IsChild() {
		return fmt.Errorf("run %s is a batch child of %s; delete the parent run instead",
			runID, *run.ParentRunID())
	}
	if !run.IsTerminal() {
		return &pipeline.ErrRunNotTerminal{RunID: runID, Status: run.Status()}
	}
	return s.removeRunTree(ctx, run, false)
}

// Merge combines two or more completed runs of one tenant into a new
// run that re-enters the pipeline at similarity, operating on a fresh
// snapshot of the tenant corpus.
func (s *Service) Merge(ctx context.Context, runIDs []string) (*RunSummary, error) {
	if len(runIDs) < 2 {
		return nil, &ErrMergeTooFewRuns{Provided: len(runIDs)}
	}

	loaded, err := s.runs.FindByIDs(ctx, runIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	byID := make(map[string]*pipeline.Run, len(loaded))
	for _, run := range loaded {
		byID[run.ID()] = run
	}

	tenantID := ""
	var names []string
	seen := make(map[string]bool)
	for _, id := range runIDs {
		run, ok := byID[id]
		if !ok {
			return nil, &pipeline.ErrRunNotFound{RunID: id}
		}
		if tenantID == "" {
			tenantID = run.TenantID()
		}
		if run.TenantID() != tenantID {
			return nil, &ErrMergeMixedTenants{RunID: id, TenantID: run.TenantID(), Expected: tenantID}
		}
		if run.Status() != pipeline.RunStatusCompleted {
			return nil, &ErrMergeSourceNotCompleted{RunID: id, Status: run.Status()}
		}
		for _, name := range run.InputFiles() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	merged, err := pipeline.NewMergedRun(tenantID, names)
	if err != nil {
		return nil, err
	}
	if err := s.runs.Create(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to create merged run: %w", err)
	}

	inputPath, err := s.snapshotCorpus(ctx, merged)
	if err != nil {
		return nil, err
	}

	if err := s.enqueueStage(ctx, merged, pipeline.StageSimilarity, pipeline.SimilarityPayload{
		InputPath:  inputPath,
		OutputPath: s.store.OutputPath(tenantID, merged.ID(), "similarity.json"),
	}); err != nil {
		return nil, err
	}

	return NewRunSummary(merged), nil
}

// documentPlacer puts one named document into a run's upload directory
// and returns its absolute path. Submit closes over buffered bodies,
// Restart copies from the old run's preserved directory.
type documentPlacer func(ctx context.Context, dstRunID, filename string) (string, error)

// launch creates the run tree for the given inputs, places every
// document, and enqueues the head jobs. Inputs above the batch size fan
// out into a parent and ceil(N/batchSize) children, each child owning a
// disjoint slice of the documents copied into its own upload directory.
func (s *Service) launch(ctx context.Context, tenantID string, names, urls []string, place documentPlacer) (*pipeline.Run, error) {
	if len(names) <= s.batchSize {
		run, err := pipeline.NewRun(tenantID, names, urls)
		if err != nil {
			return nil, err
		}
		if err := s.runs.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		paths, err := s.placeAll(ctx, run.ID(), names, place)
		if err != nil {
			return nil, err
		}
		if err := s.enqueueStage(ctx, run, pipeline.StageExtract, pipeline.ExtractPayload{
			PDFPaths:  paths,
			OutputDir: s.store.OutputDir(tenantID, run.ID()),
		}); err != nil {
			return nil, err
		}
		return run, nil
	}

	batches := (len(names) + s.batchSize - 1) / s.batchSize
	parent, err := pipeline.NewParentRun(tenantID, names, urls, s.batchSize, batches)
	if err != nil {
		return nil, err
	}
	if err := s.runs.Create(ctx, parent); err != nil {
		return nil, fmt.Errorf("failed to create batch parent: %w", err)
	}
	if _, err := s.placeAll(ctx, parent.ID(), names, place); err != nil {
		return nil, err
	}

	for i := 0; i < batches; i++ {
		lo := i * s.batchSize
		hi := utils.Min(lo+s.batchSize, len(names))
		child, err := pipeline.NewChildRun(parent, i, names[lo:hi])
		if err != nil {
			return nil, err
		}
		if err := s.runs.Create(ctx, child); err != nil {
			return nil, fmt.Errorf("failed to create batch %d: %w", i, err)
		}

		paths := make([]string, 0, hi-lo)
		for _, name := range names[lo:hi] {
			path, err := s.store.CopyUpload(ctx, tenantID, parent.ID(), child.ID(), name)
			if err != nil {
				return nil, fmt.Errorf("failed to copy %s into batch %d: %w", name, i, err)
			}
			paths = append(paths, path)
		}

		if err := s.enqueueStage(ctx, child, pipeline.StageExtract, pipeline.ExtractPayload{
			PDFPaths:  paths,
			OutputDir: s.store.OutputDir(tenantID, child.ID()),
		}); err != nil {
			return nil, err
		}
	}

	if err := s.enqueueStage(ctx, parent, pipeline.StageCoordinate, pipeline.CoordinatePayload{}); err != nil {
		return nil, err
	}
	return parent, nil
}

// placeAll places every named document into the run's upload directory
func (s *Service) placeAll(ctx context.Context, runID string, names []string, place documentPlacer) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path, err := place(ctx, runID, name)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// enqueueStage appends a stage message for the run and records the
// matching PENDING job row.
func (s *Service) enqueueStage(ctx context.Context, run *pipeline.Run, stage pipeline.Stage, payload interface{}) error {
	body, err := pipeline.MarshalPayload(payload)
	if err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, queue.Message{
		Stage:    stage,
		TenantID: run.TenantID(),
		RunID:    run.ID(),
		Payload:  body,
	}); err != nil {
		return fmt.Errorf("failed to enqueue %s for run %s: %w", stage, run.ID(), err)
	}

	job, err := pipeline.NewJob(run.ID(), stage)
	if err != nil {
		return err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create %s job for run %s: %w", stage, run.ID(), err)
	}
	return nil
}

// snapshotCorpus writes the tenant's full corpus under the run's output
// directory as its similarity input and returns the path.
func (s *Service) snapshotCorpus(ctx context.Context, run *pipeline.Run) (string, error) {
	items, err := s.items.FindByTenant(ctx, run.TenantID())
	if err != nil {
		return "", fmt.Errorf("failed to snapshot tenant corpus: %w", err)
	}
	data, err := json.MarshalIndent(corpus.RecordsFromItems(items), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal corpus snapshot: %w", err)
	}
	path := s.store.OutputPath(run.TenantID(), run.ID(), "categorized_merged.json")
	if err := s.store.WriteFile(ctx, path, data); err != nil {
		return "", err
	}
	return path, nil
}

// removeRunTree deletes a run, its batch children, their jobs, their
// logs and every directory the tree owns. When dropItems is set the
// tenant corpus rows last written by any of the deleted runs go too.
func (s *Service) removeRunTree(ctx context.Context, run *pipeline.Run, dropItems bool) error {
	children, err := s.runs.FindChildren(ctx, run.ID())
	if err != nil {
		return fmt.Errorf("failed to load children of run %s: %w", run.ID(), err)
	}

	if dropItems {
		ids := make([]string, 0, len(children)+1)
		for _, child := range children {
			ids = append(ids, child.ID())
		}
		ids = append(ids, run.ID())
		if err := s.items.DeleteByRuns(ctx, run.TenantID(), ids); err != nil {
			return fmt.Errorf("failed to delete corpus items of run %s: %w", run.ID(), err)
		}
	}

	for _, child := range children {
		if err := s.store.RemoveRunData(ctx, run.TenantID(), child.ID()); err != nil {
			return err
		}
		if err := s.runs.Delete(ctx, child.ID()); err != nil {
			return fmt.Errorf("failed to delete batch run %s: %w", child.ID(), err)
		}
	}
	if err := s.store.RemoveRunData(ctx, run.TenantID(), run.ID()); err != nil {
		return err
	}
	if err := s.runs.Delete(ctx, run.ID()); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", run.ID(), err)
	}
	return nil
}

// admitTenant resolves the tenant and enforces its admission rules:
// the tenant must be active and below its concurrent-run quota.
func (s *Service) admitTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	owner, err := s.resolveTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !owner.IsActive() {
		return nil, &tenant.ErrTenantInactive{TenantID: owner.ID(), Slug: owner.Slug()}
	}

	active, err := s.runs.CountActiveByTenant(ctx, owner.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to count active runs: %w", err)
	}
	if active >= owner.MaxConcurrentRuns() {
		return nil, &tenant.ErrQuotaExceeded{TenantID: owner.ID(), Active: active, Limit: owner.MaxConcurrentRuns()}
	}
	return owner, nil
}

// resolveTenant accepts either a tenant ID or a slug, the way operators
// type them.
func (s *Service) resolveTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	owner, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if owner == nil {
		owner, err = s.tenants.FindBySlug(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
		}
	}
	if owner == nil {
		return nil, &tenant.ErrTenantNotFound{TenantID: tenantID}
	}
	return owner, nil
}

// loadRun fetches a run or reports it missing
func (s *Service) loadRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		return nil, &pipeline.ErrRunNotFound{RunID: runID}
	}
	return run, nil
}
