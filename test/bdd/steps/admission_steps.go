package steps

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cucumber/godog"

	"github.com/qbanklabs/qbank-go/internal/adapters/storage"
	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

// admissionContext holds state for submission admission tests. Scenarios
// run against the shared test database with an in-memory queue and a
// scripted source fetcher; the filesystem store writes under temp roots
// that the After hook removes.
type admissionContext struct {
	repos      *helpers.TestRepositories
	queue      *helpers.MockQueue
	store      *storage.FilesystemStore
	fetcher    *helpers.MockSourceFetcher
	service    *admission.Service
	tenants    map[string]*tenant.Tenant
	batchSize  int
	maxBatches int
	summary    *admission.RunSummary
	err        error
	tempRoots  []string
}

func (ac *admissionContext) reset() error {
	if err := helpers.ResetSharedTestDB(); err != nil {
		return err
	}
	ac.repos = helpers.NewRepositoriesOn(helpers.SharedTestDB)
	ac.queue = helpers.NewMockQueue()
	ac.fetcher = helpers.NewMockSourceFetcher()
	ac.store = nil
	ac.service = nil
	ac.tenants = make(map[string]*tenant.Tenant)
	ac.batchSize = 30
	ac.maxBatches = 20
	ac.summary = nil
	ac.err = nil
	ac.tempRoots = nil
	return nil
}

func (ac *admissionContext) cleanup() {
	for _, root := range ac.tempRoots {
		os.RemoveAll(root)
	}
	ac.tempRoots = nil
}

// ensureService builds the admission service on first use, after the
// Given steps had their chance to adjust the batch limits.
func (ac *admissionContext) ensureService() (*admission.Service, error) {
	if ac.service != nil {
		return ac.service, nil
	}
	uploadRoot, err := os.MkdirTemp("", "qbank-bdd-uploads-")
	if err != nil {
		return nil, err
	}
	outputRoot, err := os.MkdirTemp("", "qbank-bdd-outputs-")
	if err != nil {
		return nil, err
	}
	ac.tempRoots = append(ac.tempRoots, uploadRoot, outputRoot)
	ac.store = storage.NewFilesystemStore(uploadRoot, outputRoot)
	ac.service = admission.NewService(
		ac.repos.Tenants, ac.repos.Runs, ac.repos.Jobs, ac.repos.Items,
		ac.queue, ac.store, admission.NewSourceMaterializer(ac.fetcher),
		ac.batchSize, ac.maxBatches,
	)
	return ac.service, nil
}

func (ac *admissionContext) tenantBySlug(slug string) (*tenant.Tenant, error) {
	owner, ok := ac.tenants[slug]
	if !ok {
		return nil, fmt.Errorf("no tenant %q was set up", slug)
	}
	return owner, nil
}

func generatedUploads(count int) []admission.Upload {
	uploads := make([]admission.Upload, count)
	for i := range uploads {
		name := fmt.Sprintf("doc_%02d.pdf", i+1)
		uploads[i] = admission.Upload{Filename: name, Content: []byte("%PDF-1.4\n" + name)}
	}
	return uploads
}

// ============================================================================
// Setup Steps
// ============================================================================

func (ac *admissionContext) theBatchSizeIs(size int) error {
	if ac.service != nil {
		return fmt.Errorf("the batch size must be set before the first submission")
	}
	ac.batchSize = size
	return nil
}

func (ac *admissionContext) theSubmissionCeilingIs(batches int) error {
	if ac.service != nil {
		return fmt.Errorf("the submission ceiling must be set before the first submission")
	}
	ac.maxBatches = batches
	return nil
}

func (ac *admissionContext) anActiveTenantAllowing(slug string, maxRuns int) error {
	owner, err := tenant.NewTenant(slug, maxRuns, 10240)
	if err != nil {
		return err
	}
	if err := ac.repos.Tenants.Create(context.Background(), owner); err != nil {
		return err
	}
	ac.tenants[slug] = owner
	return nil
}

func (ac *admissionContext) tenantIsDeactivated(slug string) error {
	owner, err := ac.tenantBySlug(slug)
	if err != nil {
		return err
	}
	owner.Deactivate()
	return ac.repos.Tenants.Update(context.Background(), owner)
}

func (ac *admissionContext) tenantAlreadyHasRunningRuns(slug string, count int) error {
	owner, err := ac.tenantBySlug(slug)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		run, err := pipeline.NewRun(owner.ID(), []string{fmt.Sprintf("busy_%02d.pdf", i+1)}, nil)
		if err != nil {
			return err
		}
		if err := run.Start(); err != nil {
			return err
		}
		if err := ac.repos.Runs.Create(context.Background(), run); err != nil {
			return err
		}
	}
	return nil
}

func (ac *admissionContext) tenantHasAPausedRun(slug string) error {
	owner, err := ac.tenantBySlug(slug)
	if err != nil {
		return err
	}
	run, err := pipeline.NewRun(owner.ID(), []string{"paused.pdf"}, nil)
	if err != nil {
		return err
	}
	if err := run.Start(); err != nil {
		return err
	}
	if err := run.Pause(); err != nil {
		return err
	}
	return ac.repos.Runs.Create(context.Background(), run)
}

func (ac *admissionContext) theURLServesADocumentNamed(url, name string) error {
	ac.fetcher.SetSource(url, name, []byte("%PDF-1.4\n"+url))
	return nil
}

// ============================================================================
// Submission Steps
// ============================================================================

func (ac *admissionContext) tenantSubmitsDocuments(slug string, count int) error {
	owner, err := ac.tenantBySlug(slug)
	if err != nil {
		return err
	}
	service, err := ac.ensureService()
	if err != nil {
		return err
	}
	ac.summary, ac.err = service.Submit(context.Background(), admission.Submission{
		TenantID: owner.ID(),
		Uploads:  generatedUploads(count),
	})
	return nil
}

func (ac *admissionContext) tenantSubmitsADocumentNamedBySlug(slug, filename string) error {
	if _, err := ac.tenantBySlug(slug); err != nil {
		return err
	}
	service, err := ac.ensureService()
	if err != nil {
		return err
	}
	ac.summary, ac.err = service.Submit(context.Background(), admission.Submission{
		TenantID: slug,
		Uploads:  []admission.Upload{{Filename: filename, Content: []byte("%PDF-1.4\n" + filename)}},
	})
	return nil
}

func (ac *admissionContext) anUnknownTenantSubmitsADocument() error {
	service, err := ac.ensureService()
	if err != nil {
		return err
	}
	ac.summary, ac.err = service.Submit(context.Background(), admission.Submission{
		TenantID: "nobody",
		Uploads:  generatedUploads(1),
	})
	return nil
}

func (ac *admissionContext) tenantSubmitsTheURL(slug, url string) error {
	owner, err := ac.tenantBySlug(slug)
	if err != nil {
		return err
	}
	service, err := ac.ensureService()
	if err != nil {
		return err
	}
	ac.summary, ac.err = service.Submit(context.Background(), admission.Submission{
		TenantID:   owner.ID(),
		SourceURLs: []string{url},
	})
	return nil
}

// ============================================================================
// Assertion Steps
// ============================================================================

func (ac *admissionContext) theSubmissionShouldBeAccepted() error {
	if ac.err != nil {
		return fmt.Errorf("expected the submission to be accepted but got: %s", ac.err.Error())
	}
	if ac.summary == nil {
		return fmt.Errorf("expected a run summary but got none")
	}
	return nil
}

func (ac *admissionContext) theSubmissionShouldBeRejected() error {
	if ac.err == nil {
		return fmt.Errorf("expected the submission to be rejected but it was accepted")
	}
	return nil
}

func (ac *admissionContext) theSubmissionShouldBeRejectedQuotaExhausted() error {
	var quota *tenant.ErrQuotaExceeded
	if !errors.As(ac.err, &quota) {
		return fmt.Errorf("expected a quota error but got: %v", ac.err)
	}
	return nil
}

func (ac *admissionContext) theSubmissionShouldBeRejectedTenantInactive() error {
	var inactive *tenant.ErrTenantInactive
	if !errors.As(ac.err, &inactive) {
		return fmt.Errorf("expected an inactive-tenant error but got: %v", ac.err)
	}
	return nil
}

func (ac *admissionContext) theSubmissionShouldBeRejectedTenantUnknown() error {
	var notFound *tenant.ErrTenantNotFound
	if !errors.As(ac.err, &notFound) {
		return fmt.Errorf("expected an unknown-tenant error but got: %v", ac.err)
	}
	return nil
}

func (ac *admissionContext) theSubmissionShouldBeRejectedAsTooLarge() error {
	var tooLarge *admission.ErrBatchTooLarge
	if !errors.As(ac.err, &tooLarge) {
		return fmt.Errorf("expected a batch-too-large error but got: %v", ac.err)
	}
	return nil
}

func (ac *admissionContext) theRunShouldEnterThePipelineAtStage(stage string) error {
	if ac.summary == nil {
		return fmt.Errorf("no run was accepted")
	}
	if ac.summary.CurrentStage != stage {
		return fmt.Errorf("expected the run to enter at '%s' but it entered at '%s'", stage, ac.summary.CurrentStage)
	}
	return nil
}

func (ac *admissionContext) noBatchChildrenShouldBeCreated() error {
	if ac.summary == nil {
		return fmt.Errorf("no run was accepted")
	}
	if ac.summary.TotalBatches != nil {
		return fmt.Errorf("expected a standalone run but it is a batch parent of %d", *ac.summary.TotalBatches)
	}
	children, err := ac.repos.Runs.FindChildren(context.Background(), ac.summary.ID)
	if err != nil {
		return err
	}
	if len(children) != 0 {
		return fmt.Errorf("expected no batch children but found %d", len(children))
	}
	return nil
}

func (ac *admissionContext) theSubmissionShouldFanOutInto(expected int) error {
	if ac.summary == nil {
		return fmt.Errorf("no run was accepted")
	}
	if ac.summary.TotalBatches == nil {
		return fmt.Errorf("expected a batch parent but got a standalone run")
	}
	if *ac.summary.TotalBatches != expected {
		return fmt.Errorf("expected %d batches but got %d", expected, *ac.summary.TotalBatches)
	}
	children, err := ac.repos.Runs.FindChildren(context.Background(), ac.summary.ID)
	if err != nil {
		return err
	}
	if len(children) != expected {
		return fmt.Errorf("expected %d batch children but found %d", expected, len(children))
	}
	return nil
}

func (ac *admissionContext) eachBatchChildShouldHoldAtMost(limit int) error {
	children, err := ac.repos.Runs.FindChildren(context.Background(), ac.summary.ID)
	if err != nil {
		return err
	}
	total := 0
	for _, child := range children {
		if len(child.InputFiles()) > limit {
			return fmt.Errorf("batch %d holds %d documents, more than the limit of %d",
				*child.BatchIndex(), len(child.InputFiles()), limit)
		}
		total += len(child.InputFiles())
	}
	if total != len(ac.summary.InputFiles) {
		return fmt.Errorf("the children hold %d documents but the parent owns %d",
			total, len(ac.summary.InputFiles))
	}
	return nil
}

func (ac *admissionContext) oneExtractMessagePerBatchChild() error {
	children, err := ac.repos.Runs.FindChildren(context.Background(), ac.summary.ID)
	if err != nil {
		return err
	}
	messages := ac.queue.Messages(pipeline.StageExtract)
	if len(messages) != len(children) {
		return fmt.Errorf("expected %d extract messages but found %d", len(children), len(messages))
	}
	for i, child := range children {
		if messages[i].RunID != child.ID() {
			return fmt.Errorf("extract message %d is for run %s, expected batch %d (%s)",
				i, messages[i].RunID, i, child.ID())
		}
	}
	return nil
}

func (ac *admissionContext) aSingleCoordinateMessageForTheParent() error {
	messages := ac.queue.Messages(pipeline.StageCoordinate)
	if len(messages) != 1 {
		return fmt.Errorf("expected exactly one coordinate message but found %d", len(messages))
	}
	if messages[0].RunID != ac.summary.ID {
		return fmt.Errorf("the coordinate message is for run %s, expected the parent %s",
			messages[0].RunID, ac.summary.ID)
	}
	return nil
}

func (ac *admissionContext) theAcceptedRunShouldCarryTheDocument(filename string) error {
	if ac.summary == nil {
		return fmt.Errorf("no run was accepted")
	}
	for _, name := range ac.summary.InputFiles {
		if name == filename {
			return nil
		}
	}
	return fmt.Errorf("expected the run to carry '%s' but its inputs are %v", filename, ac.summary.InputFiles)
}

func (ac *admissionContext) theUploadedDocumentsShouldBePreserved() error {
	paths, err := ac.store.ListUploads(context.Background(), ac.summary.TenantID, ac.summary.ID)
	if err != nil {
		return err
	}
	if len(paths) != len(ac.summary.InputFiles) {
		return fmt.Errorf("expected %d preserved uploads but found %d", len(ac.summary.InputFiles), len(paths))
	}
	return nil
}

func (ac *admissionContext) noRunShouldExistForTenant(slug string) error {
	owner, err := ac.tenantBySlug(slug)
	if err != nil {
		return err
	}
	runs, err := ac.repos.Runs.FindByTenant(context.Background(), owner.ID(), pipeline.RunFilter{})
	if err != nil {
		return err
	}
	if len(runs) != 0 {
		return fmt.Errorf("expected no runs for tenant %s but found %d", slug, len(runs))
	}
	return nil
}

// ============================================================================
// Step Registration
// ============================================================================

// InitializeAdmissionScenario registers submission admission step definitions
func InitializeAdmissionScenario(ctx *godog.ScenarioContext) {
	ac := &admissionContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, ac.reset()
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		ac.cleanup()
		return ctx, nil
	})

	// Setup steps
	ctx.Step(`^the batch size is (\d+) documents per batch$`, ac.theBatchSizeIs)
	ctx.Step(`^the submission ceiling is (\d+) batches$`, ac.theSubmissionCeilingIs)
	ctx.Step(`^an active tenant "([^"]*)" allowing (\d+) concurrent runs?$`, ac.anActiveTenantAllowing)
	ctx.Step(`^tenant "([^"]*)" is deactivated$`, ac.tenantIsDeactivated)
	ctx.Step(`^tenant "([^"]*)" already has (\d+) running runs?$`, ac.tenantAlreadyHasRunningRuns)
	ctx.Step(`^tenant "([^"]*)" has a paused run$`, ac.tenantHasAPausedRun)
	ctx.Step(`^the URL "([^"]*)" serves a document named "([^"]*)"$`, ac.theURLServesADocumentNamed)

	// Submission steps
	ctx.Step(`^tenant "([^"]*)" submits (\d+) documents?$`, ac.tenantSubmitsDocuments)
	ctx.Step(`^tenant "([^"]*)" submits a document named "([^"]*)" by slug$`, ac.tenantSubmitsADocumentNamedBySlug)
	ctx.Step(`^an unknown tenant submits a document$`, ac.anUnknownTenantSubmitsADocument)
	ctx.Step(`^tenant "([^"]*)" submits the URL "([^"]*)"$`, ac.tenantSubmitsTheURL)

	// Assertion steps
	ctx.Step(`^the submission should be accepted$`, ac.theSubmissionShouldBeAccepted)
	ctx.Step(`^the submission should be rejected$`, ac.theSubmissionShouldBeRejected)
	ctx.Step(`^the submission should be rejected because the quota is exhausted$`, ac.theSubmissionShouldBeRejectedQuotaExhausted)
	ctx.Step(`^the submission should be rejected because the tenant is inactive$`, ac.theSubmissionShouldBeRejectedTenantInactive)
	ctx.Step(`^the submission should be rejected because the tenant is unknown$`, ac.theSubmissionShouldBeRejectedTenantUnknown)
	ctx.Step(`^the submission should be rejected as too large$`, ac.theSubmissionShouldBeRejectedAsTooLarge)
	ctx.Step(`^the run should enter the pipeline at the "([^"]*)" stage$`, ac.theRunShouldEnterThePipelineAtStage)
	ctx.Step(`^no batch children should be created$`, ac.noBatchChildrenShouldBeCreated)
	ctx.Step(`^the submission should fan out into (\d+) batch children$`, ac.theSubmissionShouldFanOutInto)
	ctx.Step(`^each batch child should hold at most (\d+) documents$`, ac.eachBatchChildShouldHoldAtMost)
	ctx.Step(`^one "extract" message should be enqueued per batch child$`, ac.oneExtractMessagePerBatchChild)
	ctx.Step(`^a single "coordinate" message should be enqueued for the parent$`, ac.aSingleCoordinateMessageForTheParent)
	ctx.Step(`^the accepted run should carry the document "([^"]*)"$`, ac.theAcceptedRunShouldCarryTheDocument)
	ctx.Step(`^the uploaded documents should be preserved on disk$`, ac.theUploadedDocumentsShouldBePreserved)
	ctx.Step(`^no run should exist for tenant "([^"]*)"$`, ac.noRunShouldExistForTenant)
}
