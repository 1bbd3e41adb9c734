package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// CategorizeProcessor assigns each parsed question a tenant category via
// the AI language model, then merges the run's records into the tenant
// corpus and snapshots the merged corpus for the similarity stage.
type CategorizeProcessor struct {
	ai            ports.AIClient
	store         ports.ArtifactStore
	items         corpus.ItemRepository
	tenants       tenant.Repository
	categories    tenant.CategoryRepository
	languageModel string
	maxInFlight   int
}

// NewCategorizeProcessor creates the categorize stage processor.
func NewCategorizeProcessor(
	ai ports.AIClient,
	store ports.ArtifactStore,
	items corpus.ItemRepository,
	tenants tenant.Repository,
	categories tenant.CategoryRepository,
	languageModel string,
	maxInFlight int,
) *CategorizeProcessor {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &CategorizeProcessor{
		ai:            ai,
		store:         store,
		items:         items,
		tenants:       tenants,
		categories:    categories,
		languageModel: languageModel,
		maxInFlight:   maxInFlight,
	}
}

// Stage implements Processor.
func (p *CategorizeProcessor) Stage() pipeline.Stage {
	return pipeline.StageCategorize
}

// CategorizeSummary is the job result recorded by the categorize stage.
type CategorizeSummary struct {
	Total       int    `json:"total"`
	Categorized int    `json:"categorized"`
	CorpusSize  int    `json:"corpus_size"`
	MergedPath  string `json:"merged_path"`
}

// categorizeAnswer is the shape the language model returns.
type categorizeAnswer struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Reasoning   string `json:"reasoning"`
}

// Process implements Processor. A tenant with no categories does not
// abort: every item is marked uncategorizable and still merged, so the
// corpus keeps growing and a later recategorization can fix the labels.
func (p *CategorizeProcessor) Process(ctx context.Context, run *pipeline.Run, raw json.RawMessage) (*Result, error) {
	var payload pipeline.CategorizePayload
	if err := pipeline.UnmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}

	data, err := p.store.ReadFile(ctx, payload.ParsedPath)
	if err != nil {
		return nil, pipeline.Retryable(err)
	}
	var records []corpus.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parse records from %s: %w", payload.ParsedPath, err)
	}

	owner, err := p.tenants.FindByID(ctx, run.TenantID())
	if err != nil {
		return nil, pipeline.Retryable(fmt.Errorf("failed to load tenant %s: %w", run.TenantID(), err))
	}
	if owner == nil {
		return nil, fmt.Errorf("tenant %s not found", run.TenantID())
	}
	categories, err := p.categories.FindByTenant(ctx, run.TenantID())
	if err != nil {
		return nil, pipeline.Retryable(fmt.Errorf("failed to load categories for tenant %s: %w", run.TenantID(), err))
	}

	logger := common.RunLoggerFromContext(ctx)
	run.SetTotalItems(len(records))

	// Every record this run merges names this run as its writer, and the
	// merge resets grouping over the changed corpus.
	for i := range records {
		records[i].PipelineRunID = run.ID()
		records[i].SimilarityGroupID = nil
	}

	if len(categories) == 0 {
		logger.Log("warning", "tenant has no categories configured; items will be merged uncategorized",
			map[string]interface{}{"stage": "categorize"})
		for i := range records {
			records[i].Categorization = &corpus.Categorization{
				Success: false,
				Error:   "No categories configured",
			}
		}
	} else {
		if err := p.categorizeAll(ctx, owner.AICredential(), newCategoryCatalog(categories), records); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audit, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categorize records: %w", err)
	}
	if err := p.store.WriteFile(ctx, payload.OutputPath, audit); err != nil {
		return nil, pipeline.Retryable(err)
	}

	mergedItems, err := p.items.MergeAndSnapshot(ctx, run.TenantID(), run.ID(), records)
	if err != nil {
		return nil, pipeline.Retryable(fmt.Errorf("corpus merge failed: %w", err))
	}

	mergedData, err := json.MarshalIndent(corpus.RecordsFromItems(mergedItems), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged corpus: %w", err)
	}
	if err := p.store.WriteFile(ctx, payload.MergedPath, mergedData); err != nil {
		return nil, pipeline.Retryable(err)
	}

	run.AddProcessedItems(len(records))

	categorized := 0
	for _, r := range records {
		if r.Categorization != nil && r.Categorization.Success {
			categorized++
		}
	}
	logger.Log("info", fmt.Sprintf("categorized %d/%d items, corpus now holds %d", categorized, len(records), len(mergedItems)),
		map[string]interface{}{"stage": "categorize", "total": len(records), "categorized": categorized, "corpus": len(mergedItems)})

	summary, err := summarize(CategorizeSummary{
		Total:       len(records),
		Categorized: categorized,
		CorpusSize:  len(mergedItems),
		MergedPath:  payload.MergedPath,
	})
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Dir(payload.MergedPath)
	next, err := pipeline.MarshalPayload(pipeline.SimilarityPayload{
		InputPath:  payload.MergedPath,
		OutputPath: filepath.Join(outputDir, "similarity.json"),
	})
	if err != nil {
		return nil, err
	}

	return &Result{Summary: summary, NextPayload: next}, nil
}

// categorizeAll runs the language model over every successfully parsed
// record in place. Items that failed parsing are left uncategorized.
func (p *CategorizeProcessor) categorizeAll(ctx context.Context, credential string, catalog *categoryCatalog, records []corpus.Record) error {
	logger := common.RunLoggerFromContext(ctx)
	systemPrompt := catalog.SystemPrompt()
	schema := catalog.ResponseSchema()

	var done int64
	var fatalOnce sync.Once
	var fatalErr error

	forEachBounded(ctx, len(records), p.maxInFlight, func(i int) {
		defer func() {
			n := atomic.AddInt64(&done, 1)
			common.ReportProgress(ctx, int(n*100/int64(len(records))))
		}()

		record := &records[i]
		if !record.Success || len(record.Data) == 0 {
			return
		}

		categorization, err := p.categorizeOne(ctx, credential, systemPrompt, schema, catalog, record.Data)
		record.Categorization = categorization
		if err != nil {
			fatalOnce.Do(func() { fatalErr = err })
		}
		if !categorization.Success {
			logger.Log("warning", fmt.Sprintf("categorize failed for %s: %s", record.File, categorization.Error),
				map[string]interface{}{"stage": "categorize", "file": record.File})
		}
	})

	return fatalErr
}

// categorizeOne classifies a single question. The returned error is
// non-nil only for the missing-credential case, which must fail the job
// because no item can succeed without a key.
func (p *CategorizeProcessor) categorizeOne(ctx context.Context, credential, systemPrompt string, schema json.RawMessage, catalog *categoryCatalog, data json.RawMessage) (*corpus.Categorization, error) {
	var q parsedQuestion
	if err := json.Unmarshal(data, &q); err != nil {
		return &corpus.Categorization{Success: false, Error: fmt.Sprintf("parse data does not match question schema: %v", err)}, nil
	}

	prompt := q.QuestionText
	if q.CorrectAnswer != "" {
		prompt += "\n\nAnswer: " + q.CorrectAnswer
	}

	raw, err := p.ai.GenerateFromPrompt(ctx, ports.PromptRequest{
		APIKey:         credential,
		Model:          p.languageModel,
		Prompt:         prompt,
		SystemPrompt:   systemPrompt,
		ResponseSchema: schema,
	})
	if err != nil {
		categorization := &corpus.Categorization{Success: false, Error: err.Error()}
		if errors.Is(err, ports.ErrMissingCredential) {
			return categorization, err
		}
		return categorization, nil
	}

	var answer categorizeAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return &corpus.Categorization{Success: false, Error: fmt.Sprintf("model output does not match category schema: %v", err)}, nil
	}

	category, ok := catalog.ResolveCategory(answer.Category)
	if !ok {
		return &corpus.Categorization{Success: false, Error: fmt.Sprintf("model returned unknown category %q", answer.Category)}, nil
	}

	result := &corpus.Categorization{
		Success:   true,
		Category:  category,
		Reasoning: answer.Reasoning,
	}
	// An unrecognized subcategory degrades to category-only rather than
	// failing the item.
	if sub, ok := catalog.ResolveSubcategory(category, answer.Subcategory); ok {
		result.Subcategory = &sub
	}
	return result, nil
}
