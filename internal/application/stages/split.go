package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// SplitProcessor writes the grouped corpus into one file per category
// bucket and persists each item's similarity group. It is the pipeline's
// terminal stage.
type SplitProcessor struct {
	store ports.ArtifactStore
	items corpus.ItemRepository
}

// NewSplitProcessor creates the split stage processor.
func NewSplitProcessor(store ports.ArtifactStore, items corpus.ItemRepository) *SplitProcessor {
	return &SplitProcessor{store: store, items: items}
}

// Stage implements Processor.
func (p *SplitProcessor) Stage() pipeline.Stage {
	return pipeline.StageSplit
}

// SplitSummary is the job result recorded by the split stage.
type SplitSummary struct {
	Total        int    `json:"total"`
	Categories   int    `json:"categories"`
	Skipped      int    `json:"skipped"`
	OutputDir    string `json:"output_dir"`
	FilesWritten int    `json:"files_written"`
}

// categoryFile is the JSON document written per category bucket.
type categoryFile struct {
	CategoryName    string            `json:"category_name"`
	SubcategoryName *string           `json:"subcategory_name,omitempty"`
	Groups          [][]corpus.Record `json:"groups"`
}

// bucket collects the records sharing one category label.
type bucket struct {
	label       string
	category    string
	subcategory *string
	records     []corpus.Record
}

// Process implements Processor.
func (p *SplitProcessor) Process(ctx context.Context, run *pipeline.Run, raw json.RawMessage) (*Result, error) {
	var payload pipeline.SplitPayload
	if err := pipeline.UnmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}

	input, err := p.store.ReadFile(ctx, payload.InputPath)
	if err != nil {
		return nil, pipeline.Retryable(err)
	}
	var records []corpus.Record
	if err := json.Unmarshal(input, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal similarity output from %s: %w", payload.InputPath, err)
	}

	logger := common.RunLoggerFromContext(ctx)
	run.SetTotalItems(len(records))

	buckets, skipped := bucketByCategory(records)

	// Progress counts both halves of the work: one unit per bucket file
	// written, one per item whose group is persisted.
	units := len(buckets) + len(records)
	done := 0

	// Two labels may sanitize to the same filename; writing both would
	// silently lose a bucket, so the collision is fatal.
	written := make(map[string]string, len(buckets))
	filesWritten := 0
	for _, b := range buckets {
		safeName := shared.SafeFileName(b.label)
		if prior, clash := written[safeName]; clash {
			return nil, fmt.Errorf("category labels %q and %q both map to output file %s.json", prior, b.label, safeName)
		}
		written[safeName] = b.label

		doc := categoryFile{
			CategoryName:    b.category,
			SubcategoryName: b.subcategory,
			Groups:          groupBySimilarity(b.records),
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal split output for %q: %w", b.label, err)
		}
		if err := p.store.WriteFile(ctx, filepath.Join(payload.OutputDir, safeName+".json"), data); err != nil {
			return nil, pipeline.Retryable(err)
		}
		filesWritten++
		done++
		common.ReportProgress(ctx, done*100/units)
	}

	// Persist the recomputed groups so the corpus reflects what the
	// output files show.
	for _, r := range records {
		if err := p.items.UpdateSimilarityGroup(ctx, run.TenantID(), r.File, r.SimilarityGroupID); err != nil {
			return nil, pipeline.Retryable(fmt.Errorf("failed to persist similarity group for %s: %w", r.File, err))
		}
		run.AddProcessedItems(1)
		done++
		common.ReportProgress(ctx, done*100/units)
	}

	logger.Log("info", fmt.Sprintf("split %d questions into %d categories (%d uncategorized skipped)", len(records)-skipped, len(buckets), skipped),
		map[string]interface{}{"stage": "split", "total": len(records), "categories": len(buckets), "skipped": skipped})

	summary, err := summarize(SplitSummary{
		Total:        len(records),
		Categories:   len(buckets),
		Skipped:      skipped,
		OutputDir:    payload.OutputDir,
		FilesWritten: filesWritten,
	})
	if err != nil {
		return nil, err
	}

	// Terminal stage: the chaining policy completes the run.
	return &Result{Summary: summary}, nil
}

// bucketByCategory splits records by subcategory when present, else by
// category. Buckets keep first-appearance order; records that were never
// categorized are counted as skipped.
func bucketByCategory(records []corpus.Record) ([]*bucket, int) {
	var buckets []*bucket
	index := make(map[string]*bucket)
	skipped := 0

	for _, r := range records {
		label, ok := r.CategoryLabel()
		if !ok {
			skipped++
			continue
		}
		b, exists := index[label]
		if !exists {
			b = &bucket{label: label, category: r.Categorization.Category}
			if r.Categorization.Subcategory != nil && *r.Categorization.Subcategory != "" {
				sub := *r.Categorization.Subcategory
				b.subcategory = &sub
			}
			index[label] = b
			buckets = append(buckets, b)
		}
		b.records = append(b.records, r)
	}
	return buckets, skipped
}

// groupBySimilarity partitions a bucket's records by similarity group.
// Items without a group each form a singleton under a synthetic
// __null_{n} key. Groups are ordered by size descending; equal sizes
// keep first-appearance order.
func groupBySimilarity(records []corpus.Record) [][]corpus.Record {
	var order []string
	grouped := make(map[string][]corpus.Record)
	nullCount := 0

	for _, r := range records {
		key := ""
		if r.SimilarityGroupID != nil && *r.SimilarityGroupID != "" {
			key = *r.SimilarityGroupID
		} else {
			key = fmt.Sprintf("__null_%d", nullCount)
			nullCount++
		}
		if _, exists := grouped[key]; !exists {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], r)
	}

	groups := make([][]corpus.Record, 0, len(order))
	for _, key := range order {
		groups = append(groups, grouped[key])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i]) > len(groups[j])
	})
	return groups
}
