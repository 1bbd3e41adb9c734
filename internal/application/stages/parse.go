package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// cropNamePattern recovers the source document from a crop filename
// produced by the extract stage.
var cropNamePattern = regexp.MustCompile(`^(.*)_q\d+_\d+pt\.png$`)

// ParseProcessor reads every extracted crop with the AI vision model and
// aggregates the per-image records into parsed.json. A failed image
// becomes a success:false record; only a missing credential fails the
// job, because no image can succeed without one.
type ParseProcessor struct {
	ai          ports.AIClient
	store       ports.ArtifactStore
	tenants     tenant.Repository
	visionModel string
	maxInFlight int
}

// NewParseProcessor creates the parse stage processor.
func NewParseProcessor(ai ports.AIClient, store ports.ArtifactStore, tenants tenant.Repository, visionModel string, maxInFlight int) *ParseProcessor {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &ParseProcessor{
		ai:          ai,
		store:       store,
		tenants:     tenants,
		visionModel: visionModel,
		maxInFlight: maxInFlight,
	}
}

// Stage implements Processor.
func (p *ParseProcessor) Stage() pipeline.Stage {
	return pipeline.StageParse
}

// ParseSummary is the job result recorded by the parse stage.
type ParseSummary struct {
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Path       string `json:"path"`
}

// Process implements Processor.
func (p *ParseProcessor) Process(ctx context.Context, run *pipeline.Run, raw json.RawMessage) (*Result, error) {
	var payload pipeline.ParsePayload
	if err := pipeline.UnmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}

	owner, err := p.tenants.FindByID(ctx, run.TenantID())
	if err != nil {
		return nil, pipeline.Retryable(fmt.Errorf("failed to load tenant %s: %w", run.TenantID(), err))
	}
	if owner == nil {
		return nil, fmt.Errorf("tenant %s not found", run.TenantID())
	}
	credential := owner.AICredential()

	logger := common.RunLoggerFromContext(ctx)
	total := len(payload.ImagePaths)
	run.SetTotalItems(total)

	records := make([]corpus.Record, total)
	var done int64
	var fatalOnce sync.Once
	var fatalErr error

	forEachBounded(ctx, total, p.maxInFlight, func(i int) {
		imagePath := payload.ImagePaths[i]
		name := filepath.Base(imagePath)
		record := corpus.Record{
			File:          name,
			SourcePDF:     sourcePDFName(name),
			PipelineRunID: run.ID(),
		}

		record.Data, record.Error, record.ErrorType = p.parseImage(ctx, credential, imagePath)
		record.Success = record.Error == ""
		if !record.Success {
			if record.ErrorType == "credential" {
				fatalOnce.Do(func() { fatalErr = ports.ErrMissingCredential })
			}
			logger.Log("warning", fmt.Sprintf("parse failed for %s: %s", name, record.Error),
				map[string]interface{}{"stage": "parse", "file": name, "errorType": record.ErrorType})
		}
		records[i] = record

		n := atomic.AddInt64(&done, 1)
		common.ReportProgress(ctx, int(n*100/int64(total)))
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fatalErr != nil {
		return nil, fatalErr
	}

	successful := 0
	for _, r := range records {
		if r.Success {
			successful++
		}
	}
	run.AddProcessedItems(total)
	run.SetTotalQuestions(successful)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parse records: %w", err)
	}
	parsedPath := filepath.Join(payload.OutputDir, "parsed.json")
	if err := p.store.WriteFile(ctx, parsedPath, data); err != nil {
		return nil, pipeline.Retryable(err)
	}

	logger.Log("info", fmt.Sprintf("parsed %d/%d questions", successful, total),
		map[string]interface{}{"stage": "parse", "total": total, "successful": successful})

	summary, err := summarize(ParseSummary{Total: total, Successful: successful, Path: parsedPath})
	if err != nil {
		return nil, err
	}

	next, err := pipeline.MarshalPayload(pipeline.CategorizePayload{
		ParsedPath: parsedPath,
		OutputPath: filepath.Join(payload.OutputDir, "categorized.json"),
		MergedPath: filepath.Join(payload.OutputDir, "categorized_merged.json"),
	})
	if err != nil {
		return nil, err
	}

	return &Result{Summary: summary, NextPayload: next}, nil
}

// parseImage runs one crop through the vision model. It returns the
// model's JSON on success, else a message and classification for the
// failure record.
func (p *ParseProcessor) parseImage(ctx context.Context, credential, imagePath string) (json.RawMessage, string, string) {
	image, err := p.store.ReadFile(ctx, imagePath)
	if err != nil {
		return nil, err.Error(), "io"
	}

	raw, err := p.ai.GenerateFromImage(ctx, ports.VisionRequest{
		APIKey:         credential,
		Model:          p.visionModel,
		Image:          image,
		MimeType:       "image/png",
		SystemPrompt:   parseSystemPrompt,
		ResponseSchema: parseResponseSchema,
	})
	if err != nil {
		return nil, err.Error(), classifyAIError(err)
	}

	var q parsedQuestion
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Sprintf("model output does not match question schema: %v", err), "parse"
	}
	return raw, "", ""
}

// classifyAIError labels an AI failure for the item record.
func classifyAIError(err error) string {
	switch {
	case errors.Is(err, ports.ErrMissingCredential):
		return "credential"
	case ports.IsRateLimited(err):
		return "rate_limit"
	case ports.IsServerError(err):
		return "server_error"
	default:
		return "api_error"
	}
}

// sourcePDFName maps a crop filename back to the document it was cut
// from; empty when the name is not an extract-stage crop name.
func sourcePDFName(cropFile string) string {
	if m := cropNamePattern.FindStringSubmatch(cropFile); m != nil {
		return m[1] + ".pdf"
	}
	return ""
}
