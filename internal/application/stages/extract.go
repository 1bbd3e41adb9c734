package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/question"
)

// layoutUnitsPerInch is the PDF point density; rasterized pixel rows are
// layout units scaled by dpi/72.
const layoutUnitsPerInch = 72.0

// ExtractProcessor scans each PDF for question markers, rasterizes every
// page that has any, and writes one PNG crop per question.
type ExtractProcessor struct {
	toolkit    ports.PDFToolkit
	store      ports.ArtifactStore
	runs       pipeline.RunRepository
	defaultDPI int
}

// NewExtractProcessor creates the extract stage processor.
func NewExtractProcessor(toolkit ports.PDFToolkit, store ports.ArtifactStore, runs pipeline.RunRepository, defaultDPI int) *ExtractProcessor {
	if defaultDPI <= 0 {
		defaultDPI = 150
	}
	return &ExtractProcessor{
		toolkit:    toolkit,
		store:      store,
		runs:       runs,
		defaultDPI: defaultDPI,
	}
}

// Stage implements Processor.
func (p *ExtractProcessor) Stage() pipeline.Stage {
	return pipeline.StageExtract
}

// ExtractSummary is the job result recorded by the extract stage.
type ExtractSummary struct {
	PDFCount  int    `json:"pdf_count"`
	Questions int    `json:"questions"`
	OutputDir string `json:"output_dir"`
}

// manifestEntry describes one extracted question crop.
type manifestEntry struct {
	File   string `json:"file"`
	Page   int    `json:"page"`
	Points int    `json:"points"`
}

// pdfManifest is the per-PDF audit record of extracted questions.
type pdfManifest struct {
	SourcePDF string          `json:"source_pdf"`
	Questions []manifestEntry `json:"questions"`
}

// Process implements Processor. Reprocessing is idempotent: the
// run-global question counter restarts at zero, so a redelivery
// regenerates the same filenames and overwrites the same crops.
func (p *ExtractProcessor) Process(ctx context.Context, run *pipeline.Run, raw json.RawMessage) (*Result, error) {
	var payload pipeline.ExtractPayload
	if err := pipeline.UnmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.PDFPaths) == 0 {
		return nil, fmt.Errorf("extract payload carries no pdf paths")
	}
	dpi := payload.DPI
	if dpi <= 0 {
		dpi = p.defaultDPI
	}

	logger := common.RunLoggerFromContext(ctx)
	run.SetTotalItems(len(payload.PDFPaths))
	if err := p.runs.UpdateItemCounts(ctx, run.ID(), run.TotalItems(), run.ProcessedItems(), run.TotalQuestions()); err != nil {
		logger.Log("warning", fmt.Sprintf("failed to persist item counts: %v", err),
			map[string]interface{}{"stage": "extract"})
	}

	counter := 0
	var imagePaths []string
	for _, pdfPath := range payload.PDFPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, err := p.extractPDF(ctx, pdfPath, payload.OutputDir, dpi, &counter)
		if err != nil {
			return nil, fmt.Errorf("extract failed on %s: %w", filepath.Base(pdfPath), err)
		}

		for _, e := range entries {
			imagePaths = append(imagePaths, filepath.Join(payload.OutputDir, e.File))
		}
		run.AddProcessedItems(1)
		run.AddQuestions(len(entries))
		if err := p.runs.UpdateItemCounts(ctx, run.ID(), run.TotalItems(), run.ProcessedItems(), run.TotalQuestions()); err != nil {
			logger.Log("warning", fmt.Sprintf("failed to persist item counts: %v", err),
				map[string]interface{}{"stage": "extract"})
		}
		common.ReportProgress(ctx, run.ProcessedItems()*100/run.TotalItems())

		logger.Log("info", fmt.Sprintf("extracted %d questions from %s", len(entries), filepath.Base(pdfPath)),
			map[string]interface{}{"stage": "extract", "pdf": filepath.Base(pdfPath), "questions": len(entries)})
	}

	summary, err := summarize(ExtractSummary{
		PDFCount:  len(payload.PDFPaths),
		Questions: counter,
		OutputDir: payload.OutputDir,
	})
	if err != nil {
		return nil, err
	}

	next, err := pipeline.MarshalPayload(pipeline.ParsePayload{
		ImagePaths: imagePaths,
		OutputDir:  p.store.OutputDir(run.TenantID(), run.ID()),
	})
	if err != nil {
		return nil, err
	}

	return &Result{Summary: summary, NextPayload: next}, nil
}

// extractPDF processes one document: layout scan, per-page markers,
// single rasterization per page with markers, one crop per region.
func (p *ExtractProcessor) extractPDF(ctx context.Context, pdfPath, outputDir string, dpi int, counter *int) ([]manifestEntry, error) {
	layouts, err := p.toolkit.ExtractLayout(ctx, pdfPath)
	if err != nil {
		return nil, err
	}

	stem := pdfStem(pdfPath)
	scale := float64(dpi) / layoutUnitsPerInch

	var entries []manifestEntry
	for _, page := range layouts {
		markers := question.FindMarkers(page)
		if len(markers) == 0 {
			continue
		}
		regions := question.Regions(markers, page.Height)
		if len(regions) == 0 {
			continue
		}

		pagePNG, err := p.toolkit.RenderPage(ctx, pdfPath, page.Number, dpi)
		if err != nil {
			return nil, err
		}

		for _, region := range regions {
			*counter++
			name := fmt.Sprintf("%s_q%03d_%dpt.png", stem, *counter, region.Points)

			crop, err := p.toolkit.CropPNG(pagePNG,
				int(math.Floor(region.FromY*scale)),
				int(math.Ceil(region.ToY*scale)))
			if err != nil {
				return nil, fmt.Errorf("crop %s: %w", name, err)
			}

			if err := p.store.WriteFile(ctx, filepath.Join(outputDir, name), crop); err != nil {
				return nil, pipeline.Retryable(err)
			}

			entries = append(entries, manifestEntry{File: name, Page: page.Number, Points: region.Points})
		}
	}

	manifest, err := json.MarshalIndent(pdfManifest{
		SourcePDF: filepath.Base(pdfPath),
		Questions: entries,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest for %s: %w", stem, err)
	}
	if err := p.store.WriteFile(ctx, filepath.Join(outputDir, stem+"_manifest.json"), manifest); err != nil {
		return nil, pipeline.Retryable(err)
	}

	return entries, nil
}

// pdfStem strips the directory and extension off a document path.
func pdfStem(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
