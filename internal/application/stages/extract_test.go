package stages_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/adapters/storage"
	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/application/stages"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/question"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

// lineWords lays out the words of one text line at the given y.
func lineWords(y float64, text string) []question.Word {
	var words []question.Word
	x := 50.0
	for _, w := range strings.Fields(text) {
		width := float64(len(w)) * 5
		words = append(words, question.Word{Text: w, XMin: x, YMin: y, XMax: x + width, YMax: y + 10})
		x += width + 5
	}
	return words
}

func newTestRun(t *testing.T, tenantID string) *pipeline.Run {
	t.Helper()
	run, err := pipeline.NewRun(tenantID, []string{"exam.pdf"}, nil)
	require.NoError(t, err)
	return run
}

func TestExtractProcessor_WritesCropsAndManifest(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())
	toolkit := helpers.NewMockPDFToolkit()

	page := question.PageLayout{Number: 1, Width: 595, Height: 842}
	page.Words = append(page.Words, lineWords(100, "1. feladat 5 pont")...)
	page.Words = append(page.Words, lineWords(400, "2. feladat 3 pont")...)
	toolkit.SetLayouts("exam.pdf", []question.PageLayout{page})

	processor := stages.NewExtractProcessor(toolkit, store, repos.Runs, 150)
	run := newTestRun(t, "tenant-1")
	outDir := t.TempDir()

	payload, err := pipeline.MarshalPayload(pipeline.ExtractPayload{
		PDFPaths:  []string{"/uploads/exam.pdf"},
		OutputDir: outDir,
		DPI:       72,
	})
	require.NoError(t, err)

	// Act
	result, err := processor.Process(context.Background(), run, payload)

	// Assert
	require.NoError(t, err)

	// At 72 DPI layout units map to pixels one to one: the first crop
	// starts padding above its marker and ends at the next marker.
	crop1, err := os.ReadFile(filepath.Join(outDir, "exam_q001_5pt.png"))
	require.NoError(t, err)
	assert.Equal(t, "png:exam.pdf:p1@72:crop[90,400)", string(crop1))

	crop2, err := os.ReadFile(filepath.Join(outDir, "exam_q002_3pt.png"))
	require.NoError(t, err)
	assert.Equal(t, "png:exam.pdf:p1@72:crop[390,842)", string(crop2))

	manifestData, err := os.ReadFile(filepath.Join(outDir, "exam_manifest.json"))
	require.NoError(t, err)
	var manifest struct {
		SourcePDF string `json:"source_pdf"`
		Questions []struct {
			File   string `json:"file"`
			Page   int    `json:"page"`
			Points int    `json:"points"`
		} `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(manifestData, &manifest))
	assert.Equal(t, "exam.pdf", manifest.SourcePDF)
	require.Len(t, manifest.Questions, 2)
	assert.Equal(t, "exam_q001_5pt.png", manifest.Questions[0].File)
	assert.Equal(t, 5, manifest.Questions[0].Points)
	assert.Equal(t, "exam_q002_3pt.png", manifest.Questions[1].File)
	assert.Equal(t, 3, manifest.Questions[1].Points)

	assert.Equal(t, 1, run.TotalItems())
	assert.Equal(t, 1, run.ProcessedItems())
	assert.Equal(t, 2, run.TotalQuestions())

	var summary stages.ExtractSummary
	require.NoError(t, json.Unmarshal(result.Summary, &summary))
	assert.Equal(t, 1, summary.PDFCount)
	assert.Equal(t, 2, summary.Questions)

	var next pipeline.ParsePayload
	require.NoError(t, json.Unmarshal(result.NextPayload, &next))
	require.Len(t, next.ImagePaths, 2)
	assert.Equal(t, filepath.Join(outDir, "exam_q001_5pt.png"), next.ImagePaths[0])
	assert.Equal(t, store.OutputDir(run.TenantID(), run.ID()), next.OutputDir)
}

func TestExtractProcessor_QuestionCounterSpansDocuments(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())
	toolkit := helpers.NewMockPDFToolkit()

	pageA := question.PageLayout{Number: 1, Width: 595, Height: 842, Words: lineWords(100, "1. feladat 5 pont")}
	pageB := question.PageLayout{Number: 1, Width: 595, Height: 842, Words: lineWords(120, "1. feladat 2 pont")}
	toolkit.SetLayouts("mid_a.pdf", []question.PageLayout{pageA})
	toolkit.SetLayouts("mid_b.pdf", []question.PageLayout{pageB})

	processor := stages.NewExtractProcessor(toolkit, store, repos.Runs, 150)
	run := newTestRun(t, "tenant-1")
	outDir := t.TempDir()

	payload, err := pipeline.MarshalPayload(pipeline.ExtractPayload{
		PDFPaths:  []string{"/uploads/mid_a.pdf", "/uploads/mid_b.pdf"},
		OutputDir: outDir,
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "mid_a_q001_5pt.png"))
	assert.FileExists(t, filepath.Join(outDir, "mid_b_q002_2pt.png"))
	assert.Equal(t, 2, run.TotalItems())
	assert.Equal(t, 2, run.ProcessedItems())
	assert.Equal(t, 2, run.TotalQuestions())
}

func TestExtractProcessor_SkipsPagesWithoutMarkers(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())
	toolkit := helpers.NewMockPDFToolkit()

	intro := question.PageLayout{Number: 1, Width: 595, Height: 842, Words: lineWords(100, "Utmutato a feladatokhoz")}
	questions := question.PageLayout{Number: 2, Width: 595, Height: 842, Words: lineWords(100, "1. feladat 4 pont")}
	toolkit.SetLayouts("exam.pdf", []question.PageLayout{intro, questions})

	processor := stages.NewExtractProcessor(toolkit, store, repos.Runs, 150)
	run := newTestRun(t, "tenant-1")

	payload, err := pipeline.MarshalPayload(pipeline.ExtractPayload{
		PDFPaths:  []string{"/uploads/exam.pdf"},
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.NoError(t, err)
	calls := toolkit.RenderCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 2, calls[0].Page)
}

func TestExtractProcessor_LayoutFailureFailsRun(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())
	toolkit := helpers.NewMockPDFToolkit()
	toolkit.LayoutErr = assert.AnError

	processor := stages.NewExtractProcessor(toolkit, store, repos.Runs, 150)
	run := newTestRun(t, "tenant-1")

	payload, err := pipeline.MarshalPayload(pipeline.ExtractPayload{
		PDFPaths:  []string{"/uploads/exam.pdf"},
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract failed on exam.pdf")
	assert.False(t, pipeline.IsRetryable(err))
}

func TestExtractProcessor_RejectsEmptyPayload(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	processor := stages.NewExtractProcessor(helpers.NewMockPDFToolkit(), storage.NewFilesystemStore(t.TempDir(), t.TempDir()), repos.Runs, 150)
	run := newTestRun(t, "tenant-1")

	payload, err := pipeline.MarshalPayload(pipeline.ExtractPayload{OutputDir: t.TempDir()})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pdf paths")
}

func TestExtractProcessor_ProgressVisibleBetweenDocuments(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	owner := helpers.SeedTenant(t, repos, "acme")
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())
	toolkit := helpers.NewMockPDFToolkit()

	pageA := question.PageLayout{Number: 1, Width: 595, Height: 842, Words: lineWords(100, "1. feladat 5 pont")}
	pageB := question.PageLayout{Number: 1, Width: 595, Height: 842, Words: lineWords(120, "1. feladat 2 pont")}
	toolkit.SetLayouts("mid_a.pdf", []question.PageLayout{pageA})
	toolkit.SetLayouts("mid_b.pdf", []question.PageLayout{pageB})

	processor := stages.NewExtractProcessor(toolkit, store, repos.Runs, 150)
	run := helpers.SeedRunningRun(t, repos, owner.ID(), []string{"mid_a.pdf", "mid_b.pdf"})

	// The callback fires once per document; when the first one lands,
	// the persisted counters must already show it.
	var reported []int
	ctx := common.WithProgress(context.Background(), func(percent int) {
		reported = append(reported, percent)
		if percent == 50 {
			stored, err := repos.Runs.FindByID(context.Background(), run.ID())
			require.NoError(t, err)
			assert.Equal(t, 2, stored.TotalItems())
			assert.Equal(t, 1, stored.ProcessedItems())
			assert.Equal(t, 1, stored.TotalQuestions())
		}
	})

	payload, err := pipeline.MarshalPayload(pipeline.ExtractPayload{
		PDFPaths:  []string{"/uploads/mid_a.pdf", "/uploads/mid_b.pdf"},
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(ctx, run, payload)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100}, reported)

	stored, err := repos.Runs.FindByID(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ProcessedItems())
	assert.Equal(t, 2, stored.TotalQuestions())
}
