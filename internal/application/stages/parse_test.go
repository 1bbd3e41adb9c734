package stages_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/adapters/storage"
	"github.com/qbanklabs/qbank-go/internal/application/stages"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte("img:"+name), 0644))
	return path
}

func TestParseProcessor_ParsesEveryImage(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	owner := helpers.SeedTenant(t, repos, "acme")
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())

	run, err := pipeline.NewRun(owner.ID(), []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	outDir := store.OutputDir(owner.ID(), run.ID())
	img1 := writeImage(t, outDir, "exam_q001_5pt.png")
	img2 := writeImage(t, outDir, "exam_q002_3pt.png")

	ai := &helpers.MockAIClient{}
	processor := stages.NewParseProcessor(ai, store, repos.Tenants, "gemini-2.0-flash", 3)

	payload, err := pipeline.MarshalPayload(pipeline.ParsePayload{
		ImagePaths: []string{img1, img2},
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	// Act
	result, err := processor.Process(context.Background(), run, payload)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, ai.VisionCallCount())

	data, err := os.ReadFile(filepath.Join(outDir, "parsed.json"))
	require.NoError(t, err)
	var records []corpus.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)

	assert.Equal(t, "exam_q001_5pt.png", records[0].File)
	assert.Equal(t, "exam.pdf", records[0].SourcePDF)
	assert.Equal(t, run.ID(), records[0].PipelineRunID)
	assert.True(t, records[0].Success)
	assert.NotEmpty(t, records[0].Data)
	assert.True(t, records[1].Success)

	assert.Equal(t, 2, run.TotalItems())
	assert.Equal(t, 2, run.ProcessedItems())
	assert.Equal(t, 2, run.TotalQuestions())

	var summary stages.ParseSummary
	require.NoError(t, json.Unmarshal(result.Summary, &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Successful)

	var next pipeline.CategorizePayload
	require.NoError(t, json.Unmarshal(result.NextPayload, &next))
	assert.Equal(t, filepath.Join(outDir, "parsed.json"), next.ParsedPath)
	assert.Equal(t, filepath.Join(outDir, "categorized.json"), next.OutputPath)
	assert.Equal(t, filepath.Join(outDir, "categorized_merged.json"), next.MergedPath)
}

func TestParseProcessor_RecordsFailuresWithoutFailingJob(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	owner := helpers.SeedTenant(t, repos, "acme")
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())

	run, err := pipeline.NewRun(owner.ID(), []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	outDir := store.OutputDir(owner.ID(), run.ID())
	good := writeImage(t, outDir, "exam_q001_5pt.png")
	flaky := writeImage(t, outDir, "exam_q002_3pt.png")
	garbled := writeImage(t, outDir, "exam_q003_1pt.png")
	missing := filepath.Join(outDir, "exam_q004_2pt.png")

	ai := &helpers.MockAIClient{
		VisionFunc: func(req ports.VisionRequest) (json.RawMessage, error) {
			switch string(req.Image) {
			case "img:exam_q002_3pt.png":
				return nil, &ports.StatusError{Code: http.StatusServiceUnavailable, Body: "overloaded"}
			case "img:exam_q003_1pt.png":
				return json.RawMessage(`not json at all`), nil
			default:
				return helpers.DefaultVisionResponse, nil
			}
		},
	}
	processor := stages.NewParseProcessor(ai, store, repos.Tenants, "gemini-2.0-flash", 1)

	payload, err := pipeline.MarshalPayload(pipeline.ParsePayload{
		ImagePaths: []string{good, flaky, garbled, missing},
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "parsed.json"))
	require.NoError(t, err)
	var records []corpus.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 4)

	assert.True(t, records[0].Success)
	assert.Empty(t, records[0].ErrorType)

	assert.False(t, records[1].Success)
	assert.Equal(t, "server_error", records[1].ErrorType)

	assert.False(t, records[2].Success)
	assert.Equal(t, "parse", records[2].ErrorType)

	assert.False(t, records[3].Success)
	assert.Equal(t, "io", records[3].ErrorType)

	// Only the parse that produced a usable question counts.
	assert.Equal(t, 4, run.ProcessedItems())
	assert.Equal(t, 1, run.TotalQuestions())
}

func TestParseProcessor_MissingCredentialFailsJob(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	owner := helpers.SeedTenant(t, repos, "acme")
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())

	run, err := pipeline.NewRun(owner.ID(), []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	outDir := store.OutputDir(owner.ID(), run.ID())
	img := writeImage(t, outDir, "exam_q001_5pt.png")

	ai := &helpers.MockAIClient{
		VisionFunc: func(req ports.VisionRequest) (json.RawMessage, error) {
			return nil, ports.ErrMissingCredential
		},
	}
	processor := stages.NewParseProcessor(ai, store, repos.Tenants, "gemini-2.0-flash", 2)

	payload, err := pipeline.MarshalPayload(pipeline.ParsePayload{
		ImagePaths: []string{img},
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrMissingCredential))
	assert.False(t, pipeline.IsRetryable(err))
}

func TestParseProcessor_UnknownTenantFailsJob(t *testing.T) {
	// Arrange
	repos := helpers.NewTestRepositories(t)
	store := storage.NewFilesystemStore(t.TempDir(), t.TempDir())

	run, err := pipeline.NewRun("no-such-tenant", []string{"exam.pdf"}, nil)
	require.NoError(t, err)

	processor := stages.NewParseProcessor(&helpers.MockAIClient{}, store, repos.Tenants, "gemini-2.0-flash", 2)

	payload, err := pipeline.MarshalPayload(pipeline.ParsePayload{
		ImagePaths: []string{"/nowhere.png"},
		OutputDir:  t.TempDir(),
	})
	require.NoError(t, err)

	// Act
	_, err = processor.Process(context.Background(), run, payload)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant no-such-tenant not found")
	assert.False(t, pipeline.IsRetryable(err))
}
