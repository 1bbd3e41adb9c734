package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func TestSourceMaterializer_NamesUploadsAndFetchedSources(t *testing.T) {
	// Arrange
	fetcher := helpers.NewMockSourceFetcher()
	fetcher.SetSource("https://exams.example.com/kemia", "Kémia Vizsga 2023.PDF", []byte("kemia"))
	fetcher.SetSource("https://exams.example.com/raw", "", []byte("raw"))
	materializer := admission.NewSourceMaterializer(fetcher)

	// Act
	sources, err := materializer.Materialize(context.Background(),
		[]admission.Upload{
			{Filename: "scans/midterm.pdf", Content: []byte("midterm")},
			{Filename: "", Content: []byte("anonymous")},
		},
		[]string{"https://exams.example.com/kemia", "https://exams.example.com/raw"},
	)

	// Assert
	require.NoError(t, err)
	require.Len(t, sources, 4)

	assert.Equal(t, "midterm.pdf", sources[0].Name)
	assert.Empty(t, sources[0].URL)
	assert.Zero(t, sources[0].FetchDuration)

	assert.Equal(t, "upload.pdf", sources[1].Name)

	assert.Equal(t, "kemia_vizsga_2023.pdf", sources[2].Name)
	assert.Equal(t, []byte("kemia"), sources[2].Content)
	assert.Equal(t, "https://exams.example.com/kemia", sources[2].URL)
	assert.Equal(t, 25*time.Millisecond, sources[2].FetchDuration)

	assert.Equal(t, "download.pdf", sources[3].Name)

	assert.Equal(t, []string{
		"https://exams.example.com/kemia",
		"https://exams.example.com/raw",
	}, fetcher.Calls())
}

func TestSourceMaterializer_DeduplicatesRepeatedNames(t *testing.T) {
	// Arrange
	materializer := admission.NewSourceMaterializer(nil)

	// Act
	sources, err := materializer.Materialize(context.Background(),
		[]admission.Upload{
			{Filename: "exam.pdf", Content: []byte("first")},
			{Filename: "archive/exam.pdf", Content: []byte("second")},
			{Filename: "exam.pdf", Content: []byte("third")},
		},
		nil,
	)

	// Assert
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, "exam.pdf", sources[0].Name)
	assert.Equal(t, "exam_2.pdf", sources[1].Name)
	assert.Equal(t, "exam_3.pdf", sources[2].Name)
}

func TestSourceMaterializer_PropagatesFetchErrors(t *testing.T) {
	// Arrange
	fetcher := helpers.NewMockSourceFetcher()
	fetcher.SetError("ftp://exams.example.com/kemia",
		&ports.ErrInvalidSourceURL{URL: "ftp://exams.example.com/kemia", Reason: "scheme must be http or https"})
	materializer := admission.NewSourceMaterializer(fetcher)

	// Act
	_, err := materializer.Materialize(context.Background(), nil,
		[]string{"ftp://exams.example.com/kemia"})

	// Assert
	var invalid *ports.ErrInvalidSourceURL
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "ftp://exams.example.com/kemia", invalid.URL)
}

func TestSourceMaterializer_RejectsURLsWithoutFetcher(t *testing.T) {
	// Arrange
	materializer := admission.NewSourceMaterializer(nil)

	// Act
	_, err := materializer.Materialize(context.Background(), nil,
		[]string{"https://exams.example.com/kemia"})

	// Assert
	require.Error(t, err)
}
