package admission

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// Upload is one submitted document body, buffered in memory until
// admission decides whether the submission is accepted.
type Upload struct {
	Filename string
	Content  []byte
}

// Source is one admitted input document, named and ready to be placed
// into a run's upload directory.
type Source struct {
	Name    string
	Content []byte

	// URL is the origin of fetched sources, empty for direct uploads
	URL string

	// FetchDuration records how long the download took, zero for uploads
	FetchDuration time.Duration
}

// SourceMaterializer turns a submission's uploads and URLs into named
// document bodies. URL sources are fetched sequentially; their
// filenames are sanitized the same way split output names are, with
// download.pdf as the fallback. Names are unique within one submission.
type SourceMaterializer struct {
	fetcher ports.SourceFetcher
}

// NewSourceMaterializer creates a materializer over the given fetcher
func NewSourceMaterializer(fetcher ports.SourceFetcher) *SourceMaterializer {
	return &SourceMaterializer{fetcher: fetcher}
}

// Materialize resolves every upload and URL into a Source. A failed
// fetch rejects the whole submission; nothing has touched disk yet.
func (m *SourceMaterializer) Materialize(ctx context.Context, uploads []Upload, urls []string) ([]Source, error) {
	sources := make([]Source, 0, len(uploads)+len(urls))
	taken := make(map[string]bool)

	for _, upload := range uploads {
		name := filepath.Base(upload.Filename)
		if name == "." || name == "/" || name == "" {
			name = "upload.pdf"
		}
		sources = append(sources, Source{
			Name:    uniqueName(taken, name),
			Content: upload.Content,
		})
	}

	for _, rawURL := range urls {
		if m.fetcher == nil {
			return nil, fmt.Errorf("submission carries URLs but no source fetcher is configured")
		}
		fetched, err := m.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{
			Name:          uniqueName(taken, safeSourceName(fetched.SuggestedName)),
			Content:       fetched.Content,
			URL:           rawURL,
			FetchDuration: fetched.Duration,
		})
	}

	return sources, nil
}

// safeSourceName sanitizes a suggested download name into a safe pdf
// filename. An empty or fully-stripped suggestion becomes download.pdf.
func safeSourceName(suggested string) string {
	stem := strings.TrimSuffix(suggested, filepath.Ext(suggested))
	safe := shared.SafeFileName(stem)
	if safe == "" {
		return "download.pdf"
	}
	return safe + ".pdf"
}

// uniqueName reserves name within the submission, appending _2, _3, …
// to the stem when the same filename appears more than once.
func uniqueName(taken map[string]bool, name string) string {
	if !taken[name] {
		taken[name] = true
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}
