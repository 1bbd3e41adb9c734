package helpers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// MockSourceFetcher serves scripted downloads keyed by URL, so
// admission tests exercise URL submissions without a network.
type MockSourceFetcher struct {
	mu      sync.Mutex
	sources map[string]*ports.FetchedSource
	errs    map[string]error
	calls   []string
}

// NewMockSourceFetcher creates an empty fetcher; unscripted URLs fail
func NewMockSourceFetcher() *MockSourceFetcher {
	return &MockSourceFetcher{
		sources: make(map[string]*ports.FetchedSource),
		errs:    make(map[string]error),
	}
}

// SetSource scripts a successful download for the URL
func (f *MockSourceFetcher) SetSource(url, suggestedName string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[url] = &ports.FetchedSource{
		SuggestedName: suggestedName,
		Content:       content,
		Duration:      25 * time.Millisecond,
	}
}

// SetError scripts a failed download for the URL
func (f *MockSourceFetcher) SetError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Fetch implements ports.SourceFetcher
func (f *MockSourceFetcher) Fetch(_ context.Context, url string) (*ports.FetchedSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if source, ok := f.sources[url]; ok {
		copied := *source
		return &copied, nil
	}
	return nil, fmt.Errorf("no scripted source for %s", url)
}

// Calls returns every fetched URL in order
func (f *MockSourceFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var _ ports.SourceFetcher = (*MockSourceFetcher)(nil)
