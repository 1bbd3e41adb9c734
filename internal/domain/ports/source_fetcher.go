package ports

import (
	"context"
	"fmt"
	"time"
)

// FetchedSource is a document downloaded from a submission URL.
type FetchedSource struct {
	// Filename suggested by the URL path or content disposition; may be
	// empty when the source offers none
	SuggestedName string
	Content       []byte
	Duration      time.Duration
}

// SourceFetcher downloads submission documents from URLs.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedSource, error)
}

// ErrInvalidSourceURL is returned for URLs that are malformed or use a
// scheme other than http/https.
type ErrInvalidSourceURL struct {
	URL    string
	Reason string
}

func (e *ErrInvalidSourceURL) Error() string {
	return fmt.Sprintf("invalid source URL %q: %s", e.URL, e.Reason)
}

// ErrUnsupportedContentType is returned when a source serves something
// that is not a PDF.
type ErrUnsupportedContentType struct {
	URL         string
	ContentType string
}

func (e *ErrUnsupportedContentType) Error() string {
	return fmt.Sprintf("source %q served unsupported content type %q", e.URL, e.ContentType)
}
