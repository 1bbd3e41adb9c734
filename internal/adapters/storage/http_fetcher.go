package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// maxFetchBytes caps a single downloaded document. Exam PDFs run tens of
// megabytes at most; anything past this is not a document we can process.
const maxFetchBytes = 256 << 20

// HTTPFetcher downloads submission sources over http and https.
type HTTPFetcher struct {
	client *http.Client
}

var _ ports.SourceFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads one document. The fetch duration is recorded on the
// result so submissions can report how long their sources took.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*ports.FetchedSource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ports.ErrInvalidSourceURL{URL: rawURL, Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &ports.ErrInvalidSourceURL{URL: rawURL, Reason: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return nil, &ports.ErrInvalidSourceURL{URL: rawURL, Reason: "missing host"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %q: %w", rawURL, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %q returned status %d", rawURL, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", rawURL, err)
	}
	if len(content) > maxFetchBytes {
		return nil, fmt.Errorf("source %q exceeds the %d byte download limit", rawURL, maxFetchBytes)
	}

	if err := checkPDFContent(rawURL, resp.Header.Get("Content-Type"), content); err != nil {
		return nil, err
	}

	return &ports.FetchedSource{
		SuggestedName: suggestedName(resp.Header.Get("Content-Disposition"), parsed),
		Content:       content,
		Duration:      time.Since(start),
	}, nil
}

// checkPDFContent rejects sources that are clearly not PDFs, the common
// case being an HTML error page behind an expired link. Ambiguous
// responses pass; the PDF toolkit fails them properly downstream.
func checkPDFContent(rawURL, contentType string, content []byte) error {
	head := content
	// Lenient readers accept up to 1 KiB of junk before the header
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, []byte("%PDF")) {
		return nil
	}

	mediaType := contentType
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = parsed
		}
	}
	switch mediaType {
	case "application/pdf", "application/x-pdf", "application/octet-stream", "binary/octet-stream", "":
		return nil
	default:
		return &ports.ErrUnsupportedContentType{URL: rawURL, ContentType: contentType}
	}
}

// suggestedName extracts a filename from the Content-Disposition header
// when present, falling back to the last URL path segment. Returns empty
// when neither offers a usable name; the caller substitutes its default.
func suggestedName(disposition string, parsed *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return path.Base(name)
			}
		}
	}

	base := path.Base(parsed.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return base
}
