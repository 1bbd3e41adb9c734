package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// VisionRequest asks the AI provider to read structured data out of an
// image. The response schema constrains the model's output to the JSON
// shape the caller expects back.
type VisionRequest struct {
	APIKey         string
	Model          string
	Image          []byte
	MimeType       string
	SystemPrompt   string
	ResponseSchema json.RawMessage
}

// PromptRequest asks the AI provider to answer a single text prompt with
// schema-constrained JSON.
type PromptRequest struct {
	APIKey         string
	Model          string
	Prompt         string
	SystemPrompt   string
	ResponseSchema json.RawMessage
}

// AIClient is the domain's interface to the generative AI provider. Both
// calls return the raw JSON produced by the model; interpreting it is the
// caller's business. Implementations retry rate limits and transient
// failures internally, so an error here is final for the request.
type AIClient interface {
	// GenerateFromImage runs the vision model over a single image.
	GenerateFromImage(ctx context.Context, req VisionRequest) (json.RawMessage, error)

	// GenerateFromPrompt runs the language model over a single prompt.
	GenerateFromPrompt(ctx context.Context, req PromptRequest) (json.RawMessage, error)
}

// StatusError carries the HTTP status of a failed AI call so callers can
// distinguish rate limiting from other failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai provider returned status %d: %s", e.Code, e.Body)
}

// IsRateLimited reports whether err is an AI 429 response.
func IsRateLimited(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests
}

// IsServerError reports whether err is an AI 5xx response.
func IsServerError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= 500
}

// ErrMissingCredential is returned when neither the tenant nor the process
// configuration carries an API key.
var ErrMissingCredential = errors.New("no AI credential configured")
