// Package ai implements the generative AI client used by the parse and
// categorize stages. Calls are schema-constrained JSON generations; the
// client owns rate limiting, retries and circuit breaking so processors
// only ever see a final result or a final error.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/qbanklabs/qbank-go/internal/adapters/metrics"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultMaxAttempts = 3

	// Backoff after a 429 grows linearly with the attempt number
	rateLimitBackoffUnit = 2 * time.Second
	// Flat backoff after a 5xx, network error or unparseable response
	transientBackoff = time.Second

	breakerMaxFailures = 5
	breakerTimeout     = 30 * time.Second
)

// GeminiClient talks to the Google generative language REST API.
type GeminiClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	breaker     *CircuitBreaker
	baseURL     string
	defaultKey  string
	maxAttempts int
	clock       shared.Clock
}

// NewGeminiClient creates a client with the given base URL and default
// API key. Rate limiting applies across every tenant sharing the process.
// If clock is nil, uses RealClock.
func NewGeminiClient(baseURL, defaultKey string, requestsPerSecond, burst, maxAttempts int, timeout time.Duration, clock shared.Clock) *GeminiClient {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GeminiClient{
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		breaker:     NewCircuitBreaker(breakerMaxFailures, breakerTimeout, clock),
		baseURL:     baseURL,
		defaultKey:  defaultKey,
		maxAttempts: maxAttempts,
		clock:       clock,
	}
}

// generationRequest is the generateContent request body.
type generationRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string          `json:"response_mime_type"`
	ResponseSchema   json.RawMessage `json:"response_schema,omitempty"`
}

// generationResponse is the slice of the response we care about.
type generationResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateFromImage runs the vision model over a single image.
func (c *GeminiClient) GenerateFromImage(ctx context.Context, req ports.VisionRequest) (json.RawMessage, error) {
	key, err := c.resolveKey(req.APIKey)
	if err != nil {
		return nil, err
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}

	body := generationRequest{
		Contents: []content{{
			Parts: []part{{
				InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(req.Image),
				},
			}},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.ResponseSchema,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	return c.generate(ctx, req.Model, key, &body)
}

// GenerateFromPrompt runs the language model over a single prompt.
func (c *GeminiClient) GenerateFromPrompt(ctx context.Context, req ports.PromptRequest) (json.RawMessage, error) {
	key, err := c.resolveKey(req.APIKey)
	if err != nil {
		return nil, err
	}

	body := generationRequest{
		Contents: []content{{
			Parts: []part{{Text: req.Prompt}},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.ResponseSchema,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	return c.generate(ctx, req.Model, key, &body)
}

// resolveKey falls back to the process-wide default credential.
func (c *GeminiClient) resolveKey(key string) (string, error) {
	if key != "" {
		return key, nil
	}
	if c.defaultKey != "" {
		return c.defaultKey, nil
	}
	return "", ports.ErrMissingCredential
}

// generate runs the retry loop around one generateContent call. A 429
// backs off linearly with the attempt number; 5xx, network errors and
// responses that are not valid JSON back off a flat second. Other 4xx
// statuses fail immediately.
func (c *GeminiClient) generate(ctx context.Context, model, key string, body *generationRequest) (json.RawMessage, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, key)

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		var result json.RawMessage
		err := c.breaker.Call(func() error {
			var callErr error
			result, callErr = c.doCall(ctx, url, reqBody)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Fatal conditions end the loop immediately
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		}
		var statusErr *ports.StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests {
			return nil, err
		}

		// Last attempt - don't sleep, just report
		if attempt >= c.maxAttempts-1 {
			break
		}

		if ports.IsRateLimited(err) {
			metrics.RecordAIRetry("rate_limited")
			c.clock.Sleep(time.Duration(attempt+1) * rateLimitBackoffUnit)
		} else {
			metrics.RecordAIRetry("transient")
			c.clock.Sleep(transientBackoff)
		}
	}

	return nil, fmt.Errorf("ai call failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// doCall performs one HTTP round trip and extracts the generated JSON.
func (c *GeminiClient) doCall(ctx context.Context, url string, reqBody []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ports.StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var parsed generationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generation response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("generation response carried no candidates")
	}

	text := parsed.Candidates[0].Content.Parts[0].Text
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("model output is not valid JSON")
	}
	return json.RawMessage(text), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ ports.AIClient = (*GeminiClient)(nil)
