package helpers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// MockAIClient is a test double for ports.AIClient. Responses come from
// the injected funcs; every request is recorded for assertions. When no
// func is set, calls succeed with the canned defaults.
type MockAIClient struct {
	mu sync.Mutex

	VisionFunc func(req ports.VisionRequest) (json.RawMessage, error)
	PromptFunc func(req ports.PromptRequest) (json.RawMessage, error)

	VisionCalls []ports.VisionRequest
	PromptCalls []ports.PromptRequest
}

// DefaultVisionResponse is what the mock returns for image calls when no
// VisionFunc is installed.
var DefaultVisionResponse = json.RawMessage(`{
	"question_number": "1.",
	"points": 2,
	"question_text": "Name the bones of the forearm.",
	"question_type": "open",
	"correct_answer": "Radius and ulna",
	"options": []
}`)

// DefaultPromptResponse is what the mock returns for prompt calls when no
// PromptFunc is installed.
var DefaultPromptResponse = json.RawMessage(`{"category": "Anatomy", "reasoning": "Bone anatomy question"}`)

// GenerateFromImage implements ports.AIClient.
func (m *MockAIClient) GenerateFromImage(ctx context.Context, req ports.VisionRequest) (json.RawMessage, error) {
	m.mu.Lock()
	m.VisionCalls = append(m.VisionCalls, req)
	fn := m.VisionFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	return DefaultVisionResponse, nil
}

// GenerateFromPrompt implements ports.AIClient.
func (m *MockAIClient) GenerateFromPrompt(ctx context.Context, req ports.PromptRequest) (json.RawMessage, error) {
	m.mu.Lock()
	m.PromptCalls = append(m.PromptCalls, req)
	fn := m.PromptFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	return DefaultPromptResponse, nil
}

// VisionCallCount returns how many image requests the mock has seen.
func (m *MockAIClient) VisionCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.VisionCalls)
}

// PromptCallCount returns how many prompt requests the mock has seen.
func (m *MockAIClient) PromptCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PromptCalls)
}

var _ ports.AIClient = (*MockAIClient)(nil)
