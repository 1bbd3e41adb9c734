package helpers

import (
	"context"
	"os"
	"sync"

	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// GroupCall records one similarity engine invocation.
type GroupCall struct {
	InputPath  string
	OutputPath string
	Options    ports.GroupingOptions
}

// MockSimilarityEngine is a ports.SimilarityEngine double. By default it
// copies the input array to the output path unchanged, which leaves every
// similarity_group_id as the input had it. Tests that need grouping
// inject GroupFunc.
type MockSimilarityEngine struct {
	mu        sync.Mutex
	GroupFunc func(ctx context.Context, inputPath, outputPath string, opts ports.GroupingOptions) error
	calls     []GroupCall
}

func NewMockSimilarityEngine() *MockSimilarityEngine {
	return &MockSimilarityEngine{}
}

func (m *MockSimilarityEngine) Group(ctx context.Context, inputPath, outputPath string, opts ports.GroupingOptions) error {
	m.mu.Lock()
	m.calls = append(m.calls, GroupCall{InputPath: inputPath, OutputPath: outputPath, Options: opts})
	fn := m.GroupFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fn != nil {
		return fn(ctx, inputPath, outputPath, opts)
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

// Calls returns a copy of the recorded invocations.
func (m *MockSimilarityEngine) Calls() []GroupCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GroupCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ ports.SimilarityEngine = (*MockSimilarityEngine)(nil)
