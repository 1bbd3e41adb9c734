package stages

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

type stubProcessor struct {
	stage pipeline.Stage
}

func (s *stubProcessor) Stage() pipeline.Stage {
	return s.stage
}

func (s *stubProcessor) Process(ctx context.Context, run *pipeline.Run, payload json.RawMessage) (*Result, error) {
	return &Result{}, nil
}

func TestRegistry_ResolvesByStage(t *testing.T) {
	// Arrange
	extract := &stubProcessor{stage: pipeline.StageExtract}
	split := &stubProcessor{stage: pipeline.StageSplit}
	registry := NewRegistry(extract, split)

	// Act & Assert
	got, ok := registry.For(pipeline.StageExtract)
	require.True(t, ok)
	assert.Same(t, extract, got)

	_, ok = registry.For(pipeline.StageParse)
	assert.False(t, ok)

	// Stages come back in pipeline order regardless of registration order.
	assert.Equal(t, []pipeline.Stage{pipeline.StageExtract, pipeline.StageSplit}, registry.Stages())
}

func TestRegistry_PanicsOnDuplicateStage(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(
			&stubProcessor{stage: pipeline.StageParse},
			&stubProcessor{stage: pipeline.StageParse},
		)
	})
}

func TestForEachBounded_RunsEveryIndexWithinLimit(t *testing.T) {
	// Arrange
	const n = 64
	const limit = 4

	var inFlight, peak, calls int64
	var mu sync.Mutex
	seen := make(map[int]bool, n)

	// Act
	forEachBounded(context.Background(), n, limit, func(i int) {
		current := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if current <= old || atomic.CompareAndSwapInt64(&peak, old, current) {
				break
			}
		}

		mu.Lock()
		seen[i] = true
		mu.Unlock()

		atomic.AddInt64(&calls, 1)
		atomic.AddInt64(&inFlight, -1)
	})

	// Assert
	assert.EqualValues(t, n, calls)
	assert.Len(t, seen, n)
	assert.LessOrEqual(t, peak, int64(limit))
}

func TestForEachBounded_CancelledContextDispatchesNothing(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64

	// Act
	forEachBounded(ctx, 10, 3, func(i int) {
		atomic.AddInt64(&calls, 1)
	})

	// Assert
	assert.EqualValues(t, 0, calls)
}

func TestForEachBounded_ZeroLimitStillRuns(t *testing.T) {
	// Arrange
	var calls int64

	// Act
	forEachBounded(context.Background(), 5, 0, func(i int) {
		atomic.AddInt64(&calls, 1)
	})

	// Assert
	assert.EqualValues(t, 5, calls)
}
