// Package stages implements the pipeline's stage processors: extract,
// parse, categorize, similarity, split, and the batch fan-in
// coordinator. Processors are stateless; everything attempt-specific
// arrives through the arguments, and all external effects go through
// the domain ports so the runner can supervise and retry them.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// Result is what a finished stage hands back to the runner.
type Result struct {
	// Summary lands on the job's result column
	Summary json.RawMessage

	// NextPayload seeds the chained stage's queue message; nil when the
	// chaining policy completes the run instead
	NextPayload json.RawMessage
}

// Processor executes one stage attempt for a run. Fatal errors fail the
// run; errors wrapped with pipeline.Retryable are redelivered by the
// queue up to its attempt budget.
type Processor interface {
	// Stage is the pipeline stage this processor executes
	Stage() pipeline.Stage

	// Process runs the stage over the payload, mutating the run's
	// counters in memory; the runner persists them.
	Process(ctx context.Context, run *pipeline.Run, payload json.RawMessage) (*Result, error)
}

// Registry resolves the processor for a stage.
type Registry struct {
	processors map[pipeline.Stage]Processor
}

// NewRegistry builds a registry from the given processors. Registering
// two processors for one stage is a wiring bug and panics at startup.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[pipeline.Stage]Processor, len(processors))}
	for _, p := range processors {
		if _, exists := r.processors[p.Stage()]; exists {
			panic(fmt.Sprintf("duplicate processor for stage %s", p.Stage()))
		}
		r.processors[p.Stage()] = p
	}
	return r
}

// For returns the processor bound to the stage.
func (r *Registry) For(stage pipeline.Stage) (Processor, bool) {
	p, ok := r.processors[stage]
	return p, ok
}

// Stages lists the stages the registry can execute.
func (r *Registry) Stages() []pipeline.Stage {
	var stages []pipeline.Stage
	for _, s := range pipeline.AllStages {
		if _, ok := r.processors[s]; ok {
			stages = append(stages, s)
		}
	}
	return stages
}

// summarize encodes a stage summary for the job's result column.
func summarize(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage summary: %w", err)
	}
	return data, nil
}

// forEachBounded runs fn over every index in [0, n) with at most limit
// goroutines in flight, then waits for all of them. Context expiry stops
// new dispatches; items already running finish. Each fn call owns its
// own index, so callers can write result slices without locking.
func forEachBounded(ctx context.Context, n, limit int, fn func(i int)) {
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			fn(i)
		}(i)
	}
	wg.Wait()
}
