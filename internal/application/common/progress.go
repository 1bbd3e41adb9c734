package common

import "context"

// ProgressFunc receives live stage progress percentages from a
// processor. The stage runner installs one that lands on the job row,
// so observers see movement between heartbeats.
type ProgressFunc func(percent int)

// WithProgress adds a progress callback to the context
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey, fn)
}

// ReportProgress invokes the context's progress callback, if any
func ReportProgress(ctx context.Context, percent int) {
	if fn, ok := ctx.Value(progressKey).(ProgressFunc); ok && fn != nil {
		fn(percent)
	}
}
