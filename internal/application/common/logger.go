package common

import "context"

// RunLogger records per-run log lines. Stage processors receive it
// through the context so the persistence wiring stays out of their
// signatures; entries end up in the run's pipeline_logs rows.
type RunLogger interface {
	Log(level, message string, metadata map[string]interface{})
}

// Context keys for passing run-scoped collaborators through context
type contextKey int

const (
	loggerKey contextKey = iota
	progressKey
)

// WithRunLogger adds a run logger to the context
func WithRunLogger(ctx context.Context, logger RunLogger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RunLoggerFromContext extracts the logger from context, or returns a
// no-op logger so callers never have to nil-check.
func RunLoggerFromContext(ctx context.Context) RunLogger {
	if logger, ok := ctx.Value(loggerKey).(RunLogger); ok {
		return logger
	}
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(level, message string, metadata map[string]interface{}) {
}
