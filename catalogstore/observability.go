package catalogstore

import (
	"context"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
// log/slog's *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace
// correlation. It follows the same dependency-free pattern as
// MetricsCollector, allowing integration with any logging backend that
// supports context-based correlation.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting store and coordinator
// performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware
// methods for better tracing integration. The interface is optional:
// consumers use the context-aware methods when available and fall back to
// the base MetricsCollector otherwise.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}
