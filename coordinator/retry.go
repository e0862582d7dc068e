package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 500 * time.Millisecond
	defaultJitterFactor = 0.0
)

// Metric names recorded by the retry policy when a collector is configured.
const (
	RetriesMetric          = "catalog_operation_retries_total"
	RetryDelayMetric       = "catalog_operation_retry_delay_seconds"
	RetriesExhaustedMetric = "catalog_operation_retries_exhausted_total"
	labelOperation         = "operation"
	labelAttemptNumber     = "attempt_number"
	labelErrorType         = "error_type"
	labelFinalErrorType    = "final_error_type"
	errorTypeNone          = "none"
	errorTypeWriteConflict = "write_conflict"
	errorTypeCtxCanceled   = "context_canceled"
	errorTypeCtxDeadline   = "context_deadline_exceeded"
	errorTypeOther         = "other"
)

var (
	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithRetryMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")

	// ErrEmptyOperationName is returned when an empty operation name is provided to WithRetryMetrics.
	ErrEmptyOperationName = errors.New("operation name must not be empty")

	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeRetryDelay is returned when the retry delay is negative.
	ErrNegativeRetryDelay = errors.New("retry delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc represents one attempt of a catalog operation. Each attempt
// must start from a clean read: no in-memory state from a conflicted attempt
// may survive into the next one.
type RetryableFunc func(ctx context.Context) error

type retryConfig struct {
	maxAttempts      int
	delay            time.Duration
	jitterFactor     float64
	exponential      bool
	metricsCollector catalogstore.MetricsCollector
	operation        string
}

// RetryOnConflict executes fn, retrying it on write conflicts up to the
// configured attempt budget with a fixed delay between attempts.
//
// Retry schedule (default): immediate, +500 ms, +500 ms - then the final
// ErrWriteConflict is surfaced to the caller, who must retry manually.
// Only catalogstore.ErrWriteConflict is retried; all other errors fail fast.
//
// Because fn is replayed wholesale, anything interactive (such as a queue
// enrollment confirmation) must be captured once before the first attempt
// and passed into fn as a value, never re-solicited.
func RetryOnConflict(ctx context.Context, fn RetryableFunc, options ...RetryOption) error {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		delay:        defaultRetryDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}

	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.delay
			if config.exponential {
				delay = config.delay * time.Duration(1<<(attempt-1))
			}

			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec //math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)

			recordRetryDelayMetric(ctx, config, attempt, backoffDelay)

			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			return lastErr
		}

		recordRetryAttemptMetric(ctx, attempt, config, lastErr)
	}

	recordRetriesExhaustedMetric(ctx, config, lastErr)

	return lastErr
}

// isRetryableError reports whether an error should be retried. Only write
// conflicts are; timeouts and store failures fail fast so they stay visible.
func isRetryableError(err error) bool {
	return errors.Is(err, catalogstore.ErrWriteConflict)
}

func getErrorType(err error) string {
	switch {
	case err == nil:
		return errorTypeNone
	case errors.Is(err, catalogstore.ErrWriteConflict):
		return errorTypeWriteConflict
	case errors.Is(err, context.Canceled):
		return errorTypeCtxCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return errorTypeCtxDeadline
	default:
		return errorTypeOther
	}
}

func recordRetryDelayMetric(ctx context.Context, config *retryConfig, attempt int, backoffDelay time.Duration) {
	if config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation:     config.operation,
		labelAttemptNumber: fmt.Sprintf("%d", attempt),
	}

	if contextual, ok := config.metricsCollector.(catalogstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, RetryDelayMetric, backoffDelay, labels)
	} else {
		config.metricsCollector.RecordDuration(RetryDelayMetric, backoffDelay, labels)
	}
}

func recordRetryAttemptMetric(ctx context.Context, attempt int, config *retryConfig, lastErr error) {
	if attempt >= config.maxAttempts-1 || config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation:     config.operation,
		labelAttemptNumber: fmt.Sprintf("%d", attempt+1),
		labelErrorType:     getErrorType(lastErr),
	}

	if contextual, ok := config.metricsCollector.(catalogstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesMetric, labels)
	} else {
		config.metricsCollector.IncrementCounter(RetriesMetric, labels)
	}
}

func recordRetriesExhaustedMetric(ctx context.Context, config *retryConfig, lastErr error) {
	if config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation:      config.operation,
		labelFinalErrorType: getErrorType(lastErr),
	}

	if contextual, ok := config.metricsCollector.(catalogstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesExhaustedMetric, labels)
	} else {
		config.metricsCollector.IncrementCounter(RetriesExhaustedMetric, labels)
	}
}

// RetryOption configures retry behavior using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithRetryDelay sets the delay between attempts.
func WithRetryDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeRetryDelay
		}

		config.delay = delay

		return nil
	}
}

// WithExponentialBackoff doubles the delay after each failed attempt instead
// of keeping it fixed.
func WithExponentialBackoff() RetryOption {
	return func(config *retryConfig) error {
		config.exponential = true
		return nil
	}
}

// WithJitterFactor adds random jitter to each delay to prevent thundering
// herd effects. Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithRetryMetrics sets the metrics collector for retry instrumentation.
// Requires an operation name to label the metrics.
func WithRetryMetrics(collector catalogstore.MetricsCollector, operation string) RetryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if operation == "" {
			return ErrEmptyOperationName
		}

		config.metricsCollector = collector
		config.operation = operation

		return nil
	}
}
