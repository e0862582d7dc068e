package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/coordinator"
)

func Test_RetryOnConflict_ReturnsNil_OnFirstSuccess(t *testing.T) {
	// arrange
	attempts := 0

	// act
	err := coordinator.RetryOnConflict(context.Background(), func(_ context.Context) error {
		attempts++
		return nil
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func Test_RetryOnConflict_RetriesConflicts_UntilSuccess(t *testing.T) {
	// arrange
	attempts := 0

	// act
	err := coordinator.RetryOnConflict(context.Background(),
		func(_ context.Context) error {
			attempts++
			if attempts < 3 {
				return catalogstore.ErrWriteConflict
			}
			return nil
		},
		coordinator.WithRetryDelay(time.Millisecond),
	)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func Test_RetryOnConflict_FailsFast_OnNonRetryableError(t *testing.T) {
	// arrange
	permanent := errors.New("connection refused")
	attempts := 0

	// act
	err := coordinator.RetryOnConflict(context.Background(),
		func(_ context.Context) error {
			attempts++
			return permanent
		},
		coordinator.WithRetryDelay(time.Millisecond),
	)

	// assert
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func Test_RetryOnConflict_SurfacesConflict_WhenBudgetExhausted(t *testing.T) {
	// arrange
	attempts := 0

	// act
	err := coordinator.RetryOnConflict(context.Background(),
		func(_ context.Context) error {
			attempts++
			return catalogstore.ErrWriteConflict
		},
		coordinator.WithMaxAttempts(3),
		coordinator.WithRetryDelay(time.Millisecond),
	)

	// assert
	assert.ErrorIs(t, err, catalogstore.ErrWriteConflict)
	assert.Equal(t, 3, attempts)
}

func Test_RetryOnConflict_StopsWaiting_WhenContextCanceled(t *testing.T) {
	// arrange - a delay long enough that cancellation hits during the wait
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	// act
	err := coordinator.RetryOnConflict(ctx,
		func(_ context.Context) error {
			return catalogstore.ErrWriteConflict
		},
		coordinator.WithRetryDelay(time.Minute),
	)

	// assert
	assert.ErrorIs(t, err, context.Canceled)
}

func Test_RetryOnConflict_RejectsInvalidOptions(t *testing.T) {
	noop := func(_ context.Context) error { return nil }

	assert.ErrorIs(t,
		coordinator.RetryOnConflict(context.Background(), noop, coordinator.WithMaxAttempts(0)),
		coordinator.ErrInvalidMaxAttempts)

	assert.ErrorIs(t,
		coordinator.RetryOnConflict(context.Background(), noop, coordinator.WithRetryDelay(-time.Second)),
		coordinator.ErrNegativeRetryDelay)

	assert.ErrorIs(t,
		coordinator.RetryOnConflict(context.Background(), noop, coordinator.WithJitterFactor(1.5)),
		coordinator.ErrInvalidJitterFactor)

	assert.ErrorIs(t,
		coordinator.RetryOnConflict(context.Background(), noop, coordinator.WithRetryMetrics(nil, "op")),
		coordinator.ErrNilMetricsCollector)
}

func Test_RetryOnConflict_RecordsMetrics_OnRetryAndExhaustion(t *testing.T) {
	// arrange
	collector := &spyMetricsCollector{counters: map[string]int{}}

	// act
	err := coordinator.RetryOnConflict(context.Background(),
		func(_ context.Context) error {
			return catalogstore.ErrWriteConflict
		},
		coordinator.WithMaxAttempts(3),
		coordinator.WithRetryDelay(time.Millisecond),
		coordinator.WithRetryMetrics(collector, "borrow"),
	)

	// assert
	require.ErrorIs(t, err, catalogstore.ErrWriteConflict)
	assert.Equal(t, 2, collector.counters[coordinator.RetriesMetric])
	assert.Equal(t, 1, collector.counters[coordinator.RetriesExhaustedMetric])
	assert.Equal(t, 2, collector.durations)
}

type spyMetricsCollector struct {
	counters  map[string]int
	durations int
}

func (s *spyMetricsCollector) RecordDuration(_ string, _ time.Duration, _ map[string]string) {
	s.durations++
}

func (s *spyMetricsCollector) IncrementCounter(metric string, _ map[string]string) {
	s.counters[metric]++
}

func (s *spyMetricsCollector) RecordValue(_ string, _ float64, _ map[string]string) {}
