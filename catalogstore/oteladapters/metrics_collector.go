package oteladapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
)

// MetricsCollector implements catalogstore.MetricsCollector using the
// OpenTelemetry metrics API. The interface maps onto instruments as:
//   - RecordDuration -> Histogram
//   - IncrementCounter -> Counter
//   - RecordValue -> Gauge
type MetricsCollector struct {
	meter      metric.Meter
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
}

// NewMetricsCollector creates an OpenTelemetry metrics collector. Instruments
// are created on-demand from the provided meter as metrics are recorded.
func NewMetricsCollector(meter metric.Meter) *MetricsCollector {
	return &MetricsCollector{
		meter:      meter,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// RecordDuration records a duration measurement in seconds.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.RecordDurationContext(context.TODO(), metricName, duration, labels)
}

// RecordDurationContext records a duration measurement with context for
// trace correlation.
func (m *MetricsCollector) RecordDurationContext(ctx context.Context, metricName string, duration time.Duration, labels map[string]string) {
	histogram := m.getOrCreateHistogram(metricName)
	if histogram == nil {
		return
	}

	histogram.Record(ctx, duration.Seconds(), metric.WithAttributes(toAttributes(labels)...))
}

// IncrementCounter increments a monotonic counter.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.IncrementCounterContext(context.TODO(), metricName, labels)
}

// IncrementCounterContext increments a counter with context for trace
// correlation.
func (m *MetricsCollector) IncrementCounterContext(ctx context.Context, metricName string, labels map[string]string) {
	counter := m.getOrCreateCounter(metricName)
	if counter == nil {
		return
	}

	counter.Add(ctx, 1, metric.WithAttributes(toAttributes(labels)...))
}

// RecordValue records a current value, such as a queue length or the number
// of in-flight operations.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.RecordValueContext(context.TODO(), metricName, value, labels)
}

// RecordValueContext records a gauge value with context for trace correlation.
func (m *MetricsCollector) RecordValueContext(ctx context.Context, metricName string, value float64, labels map[string]string) {
	gauge := m.getOrCreateGauge(metricName)
	if gauge == nil {
		return
	}

	gauge.Record(ctx, value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}

func (m *MetricsCollector) getOrCreateHistogram(name string) metric.Float64Histogram {
	if histogram, exists := m.histograms[name]; exists {
		return histogram
	}

	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription("catalog operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil
	}

	m.histograms[name] = histogram
	return histogram
}

func (m *MetricsCollector) getOrCreateCounter(name string) metric.Int64Counter {
	if counter, exists := m.counters[name]; exists {
		return counter
	}

	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription("catalog operation counter"),
	)
	if err != nil {
		return nil
	}

	m.counters[name] = counter
	return counter
}

func (m *MetricsCollector) getOrCreateGauge(name string) metric.Float64Gauge {
	if gauge, exists := m.gauges[name]; exists {
		return gauge
	}

	gauge, err := m.meter.Float64Gauge(
		name,
		metric.WithDescription("catalog current value"),
	)
	if err != nil {
		return nil
	}

	m.gauges[name] = gauge
	return gauge
}

var _ catalogstore.MetricsCollector = (*MetricsCollector)(nil)
var _ catalogstore.ContextualMetricsCollector = (*MetricsCollector)(nil)
