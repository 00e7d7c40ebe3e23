package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SchemaRefreshMetrics tracks schema snapshot reloads. The gauges report
// nothing until the first successful refresh.
type SchemaRefreshMetrics struct {
	attempts    metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	lastSuccess atomic.Int64
	tableCount  atomic.Int64
}

// InitSchemaRefreshMetrics initializes schema refresh metrics.
func InitSchemaRefreshMetrics() (*SchemaRefreshMetrics, error) {
	b := newInstruments(meterName)
	m := &SchemaRefreshMetrics{
		attempts: b.counter("schema.refresh.total", "Total number of schema refresh attempts"),
		failures: b.counter("schema.refresh.errors.total", "Total number of failed schema refresh attempts"),
		duration: b.millis("schema.refresh.duration", "Duration of schema refresh attempts in milliseconds"),
	}
	lastSuccess := b.gauge("schema.refresh.last_success_unix", "Unix timestamp of the last successful schema refresh", "s")
	tables := b.gauge("schema.tables", "Number of tables in the active schema snapshot", "")
	if err := b.err(); err != nil {
		return nil, err
	}

	observe := func(_ context.Context, o metric.Observer) error {
		at := m.lastSuccess.Load()
		if at == 0 {
			return nil
		}
		o.ObserveInt64(lastSuccess, at)
		o.ObserveInt64(tables, m.tableCount.Load())
		return nil
	}
	if _, err := b.meter.RegisterCallback(observe, lastSuccess, tables); err != nil {
		return nil, fmt.Errorf("register schema gauges: %w", err)
	}
	return m, nil
}

// RecordRefresh records one refresh attempt started by trigger.
func (m *SchemaRefreshMetrics) RecordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	if m == nil {
		return
	}
	source := attribute.String("trigger", trigger)
	attrs := metric.WithAttributes(source, attribute.Bool("success", success))
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, millisSince(duration), attrs)
	if success {
		m.lastSuccess.Store(time.Now().Unix())
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(source))
}

// SetTableCount sets the value reported by the schema.tables gauge.
func (m *SchemaRefreshMetrics) SetTableCount(count int) {
	if m != nil {
		m.tableCount.Store(int64(count))
	}
}
