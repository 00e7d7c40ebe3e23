package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CompilerMetrics records graph compilation and preview activity.
// A nil *CompilerMetrics is valid and records nothing.
type CompilerMetrics struct {
	compileDuration metric.Float64Histogram
	compileCounter  metric.Int64Counter
	joinCount       metric.Int64Histogram
	droppedEdges    metric.Int64Counter
	previewDuration metric.Float64Histogram
	previewRows     metric.Int64Histogram
	previewErrors   metric.Int64Counter
}

// InitCompilerMetrics initializes compiler and preview metrics.
func InitCompilerMetrics() (*CompilerMetrics, error) {
	b := newInstruments(meterName)
	m := &CompilerMetrics{
		compileDuration: b.millis("compiler.duration", "Duration of graph compilation in milliseconds"),
		compileCounter:  b.counter("compiler.compiles.total", "Total number of compiled graphs"),
		joinCount:       b.sizes("compiler.joins", "Number of JOIN clauses emitted per compiled graph"),
		droppedEdges:    b.counter("compiler.dropped_edges.total", "Total number of edges left out of compiled SQL"),
		previewDuration: b.millis("preview.duration", "Duration of preview executions in milliseconds"),
		previewRows:     b.sizes("preview.rows", "Number of rows returned by previews"),
		previewErrors:   b.counter("preview.errors.total", "Total number of failed previews"),
	}
	if err := b.err(); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCompile records one compilation. droppedByReason counts edges left
// out of the FROM clause keyed by drop reason.
func (m *CompilerMetrics) RecordCompile(ctx context.Context, duration time.Duration, joins int, hasAggregation bool, droppedByReason map[string]int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("aggregated", hasAggregation))
	m.compileDuration.Record(ctx, millisSince(duration), attrs)
	m.compileCounter.Add(ctx, 1, attrs)
	m.joinCount.Record(ctx, int64(joins))
	for reason, count := range droppedByReason {
		if count > 0 {
			m.droppedEdges.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
		}
	}
}

// RecordPreview records one preview execution.
func (m *CompilerMetrics) RecordPreview(ctx context.Context, duration time.Duration, rows int, paginated bool, err error) {
	if m == nil {
		return
	}
	mode := attribute.Bool("paginated", paginated)
	attrs := metric.WithAttributes(mode, attribute.Bool("success", err == nil))
	m.previewDuration.Record(ctx, millisSince(duration), attrs)
	if err != nil {
		m.previewErrors.Add(ctx, 1, metric.WithAttributes(mode))
		return
	}
	m.previewRows.Record(ctx, int64(rows), attrs)
}
