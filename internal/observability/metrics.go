package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "querycanvas"

// instruments creates metric instruments on one meter and keeps the first
// failure, so constructors can declare every instrument before checking.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func newInstruments(scope string) *instruments {
	return &instruments{meter: otel.Meter(scope)}
}

func (b *instruments) note(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("create %s: %w", name, err))
	}
}

func (b *instruments) counter(name, description string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(description))
	b.note(name, err)
	return c
}

func (b *instruments) upDown(name, description string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(description))
	b.note(name, err)
	return c
}

func (b *instruments) millis(name, description string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("ms"))
	b.note(name, err)
	return h
}

func (b *instruments) sizes(name, description string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(description))
	b.note(name, err)
	return h
}

func (b *instruments) gauge(name, description, unit string) metric.Int64ObservableGauge {
	opts := []metric.Int64ObservableGaugeOption{metric.WithDescription(description)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	g, err := b.meter.Int64ObservableGauge(name, opts...)
	b.note(name, err)
	return g
}

func (b *instruments) err() error {
	return errors.Join(b.errs...)
}

func millisSince(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// GraphQLMetrics holds request-level metrics for the GraphQL endpoint.
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// InitGraphQLMetrics initializes GraphQL endpoint metrics.
func InitGraphQLMetrics() (*GraphQLMetrics, error) {
	b := newInstruments(meterName)
	m := &GraphQLMetrics{
		requestDuration: b.millis("graphql.request.duration", "Duration of GraphQL requests in milliseconds"),
		requestCounter:  b.counter("graphql.requests.total", "Total number of GraphQL requests"),
		errorCounter:    b.counter("graphql.errors.total", "Total number of GraphQL requests that returned errors"),
		activeRequests:  b.upDown("graphql.requests.active", "Number of in-flight GraphQL requests"),
	}
	if err := b.err(); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest records one finished request.
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	if m == nil {
		return
	}
	op := attribute.String("operation_type", operationType)
	attrs := metric.WithAttributes(op, attribute.Bool("has_errors", hasErrors))
	m.requestDuration.Record(ctx, millisSince(duration), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(op))
	}
}

// TrackActive counts a request as in flight until the returned func runs.
func (m *GraphQLMetrics) TrackActive(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}
	m.activeRequests.Add(ctx, 1)
	return func() { m.activeRequests.Add(ctx, -1) }
}

// InitMetrics initializes the request and compiler metrics.
func InitMetrics(logger *slog.Logger) (*GraphQLMetrics, *CompilerMetrics, error) {
	requests, err := InitGraphQLMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", err)
	}
	compiler, err := InitCompilerMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize compiler metrics: %w", err)
	}
	logger.Info("custom metrics initialized")
	return requests, compiler, nil
}

type graphQLMetricsKey struct{}

// ContextWithGraphQLMetrics stores request metrics in ctx.
func ContextWithGraphQLMetrics(ctx context.Context, metrics *GraphQLMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, graphQLMetricsKey{}, metrics)
}

// GraphQLMetricsFromContext returns the request metrics stored in ctx, if any.
func GraphQLMetricsFromContext(ctx context.Context) *GraphQLMetrics {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(graphQLMetricsKey{}).(*GraphQLMetrics)
	return m
}
