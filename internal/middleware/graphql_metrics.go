package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

// GraphQLMetricsMiddleware records request metrics for the GraphQL endpoint
// and tags the request logger and span with the operation being run.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// GraphiQL page loads are not operations.
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := observability.ContextWithGraphQLMetrics(r.Context(), metrics)
			defer metrics.TrackActive(ctx)()
			start := time.Now()

			operationType := "unknown"
			query, operationName := extractGraphQLRequest(r)
			if info, err := parseOperation(query, operationName); err == nil && info != nil && strings.TrimSpace(info.operationType) != "" {
				operationType = info.operationType
				ctx = annotateOperation(ctx, info)
			}
			r = r.WithContext(ctx)

			rec := &bodyRecorder{statusWriter: statusWriter{ResponseWriter: w, status: http.StatusOK}}
			next.ServeHTTP(rec, r)

			hasErrors := rec.status >= 400 || responseHasGraphQLErrors(rec.body.Bytes())
			metrics.RecordRequest(ctx, time.Since(start), hasErrors, operationType)
		})
	}
}

// annotateOperation tags the request logger and the active span with the
// parsed operation.
func annotateOperation(ctx context.Context, info *operationInfo) context.Context {
	fields := []any{
		slog.String("graphql.operation_type", info.operationType),
		slog.String("graphql.root_fields", strings.Join(info.rootFields, ",")),
	}
	if info.name != "" {
		fields = append(fields, slog.String("graphql.operation_name", info.name))
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("graphql.operation.type", info.operationType),
			attribute.String("graphql.operation.name", info.name),
			attribute.StringSlice("graphql.root_fields", info.rootFields),
		)
	}
	return logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(fields...))
}

// bodyRecorder keeps a copy of the response body so GraphQL errors sent
// with HTTP 200 are still counted.
type bodyRecorder struct {
	statusWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	_, _ = w.body.Write(b)
	return w.statusWriter.Write(b)
}

func responseHasGraphQLErrors(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}

	var payload struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return false
	}
	return len(payload.Errors) > 0
}
