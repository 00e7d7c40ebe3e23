// Package api exposes the query canvas over GraphQL and a plain JSON compile
// endpoint. Compilation is always available; table metadata comes from the
// schema cache and previews run through dbexec when enabled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"querycanvas/internal/dbexec"
	"querycanvas/internal/introspection"
	"querycanvas/internal/logging"
	"querycanvas/internal/naming"
	"querycanvas/internal/observability"
	"querycanvas/internal/querybuilder"
	"querycanvas/internal/querygraph"
	"querycanvas/internal/sqlutil"
)

var (
	// ErrPreviewDisabled is returned by Preview when no previewer is configured.
	ErrPreviewDisabled = errors.New("query preview is disabled")
	// ErrEmptyGraph is returned by Preview when the graph compiles to no SQL.
	ErrEmptyGraph = errors.New("graph has no tables to query")
	// ErrSchemaUnavailable is returned when no schema snapshot has been loaded.
	ErrSchemaUnavailable = errors.New("schema snapshot is not available")
)

// SchemaSource supplies the current schema snapshot.
type SchemaSource interface {
	Schema() *introspection.Schema
}

// Config wires the service to its collaborators. Only Schema is required.
type Config struct {
	Schema SchemaSource
	// DB is used for DDL lookups. When nil, tableDDL reports an error.
	DB      introspection.Queryer
	Dialect sqlutil.Dialect
	// Previewer runs compiled SQL. When nil, previews are disabled.
	Previewer       *dbexec.Previewer
	DefaultPageSize int
	MaxPageSize     int
	Namer           *naming.Namer
	Metrics         *observability.CompilerMetrics
}

// Service implements the operations behind the GraphQL and JSON surfaces.
type Service struct {
	schema          SchemaSource
	db              introspection.Queryer
	dialect         sqlutil.Dialect
	previewer       *dbexec.Previewer
	defaultPageSize int
	maxPageSize     int
	namer           *naming.Namer
	metrics         *observability.CompilerMetrics
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Schema == nil {
		return nil, fmt.Errorf("api service requires a schema source")
	}
	namer := cfg.Namer
	if namer == nil {
		namer = naming.Default()
	}
	return &Service{
		schema:          cfg.Schema,
		db:              cfg.DB,
		dialect:         cfg.Dialect,
		previewer:       cfg.Previewer,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		namer:           namer,
		metrics:         cfg.Metrics,
	}, nil
}

// PreviewEnabled reports whether Preview can run queries.
func (s *Service) PreviewEnabled() bool {
	return s.previewer != nil
}

// Compile turns graph into SQL and records compiler metrics.
func (s *Service) Compile(ctx context.Context, graph querygraph.Graph) querybuilder.Result {
	ctx, span := startSpan(ctx, "api.compile",
		attribute.Int("graph.nodes", len(graph.Nodes)),
		attribute.Int("graph.edges", len(graph.Edges)),
	)
	start := time.Now()
	result := querybuilder.Build(graph)
	duration := time.Since(start)

	dropped := make(map[string]int)
	for _, d := range result.DroppedEdges {
		dropped[string(d.Reason)]++
	}
	s.metrics.RecordCompile(ctx, duration, result.JoinCount, result.HasAggregation, dropped)

	span.SetAttributes(
		attribute.Int("compile.joins", result.JoinCount),
		attribute.Int("compile.dropped_edges", len(result.DroppedEdges)),
	)
	endSpan(span, nil)

	if len(result.DroppedEdges) > 0 || len(result.DisconnectedNodes) > 0 {
		logging.FromContext(ctx).Debug("graph compiled with skipped edges",
			slog.Int("dropped_edges", len(result.DroppedEdges)),
			slog.Int("disconnected_nodes", len(result.DisconnectedNodes)),
		)
	}
	return result
}

// PreviewResult is a compiled graph and the rows it returned.
type PreviewResult struct {
	SQL    string
	Result *dbexec.QueryResult
}

// Preview compiles graph and executes the SQL. A nil pageSize uses the
// configured default; sizes above the configured maximum are clamped.
func (s *Service) Preview(ctx context.Context, graph querygraph.Graph, page, pageSize *int) (*PreviewResult, error) {
	if s.previewer == nil {
		return nil, ErrPreviewDisabled
	}

	compiled := s.Compile(ctx, graph)
	if compiled.SQL == "" {
		return nil, ErrEmptyGraph
	}

	opts := dbexec.PreviewOptions{Page: 1, PageSize: s.defaultPageSize}
	if page != nil {
		opts.Page = *page
	}
	if pageSize != nil {
		opts.PageSize = *pageSize
	}
	if s.maxPageSize > 0 && opts.PageSize > s.maxPageSize {
		opts.PageSize = s.maxPageSize
	}

	ctx, span := startSpan(ctx, "api.preview",
		attribute.Int("preview.page", opts.Page),
		attribute.Int("preview.page_size", opts.PageSize),
	)
	start := time.Now()
	result, err := s.previewer.Run(ctx, compiled.SQL, opts)
	rows := 0
	if result != nil {
		rows = len(result.Rows)
	}
	s.metrics.RecordPreview(ctx, time.Since(start), rows, opts.PageSize > 0, err)
	endSpan(span, err)
	if err != nil {
		logging.FromContext(ctx).Warn("preview failed", slog.String("error", err.Error()))
		return nil, err
	}
	return &PreviewResult{SQL: compiled.SQL, Result: result}, nil
}

// Tables returns the tables of the current snapshot.
func (s *Service) Tables() ([]introspection.Table, error) {
	schema := s.schema.Schema()
	if schema == nil {
		return nil, ErrSchemaUnavailable
	}
	return schema.Tables, nil
}

// TableDDL returns the CREATE statement of a table visible in the snapshot.
// Tables hidden by schema filters are reported as not found.
func (s *Service) TableDDL(ctx context.Context, name string) (string, error) {
	schema := s.schema.Schema()
	if schema == nil {
		return "", ErrSchemaUnavailable
	}
	table, ok := schema.Table(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", introspection.ErrTableNotFound, name)
	}
	if s.db == nil {
		return "", fmt.Errorf("table DDL requires a database connection")
	}

	ctx, span := startSpan(ctx, "api.table_ddl", attribute.String("db.table", table.Name))
	ddl, err := introspection.TableDDL(ctx, s.db, s.dialect, table.Name)
	endSpan(span, err)
	return ddl, err
}

// SuggestJoins proposes edges between nodes using the current snapshot.
func (s *Service) SuggestJoins(nodes []querygraph.TableNode, edges []querygraph.JoinEdge) ([]introspection.JoinSuggestion, error) {
	schema := s.schema.Schema()
	if schema == nil {
		return nil, ErrSchemaUnavailable
	}
	return introspection.SuggestJoins(schema, nodes, edges, s.namer), nil
}
