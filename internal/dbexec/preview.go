package dbexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"

	"querycanvas/internal/logging"
)

// DefaultMaxRows caps unpaginated previews when no limit is configured.
const DefaultMaxRows = 1000

// ErrEmptyQuery is returned when the submitted text has no statement in it.
var ErrEmptyQuery = errors.New("query is empty")

// PreviewOptions selects a page of results. A PageSize of zero disables
// pagination and streams rows up to the previewer's row cap.
type PreviewOptions struct {
	Page     int
	PageSize int
}

// Pagination describes the page that was returned.
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	TotalRows int64 `json:"totalRows"`
}

// QueryResult is the tabular outcome of a preview.
type QueryResult struct {
	Columns    []string    `json:"columns"`
	Rows       [][]any     `json:"rows"`
	Truncated  bool        `json:"truncated"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Previewer executes user-authored SQL and returns a bounded result set.
type Previewer struct {
	exec    QueryExecutor
	maxRows int
}

// NewPreviewer creates a previewer over exec. maxRows <= 0 uses DefaultMaxRows.
func NewPreviewer(exec QueryExecutor, maxRows int) *Previewer {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Previewer{exec: exec, maxRows: maxRows}
}

// Run executes query. SELECT statements with a page size are wrapped twice:
// once to count the full result and once to fetch the requested page. A
// failed count is logged and reported as zero total rows. Anything else is
// executed as written and cut off at the row cap.
func (p *Previewer) Run(ctx context.Context, query string, opts PreviewOptions) (*QueryResult, error) {
	query = normalizeStatement(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if !isSelect(query) || opts.PageSize <= 0 {
		return p.stream(ctx, query, p.maxRows)
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	total := p.count(ctx, query)

	dataSQL, err := pageQuery(query, page, opts.PageSize)
	if err != nil {
		return nil, err
	}
	result, err := p.stream(ctx, dataSQL, 0)
	if err != nil {
		return nil, err
	}
	result.Truncated = total > int64(opts.PageSize)
	result.Pagination = &Pagination{
		Page:      page,
		PageSize:  opts.PageSize,
		TotalRows: total,
	}
	return result, nil
}

func (p *Previewer) count(ctx context.Context, query string) int64 {
	countSQL, _, err := sq.Select("COUNT(*)").
		From("(" + query + ") AS count_wrapper").
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return 0
	}

	logger := logging.FromContext(ctx)
	rows, err := p.exec.QueryContext(ctx, countSQL)
	if err != nil {
		logger.Warn("preview count failed", slog.String("error", err.Error()))
		return 0
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			logger.Warn("preview count scan failed", slog.String("error", err.Error()))
			return 0
		}
	}
	if err := rows.Err(); err != nil {
		logger.Warn("preview count failed", slog.String("error", err.Error()))
		return 0
	}
	return total
}

// stream reads every row of query, stopping after limit rows when limit > 0.
func (p *Previewer) stream(ctx context.Context, query string, limit int) (*QueryResult, error) {
	rows, err := p.exec.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func pageQuery(query string, page, pageSize int) (string, error) {
	inner, orderBy := splitOrderBy(query)
	builder := sq.Select("*").
		From("(" + inner + ") AS data_wrapper").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		PlaceholderFormat(sq.Question)
	if orderBy != "" {
		builder = builder.OrderBy(orderBy)
	}
	dataSQL, _, err := builder.ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build page query: %w", err)
	}
	return dataSQL, nil
}

func normalizeStatement(query string) string {
	query = strings.TrimSpace(query)
	for strings.HasSuffix(query, ";") {
		query = strings.TrimSpace(strings.TrimSuffix(query, ";"))
	}
	return query
}

func isSelect(query string) bool {
	return strings.HasPrefix(strings.ToUpper(query), "SELECT")
}

var (
	orderByPattern   = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	limitPattern     = regexp.MustCompile(`(?i)\b(LIMIT|OFFSET|FETCH)\b`)
	qualifierPattern = regexp.MustCompile("(?:`[^`]+`|\"[^\"]+\"|[A-Za-z_][A-Za-z0-9_$]*)\\.")
)

// splitOrderBy moves a trailing top-level ORDER BY out of query so it can be
// applied to the wrapping select. Table qualifiers are dropped from the
// hoisted terms because the wrapper only exposes bare column names. When the
// tail also limits rows the query is returned untouched.
func splitOrderBy(query string) (string, string) {
	matches := orderByPattern.FindAllStringIndex(query, -1)
	if len(matches) == 0 {
		return query, ""
	}
	last := matches[len(matches)-1]
	tail := query[last[1]:]
	if limitPattern.MatchString(tail) || strings.Count(tail, ")") > strings.Count(tail, "(") {
		return query, ""
	}
	terms := strings.TrimSpace(qualifierPattern.ReplaceAllString(tail, ""))
	if terms == "" {
		return query, ""
	}
	return strings.TrimSpace(query[:last[0]]), terms
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
