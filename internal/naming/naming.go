// Package naming holds the table and column naming conventions used to guess
// join columns when a schema declares no foreign keys.
package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

// Namer applies pluralization rules and reference-column conventions.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PluralOverrides == nil {
		cfg.PluralOverrides = map[string]string{}
	}
	if cfg.SingularOverrides == nil {
		cfg.SingularOverrides = map[string]string{}
	}
	return &Namer{
		config: cfg,
		logger: logger,
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// referenceSuffixes are stripped from a column name to find the entity it
// points at. Checked in order; the first match wins.
var referenceSuffixes = []string{"_id", "_fk", "id"}

// ReferenceStem returns the entity part of a column that looks like a
// reference to another table.
// Example: "author_id" -> "author", "customerId" -> "customer", "id" -> ""
func (n *Namer) ReferenceStem(column string) (string, bool) {
	lower := strings.ToLower(column)
	for _, suffix := range referenceSuffixes {
		if !strings.HasSuffix(lower, suffix) || len(lower) == len(suffix) {
			continue
		}
		stem := column[:len(column)-len(suffix)]
		if suffix == "id" {
			// Bare "id" suffix only counts for camelCase like customerId.
			last := []rune(column[len(column)-2:])
			if !unicode.IsUpper(last[0]) {
				continue
			}
		}
		stem = strings.TrimRight(stem, "_")
		if stem == "" {
			continue
		}
		return toSnakeCase(stem), true
	}
	return "", false
}

// TableCandidates lists table names a reference stem may resolve to,
// most likely first. Duplicates are removed.
// Example: "category" -> ["categories", "category"]
func (n *Namer) TableCandidates(stem string) []string {
	if stem == "" {
		return nil
	}
	seen := make(map[string]struct{}, 3)
	var out []string
	for _, name := range []string{n.Pluralize(stem), stem, n.Singularize(stem)} {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// MatchesTable reports whether column looks like a reference to table.
func (n *Namer) MatchesTable(column, table string) bool {
	stem, ok := n.ReferenceStem(column)
	if !ok {
		return false
	}
	for _, candidate := range n.TableCandidates(stem) {
		if strings.EqualFold(candidate, table) {
			n.logger.Debug("column name matches table",
				slog.String("column", column),
				slog.String("table", table),
			)
			return true
		}
	}
	return false
}

// toSnakeCase converts camelCase to snake_case; snake_case input is kept.
func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
