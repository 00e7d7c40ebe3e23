package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Config carries word overrides for the inflection rules. Keys are matched
// case-insensitively, against the whole name first and then against its last
// snake_case segment.
type Config struct {
	// PluralOverrides maps singular to plural, e.g. {"staff": "staff"}.
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`
	// SingularOverrides maps plural to singular, e.g. {"data": "datum"}.
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig has no overrides.
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   map[string]string{},
		SingularOverrides: map[string]string{},
	}
}

// Pluralize returns the plural of a table-style name.
func (n *Namer) Pluralize(word string) string {
	return inflect(word, n.config.PluralOverrides, inflection.Plural)
}

// Singularize returns the singular of a table-style name.
func (n *Namer) Singularize(word string) string {
	return inflect(word, n.config.SingularOverrides, inflection.Singular)
}

func inflect(word string, overrides map[string]string, rule func(string) string) string {
	if to, ok := overrides[strings.ToLower(word)]; ok {
		return to
	}
	if i := strings.LastIndexByte(word, '_'); i >= 0 && i < len(word)-1 {
		if to, ok := overrides[strings.ToLower(word[i+1:])]; ok {
			return word[:i+1] + to
		}
	}
	return rule(word)
}
