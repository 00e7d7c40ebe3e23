package schemacache

import (
	"context"
	"fmt"

	"querycanvas/internal/introspection"
	"querycanvas/internal/schemafilter"
	"querycanvas/internal/sqlutil"
)

// Loader produces a fresh schema snapshot.
type Loader func(ctx context.Context) (*introspection.Schema, error)

// LoaderConfig defines inputs for the database-backed loader.
type LoaderConfig struct {
	Queryer introspection.Queryer
	Dialect sqlutil.Dialect
	Filters schemafilter.Config
}

// NewLoader returns a Loader that introspects the database and applies the
// configured table and column filters.
func NewLoader(cfg LoaderConfig) (Loader, error) {
	if cfg.Queryer == nil {
		return nil, fmt.Errorf("schema loader requires an introspection queryer")
	}
	return func(ctx context.Context) (*introspection.Schema, error) {
		schema, err := introspection.Snapshot(ctx, cfg.Queryer, cfg.Dialect)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect database: %w", err)
		}
		schemafilter.Apply(schema, cfg.Filters)
		return schema, nil
	}, nil
}
