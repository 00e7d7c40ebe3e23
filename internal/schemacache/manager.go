// Package schemacache keeps the latest schema snapshot in memory and
// refreshes it in the background when the database changes.
package schemacache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"querycanvas/internal/introspection"
	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

const (
	defaultMinInterval = 30 * time.Second
	defaultMaxInterval = 5 * time.Minute
)

// Snapshot contains an immutable view of the current schema state.
type Snapshot struct {
	Schema      *introspection.Schema
	BuiltAt     time.Time
	Fingerprint string
	// Components maps each table name to its own hash so refresh logs can
	// name the tables that changed.
	Components map[string]string
}

// Config controls schema refresh behavior.
type Config struct {
	Loader      Loader
	Logger      *logging.Logger
	Metrics     *observability.SchemaRefreshMetrics
	MinInterval time.Duration
	MaxInterval time.Duration
	// Disabled skips the background loop; RefreshNow still works.
	Disabled bool
}

// Manager maintains and refreshes schema snapshots.
type Manager struct {
	loader      Loader
	logger      *logging.Logger
	metrics     *observability.SchemaRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration
	disabled    bool
	active      atomic.Pointer[Snapshot]
	refreshMu   sync.Mutex
	wg          sync.WaitGroup
}

// NewManager builds the initial schema snapshot and returns a manager.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("schema cache requires a loader")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	if maxInterval <= 0 {
		maxInterval = defaultMaxInterval
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	manager := &Manager{
		loader:      cfg.Loader,
		logger:      cfg.Logger.WithFields(slog.String("component", "schema_cache")),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
		disabled:    cfg.Disabled,
	}

	start := time.Now()
	snapshot, err := manager.build(ctx)
	if err != nil {
		manager.recordRefresh(ctx, time.Since(start), false, "startup")
		return nil, err
	}
	manager.active.Store(snapshot)
	manager.metrics.SetTableCount(len(snapshot.Schema.Tables))
	manager.recordRefresh(ctx, time.Since(start), true, "startup")
	manager.logger.Info("schema snapshot loaded",
		slog.Int("tables", len(snapshot.Schema.Tables)),
		slog.String("fingerprint", snapshot.Fingerprint),
	)

	return manager, nil
}

// Start begins the background refresh loop.
func (m *Manager) Start(ctx context.Context) {
	if m.disabled {
		m.logger.Info("schema refresh disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Current returns the active schema snapshot.
func (m *Manager) Current() *Snapshot {
	return m.active.Load()
}

// Schema returns the active introspected schema, or nil before the first load.
func (m *Manager) Schema() *introspection.Schema {
	if snapshot := m.Current(); snapshot != nil {
		return snapshot.Schema
	}
	return nil
}

// RefreshNow forces a reload and swaps the snapshot when it changed.
// It reports whether a new snapshot was installed.
func (m *Manager) RefreshNow(ctx context.Context) (bool, error) {
	start := time.Now()
	changed, err := m.refresh(ctx)
	m.recordRefresh(ctx, time.Since(start), err == nil, "manual")
	return changed, err
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	start := time.Now()
	changed, err := m.refresh(ctx)
	if err != nil {
		m.logger.Warn("schema refresh failed", slog.String("error", err.Error()))
		m.recordRefresh(ctx, time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}
	if !changed {
		m.recordRefresh(ctx, time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}
	m.recordRefresh(ctx, time.Since(start), true, "poll")
	*interval = m.minInterval
}

func (m *Manager) refresh(ctx context.Context) (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	snapshot, err := m.build(ctx)
	if err != nil {
		return false, err
	}

	current := m.Current()
	if current != nil && current.Fingerprint == snapshot.Fingerprint {
		return false, nil
	}

	var previous map[string]string
	if current != nil {
		previous = current.Components
	}
	m.logger.Info("schema change detected",
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Any("changed_tables", changedComponents(previous, snapshot.Components)),
	)
	m.active.Store(snapshot)
	m.metrics.SetTableCount(len(snapshot.Schema.Tables))
	return true, nil
}

func (m *Manager) build(ctx context.Context) (*Snapshot, error) {
	tracer := otel.Tracer("querycanvas/schemacache")
	ctx, span := tracer.Start(ctx, "schemacache.build")
	defer span.End()

	schema, err := m.loader(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if schema == nil {
		schema = &introspection.Schema{}
	}

	components := tableHashes(schema)
	fingerprint := combineComponentHashes(components)
	span.SetAttributes(
		attribute.Int("schema.tables", len(schema.Tables)),
		attribute.String("schema.fingerprint", fingerprint),
	)

	for _, table := range schema.Tables {
		m.logger.Debug("table discovered",
			slog.String("table", table.Name),
			slog.Int("columns", len(table.Columns)),
			slog.Int("foreignKeys", len(table.ForeignKeys)),
		)
	}

	return &Snapshot{
		Schema:      schema,
		BuiltAt:     time.Now(),
		Fingerprint: fingerprint,
		Components:  components,
	}, nil
}

// Fingerprint returns a stable hash of the tables, columns, and foreign
// keys in schema. Table order does not affect the result.
func Fingerprint(schema *introspection.Schema) string {
	if schema == nil {
		return ""
	}
	return combineComponentHashes(tableHashes(schema))
}

func tableHashes(schema *introspection.Schema) map[string]string {
	hashes := make(map[string]string, len(schema.Tables))
	for _, table := range schema.Tables {
		hash := sha256.New()
		// Length-prefixed cells avoid hash ambiguity from delimiter collisions.
		writeCell := func(cell string) {
			_, _ = fmt.Fprintf(hash, "%d:%s|", len(cell), cell)
		}
		writeCell(fmt.Sprintf("view=%t", table.IsView))
		for _, col := range table.Columns {
			writeCell(col.Name)
			writeCell(col.DataType)
			writeCell(fmt.Sprintf("%t/%t/%t/%t", col.IsPrimaryKey, col.IsNullable, col.IsAutoIncrement, col.HasDefault))
			writeCell(col.ColumnDefault)
			_, _ = hash.Write([]byte{'\n'})
		}
		for _, fk := range table.ForeignKeys {
			writeCell(fk.ConstraintName)
			writeCell(fk.ColumnName)
			writeCell(fk.ReferencedTable)
			writeCell(fk.ReferencedColumn)
			writeCell(fmt.Sprintf("%d", fk.OrdinalPosition))
			_, _ = hash.Write([]byte{'\n'})
		}
		hashes[table.Name] = hex.EncodeToString(hash.Sum(nil))
	}
	return hashes
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func (m *Manager) recordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	m.metrics.RecordRefresh(ctx, duration, success, trigger)
}

func combineComponentHashes(componentHashes map[string]string) string {
	keys := make([]string, 0, len(componentHashes))
	for key := range componentHashes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hash := sha256.New()
	for _, key := range keys {
		_, _ = fmt.Fprintf(hash, "%s=%s\n", key, componentHashes[key])
	}
	return hex.EncodeToString(hash.Sum(nil))
}

func changedComponents(previous map[string]string, current map[string]string) []string {
	// Compare over the union of keys so added and removed tables are surfaced too.
	keySet := make(map[string]struct{}, len(previous)+len(current))
	for key := range previous {
		keySet[key] = struct{}{}
	}
	for key := range current {
		keySet[key] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		if previous[key] != current[key] {
			changed = append(changed, key)
		}
	}
	return changed
}
