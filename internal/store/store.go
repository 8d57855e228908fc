// Package store provides row store implementations the scrub controller
// drives. Each engine lives in its own subpackage and registers a factory
// here, mirroring database/sql driver registration.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/scrub"
	"github.com/johndauphine/dbscrub/internal/transform"
)

// Store extends the controller's view of a row store with lifecycle and
// metadata operations used by the CLI layer.
type Store interface {
	scrub.Store

	// RowCount returns the current number of rows in the target table,
	// used only for progress display.
	RowCount(ctx context.Context) (int64, error)

	// DBType returns the engine name ("postgres", "mssql", "sqlite").
	DBType() string

	Close() error
}

// Target names the table and columns a store operates on.
type Target struct {
	Schema   string
	Table    string
	IDColumn string
	Column   string
}

// Factory creates a store for one engine.
type Factory func(cfg *config.DatabaseConfig, dsn string, target Target, t transform.Transformer) (Store, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register adds a store factory, typically from an engine package's init().
// Panics on duplicate names.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("store %q already registered", name))
	}
	factories[name] = f
}

// Available returns the sorted names of registered engines.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the store for the configured engine.
func Open(cfg *config.Config, t transform.Transformer) (Store, error) {
	registryMu.RLock()
	f, ok := factories[cfg.Database.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database type %q (available: %v)", cfg.Database.Type, Available())
	}

	target := Target{
		Schema:   cfg.Scrub.Schema,
		Table:    cfg.Scrub.Table,
		IDColumn: cfg.Scrub.IDColumn,
		Column:   cfg.Scrub.Column,
	}
	return f(&cfg.Database, cfg.DSN(), target, t)
}

// QuoteIdent quotes an identifier for the given dialect, escaping embedded
// quote characters.
func QuoteIdent(dialect, ident string) string {
	if dialect == transform.DialectMSSQL {
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QualifyTable returns the schema-qualified, quoted table name. Schema may
// be empty (sqlite).
func QualifyTable(dialect, schema, table string) string {
	if schema == "" {
		return QuoteIdent(dialect, table)
	}
	return QuoteIdent(dialect, schema) + "." + QuoteIdent(dialect, table)
}
