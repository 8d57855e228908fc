// Package transform provides the anonymization functions applied to the
// sensitive column. Transformers declare whether they are idempotent; the
// controller relies on that flag to warn about unsafe re-runs.
package transform

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// Dialect names accepted by SQL push-down transformers.
const (
	DialectPostgres = "postgres"
	DialectMSSQL    = "mssql"
	DialectSQLite   = "sqlite"
)

// Transformer maps an old column value to its anonymized replacement.
// Apply must not fail for any valid input; NULL handling is up to the
// transformer (most pass NULL through).
type Transformer interface {
	// Name is the registry key, e.g. "mask".
	Name() string

	// Description is a one-line summary for the CLI listing.
	Description() string

	// Idempotent reports whether Apply(Apply(v)) == Apply(v) for all v.
	// Non-idempotent transformers are still reapply-safe in the sense
	// that the output remains anonymized, but a re-run will not leave
	// the data identical to a single run.
	Idempotent() bool

	// Apply transforms a single value.
	Apply(old sql.NullString) sql.NullString
}

// SQLTransformer can express its transformation as a SQL expression over
// the column, letting a store scrub a whole window with one UPDATE.
type SQLTransformer interface {
	Transformer

	// Expr returns the SQL expression for the given dialect, or ok=false
	// when the dialect is not supported and the store must fall back to
	// row-at-a-time application.
	Expr(dialect, column string) (expr string, ok bool)
}

// Verifier recognizes values the transformer has already produced. Used by
// the verify command to sample for rows that still look unscrubbed.
type Verifier interface {
	// Scrubbed reports whether v looks like transformer output.
	Scrubbed(v sql.NullString) bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Transformer)
)

// Register adds a transformer to the registry. Panics on duplicate names,
// same as database/sql driver registration.
func Register(t Transformer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[t.Name()]; dup {
		panic("transform: Register called twice for " + t.Name())
	}
	registry[t.Name()] = t
}

// Get returns the registered transformer with the given name.
func Get(name string) (Transformer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[name]
	return t, ok
}

// Names returns all registered transformer names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the transformer for a config selection. The constant
// transformer is special-cased so the replacement value from the config
// can be bound at construction time.
func Resolve(name, constantValue string) (Transformer, error) {
	if name == "constant" && constantValue != "" {
		return NewConstant(constantValue), nil
	}
	t, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown transformer %q (valid: %v)", name, Names())
	}
	return t, nil
}
