// Package sqlite implements the row store over a local SQLite file, mainly
// for sanitizing test-data extracts. Transformers are applied in Go since
// SQLite lacks the digest builtins the other engines push down to.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/store"
	"github.com/johndauphine/dbscrub/internal/transform"
)

func init() {
	store.Register("sqlite", New)
}

// Store scrubs windows row by row inside one transaction per window.
type Store struct {
	db          *sql.DB
	transformer transform.Transformer
	table       string
	idCol       string
	col         string
}

// New opens the SQLite database file.
func New(cfg *config.DatabaseConfig, dsn string, target store.Target, t transform.Transformer) (store.Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Window transactions are strictly sequential; a single connection
	// avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Opened SQLite database: %s", cfg.Path)

	return &Store{
		db:          db,
		transformer: t,
		table:       store.QualifyTable(transform.DialectSQLite, "", target.Table),
		idCol:       store.QuoteIdent(transform.DialectSQLite, target.IDColumn),
		col:         store.QuoteIdent(transform.DialectSQLite, target.Column),
	}, nil
}

// IDRange returns the current identifier extrema.
func (s *Store) IDRange(ctx context.Context) (int64, int64, bool, error) {
	var min, max sql.NullInt64
	query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", s.idCol, s.idCol, s.table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&min, &max); err != nil {
		return 0, 0, false, fmt.Errorf("querying identifier range: %w", err)
	}
	if !min.Valid || !max.Valid {
		return 0, 0, false, nil
	}
	return min.Int64, max.Int64, true, nil
}

// MaxID returns the current maximum identifier.
func (s *Store) MaxID(ctx context.Context) (int64, bool, error) {
	var max sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", s.idCol, s.table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("querying max identifier: %w", err)
	}
	return max.Int64, max.Valid, nil
}

// ScrubWindow transforms rows with identifier in [lo, hi) and commits them
// as one unit.
func (s *Store) ScrubWindow(ctx context.Context, lo, hi int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	selectSQL := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s >= ? AND %s < ?",
		s.idCol, s.col, s.table, s.idCol, s.idCol)

	rows, err := tx.QueryContext(ctx, selectSQL, lo, hi)
	if err != nil {
		return 0, fmt.Errorf("selecting window: %w", err)
	}

	type update struct {
		id  int64
		val sql.NullString
	}
	var updates []update
	for rows.Next() {
		var id int64
		var old sql.NullString
		if err := rows.Scan(&id, &old); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning row: %w", err)
		}
		updates = append(updates, update{id: id, val: s.transformer.Apply(old)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading window: %w", err)
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", s.table, s.col, s.idCol)
	for _, u := range updates {
		var val any
		if u.val.Valid {
			val = u.val.String
		}
		if _, err := tx.ExecContext(ctx, updateSQL, val, u.id); err != nil {
			return 0, fmt.Errorf("updating row %d: %w", u.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing window: %w", err)
	}
	return int64(len(updates)), nil
}

// RowCount returns the table's current row count.
func (s *Store) RowCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count)
	return count, err
}

// DBType returns the engine name.
func (s *Store) DBType() string { return "sqlite" }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
