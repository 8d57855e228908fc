// Package mssql implements the row store over SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/store"
	"github.com/johndauphine/dbscrub/internal/transform"
)

func init() {
	store.Register("mssql", New)
}

// Store scrubs windows with one T-SQL UPDATE when the transformer pushes
// down, otherwise row-at-a-time inside the window transaction.
type Store struct {
	db          *sql.DB
	transformer transform.Transformer
	table       string
	idCol       string
	col         string

	updateSQL string
}

// New connects to SQL Server and prepares the scrub statements.
func New(cfg *config.DatabaseConfig, dsn string, target store.Target, t transform.Transformer) (store.Store, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Connected to SQL Server: %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)

	s := &Store{
		db:          db,
		transformer: t,
		table:       store.QualifyTable(transform.DialectMSSQL, target.Schema, target.Table),
		idCol:       store.QuoteIdent(transform.DialectMSSQL, target.IDColumn),
		col:         store.QuoteIdent(transform.DialectMSSQL, target.Column),
	}
	if st, ok := t.(transform.SQLTransformer); ok {
		if expr, ok := st.Expr(transform.DialectMSSQL, s.col); ok {
			s.updateSQL = fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s >= @p1 AND %s < @p2",
				s.table, s.col, expr, s.idCol, s.idCol)
		}
	}
	return s, nil
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

	var affected int64
	if s.updateSQL != "" {
		res, err := tx.ExecContext(ctx, s.updateSQL, lo, hi)
		if err != nil {
			return 0, fmt.Errorf("updating window: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reading affected count: %w", err)
		}
	} else {
		affected, err = s.scrubRows(ctx, tx, lo, hi)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing window: %w", err)
	}
	return affected, nil
}

// scrubRows applies the transformer in Go for transformers without a T-SQL
// expression.
func (s *Store) scrubRows(ctx context.Context, tx *sql.Tx, lo, hi int64) (int64, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WITH (UPDLOCK) WHERE %s >= @p1 AND %s < @p2",
		s.idCol, s.col, s.table, s.idCol, s.idCol)

	rows, err := tx.QueryContext(ctx, query, lo, hi)
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

	updateSQL := fmt.Sprintf("UPDATE %s SET %s = @p1 WHERE %s = @p2", s.table, s.col, s.idCol)
	for _, u := range updates {
		var val any
		if u.val.Valid {
			val = u.val.String
		}
		if _, err := tx.ExecContext(ctx, updateSQL, val, u.id); err != nil {
			return 0, fmt.Errorf("updating row %d: %w", u.id, err)
		}
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
func (s *Store) DBType() string { return "mssql" }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }
