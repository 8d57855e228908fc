// Package postgres implements the row store over PostgreSQL using pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/store"
	"github.com/johndauphine/dbscrub/internal/transform"
)

func init() {
	store.Register("postgres", New)
}

// Store scrubs windows with a single UPDATE when the transformer pushes
// down to SQL, falling back to row-at-a-time updates in one transaction.
type Store struct {
	pool        *pgxpool.Pool
	transformer transform.Transformer
	table       string // qualified, quoted
	idCol       string // quoted
	col         string // quoted

	updateSQL string // set when the transformer supports push-down
}

// New connects to PostgreSQL and prepares the scrub statements.
func New(cfg *config.DatabaseConfig, dsn string, target store.Target, t transform.Transformer) (store.Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Connected to PostgreSQL: %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)

	s := &Store{
		pool:        pool,
		transformer: t,
		table:       store.QualifyTable(transform.DialectPostgres, target.Schema, target.Table),
		idCol:       store.QuoteIdent(transform.DialectPostgres, target.IDColumn),
		col:         store.QuoteIdent(transform.DialectPostgres, target.Column),
	}
	if st, ok := t.(transform.SQLTransformer); ok {
		if expr, ok := st.Expr(transform.DialectPostgres, s.col); ok {
			s.updateSQL = buildUpdateSQL(s.table, s.col, expr, s.idCol)
		}
	}
	return s, nil
}

// buildUpdateSQL produces the bulk window update statement.
func buildUpdateSQL(table, col, expr, idCol string) string {
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s >= $1 AND %s < $2",
		table, col, expr, idCol, idCol)
}

// IDRange returns the current identifier extrema.
func (s *Store) IDRange(ctx context.Context) (int64, int64, bool, error) {
	var min, max *int64
	query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", s.idCol, s.idCol, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&min, &max); err != nil {
		return 0, 0, false, fmt.Errorf("querying identifier range: %w", err)
	}
	if min == nil || max == nil {
		return 0, 0, false, nil
	}
	return *min, *max, true, nil
}

// MaxID returns the current maximum identifier.
func (s *Store) MaxID(ctx context.Context) (int64, bool, error) {
	var max *int64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", s.idCol, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("querying max identifier: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// ScrubWindow transforms rows with identifier in [lo, hi) and commits them
// as one unit.
func (s *Store) ScrubWindow(ctx context.Context, lo, hi int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var affected int64
	if s.updateSQL != "" {
		tag, err := tx.Exec(ctx, s.updateSQL, lo, hi)
		if err != nil {
			return 0, fmt.Errorf("updating window: %w", err)
		}
		affected = tag.RowsAffected()
	} else {
		affected, err = s.scrubRows(ctx, tx, lo, hi)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing window: %w", err)
	}
	return affected, nil
}

// scrubRows applies the transformer in Go, one row at a time, batching the
// updates through a single pgx.Batch inside the window transaction.
func (s *Store) scrubRows(ctx context.Context, tx pgx.Tx, lo, hi int64) (int64, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s >= $1 AND %s < $2 FOR UPDATE",
		s.idCol, s.col, s.table, s.idCol, s.idCol)

	rows, err := tx.Query(ctx, query, lo, hi)
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
		var old *string
		if err := rows.Scan(&id, &old); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning row: %w", err)
		}
		oldVal := sql.NullString{}
		if old != nil {
			oldVal = sql.NullString{String: *old, Valid: true}
		}
		updates = append(updates, update{id: id, val: s.transformer.Apply(oldVal)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading window: %w", err)
	}

	if len(updates) == 0 {
		return 0, nil
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2", s.table, s.col, s.idCol)
	batch := &pgx.Batch{}
	for _, u := range updates {
		var val any
		if u.val.Valid {
			val = u.val.String
		}
		batch.Queue(updateSQL, val, u.id)
	}

	results := tx.SendBatch(ctx, batch)
	for range updates {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, fmt.Errorf("updating row: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}
	return int64(len(updates)), nil
}

// RowCount returns the table's current row count.
func (s *Store) RowCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count)
	return count, err
}

// DBType returns the engine name.
func (s *Store) DBType() string { return "postgres" }

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
