// Package verify samples the target column after a run and reports rows
// that do not look like transformer output. It reads through database/sql
// so all three engines share one code path.
package verify

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"               // postgres driver for database/sql
	_ "github.com/microsoft/go-mssqldb" // sqlserver driver
	_ "modernc.org/sqlite"              // sqlite driver

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/store"
	"github.com/johndauphine/dbscrub/internal/transform"
)

// Report summarizes one verification pass.
type Report struct {
	Sampled    int
	Unscrubbed int
	// ExampleIDs holds identifiers of up to ten unscrubbed rows.
	ExampleIDs []int64
}

// OK reports whether no sampled row looked unscrubbed.
func (r *Report) OK() bool {
	return r.Unscrubbed == 0
}

// Run samples rows and checks them against the transformer's verifier.
// Transformers that cannot recognize their own output produce an error;
// all builtins can.
func Run(ctx context.Context, cfg *config.Config, t transform.Transformer) (*Report, error) {
	verifier, ok := t.(transform.Verifier)
	if !ok {
		return nil, fmt.Errorf("transformer %q cannot verify its output", t.Name())
	}

	driver, dialect := driverFor(cfg.Database.Type)
	db, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	defer db.Close()

	query := sampleQuery(dialect, cfg)
	logging.Debug("Sampling %d rows: %s", cfg.Scrub.SampleSize, query)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sampling rows: %w", err)
	}
	defer rows.Close()

	report := &Report{}
	for rows.Next() {
		var id int64
		var val sql.NullString
		if err := rows.Scan(&id, &val); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		report.Sampled++
		if !verifier.Scrubbed(val) {
			report.Unscrubbed++
			if len(report.ExampleIDs) < 10 {
				report.ExampleIDs = append(report.ExampleIDs, id)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	return report, nil
}

func driverFor(dbType string) (driver, dialect string) {
	switch dbType {
	case "mssql":
		return "sqlserver", transform.DialectMSSQL
	case "sqlite":
		return "sqlite", transform.DialectSQLite
	default:
		return "postgres", transform.DialectPostgres
	}
}

// sampleQuery builds a random-sample select in the engine's syntax.
func sampleQuery(dialect string, cfg *config.Config) string {
	schema := cfg.Scrub.Schema
	if dialect == transform.DialectSQLite {
		schema = ""
	}
	table := store.QualifyTable(dialect, schema, cfg.Scrub.Table)
	idCol := store.QuoteIdent(dialect, cfg.Scrub.IDColumn)
	col := store.QuoteIdent(dialect, cfg.Scrub.Column)
	n := cfg.Scrub.SampleSize

	switch dialect {
	case transform.DialectMSSQL:
		return fmt.Sprintf("SELECT TOP (%d) %s, %s FROM %s ORDER BY NEWID()", n, idCol, col, table)
	case transform.DialectSQLite:
		return fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY RANDOM() LIMIT %d", idCol, col, table, n)
	default:
		return fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY random() LIMIT %d", idCol, col, table, n)
	}
}
