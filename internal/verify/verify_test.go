package verify

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/transform"
)

func testConfig(dbType string) *config.Config {
	cfg := &config.Config{}
	cfg.Database.Type = dbType
	cfg.Scrub.Schema = "public"
	cfg.Scrub.Table = "users"
	cfg.Scrub.IDColumn = "id"
	cfg.Scrub.Column = "email"
	cfg.Scrub.SampleSize = 50
	return cfg
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dbType      string
		wantDriver  string
		wantDialect string
	}{
		{"postgres", "postgres", transform.DialectPostgres},
		{"mssql", "sqlserver", transform.DialectMSSQL},
		{"sqlite", "sqlite", transform.DialectSQLite},
	}

	for _, tt := range tests {
		driver, dialect := driverFor(tt.dbType)
		if driver != tt.wantDriver || dialect != tt.wantDialect {
			t.Errorf("driverFor(%s) = (%s, %s), want (%s, %s)",
				tt.dbType, driver, dialect, tt.wantDriver, tt.wantDialect)
		}
	}
}

func TestSampleQuery(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{transform.DialectPostgres, `SELECT "id", "email" FROM "public"."users" ORDER BY random() LIMIT 50`},
		{transform.DialectMSSQL, `SELECT TOP (50) [id], [email] FROM [public].[users] ORDER BY NEWID()`},
		{transform.DialectSQLite, `SELECT "id", "email" FROM "users" ORDER BY RANDOM() LIMIT 50`},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			cfg := testConfig("x")
			if got := sampleQuery(tt.dialect, cfg); got != tt.want {
				t.Errorf("sampleQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunRequiresVerifier(t *testing.T) {
	// A transformer without the Scrubbed capability cannot be verified.
	blind := blindTransformer{}
	if _, err := Run(context.Background(), testConfig("sqlite"), blind); err == nil || !strings.Contains(err.Error(), "cannot verify") {
		t.Errorf("Run with a non-verifying transformer = %v, want capability error", err)
	}
}

type blindTransformer struct{}

func (blindTransformer) Name() string                           { return "blind" }
func (blindTransformer) Description() string                    { return "" }
func (blindTransformer) Idempotent() bool                       { return true }
func (blindTransformer) Apply(old sql.NullString) sql.NullString { return old }
