package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
database:
  type: postgres
  host: localhost
  database: appdb
  user: scrub
  password: secret

scrub:
  table: users
  column: email
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("default postgres port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default ssl_mode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Scrub.Schema != "public" {
		t.Errorf("default schema = %q, want public", cfg.Scrub.Schema)
	}
	if cfg.Scrub.IDColumn != "id" {
		t.Errorf("default id_column = %q, want id", cfg.Scrub.IDColumn)
	}
	if cfg.Scrub.Transformer != "mask" {
		t.Errorf("default transformer = %q, want mask", cfg.Scrub.Transformer)
	}
	if cfg.Scrub.BatchSize != 1000 {
		t.Errorf("default batch_size = %d, want 1000", cfg.Scrub.BatchSize)
	}
	if cfg.Scrub.RangeMode != "snapshot" {
		t.Errorf("default range_mode = %q, want snapshot", cfg.Scrub.RangeMode)
	}
	if cfg.Scrub.SampleSize != 100 {
		t.Errorf("default sample_size = %d, want 100", cfg.Scrub.SampleSize)
	}
}

func TestMSSQLDefaults(t *testing.T) {
	yaml := `
database:
  type: mssql
  host: sql01
  database: appdb
scrub:
  table: users
  column: email
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if cfg.Database.Port != 1433 {
		t.Errorf("default mssql port = %d, want 1433", cfg.Database.Port)
	}
	if cfg.Scrub.Schema != "dbo" {
		t.Errorf("default mssql schema = %q, want dbo", cfg.Scrub.Schema)
	}
	if cfg.Database.Encrypt != "true" {
		t.Errorf("default encrypt = %q, want true", cfg.Database.Encrypt)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"missing host",
			"database:\n  type: postgres\n  database: d\nscrub:\n  table: t\n  column: c\n",
			"database.host is required",
		},
		{
			"missing database",
			"database:\n  type: postgres\n  host: h\nscrub:\n  table: t\n  column: c\n",
			"database.database is required",
		},
		{
			"sqlite needs path",
			"database:\n  type: sqlite\nscrub:\n  table: t\n  column: c\n",
			"database.path is required",
		},
		{
			"unknown engine",
			"database:\n  type: oracle\n  host: h\n  database: d\nscrub:\n  table: t\n  column: c\n",
			"database.type",
		},
		{
			"missing table",
			"database:\n  type: sqlite\n  path: /tmp/x.db\nscrub:\n  column: c\n",
			"scrub.table is required",
		},
		{
			"missing column",
			"database:\n  type: sqlite\n  path: /tmp/x.db\nscrub:\n  table: t\n",
			"scrub.column is required",
		},
		{
			"negative batch size",
			"database:\n  type: sqlite\n  path: /tmp/x.db\nscrub:\n  table: t\n  column: c\n  batch_size: -5\n",
			"batch_size must be positive",
		},
		{
			"bad range mode",
			"database:\n  type: sqlite\n  path: /tmp/x.db\nscrub:\n  table: t\n  column: c\n  range_mode: live\n",
			"range_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("LoadBytes should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvExpansion(t *testing.T) {
	os.Setenv("DBSCRUB_TEST_PASSWORD", "s3cret")
	defer os.Unsetenv("DBSCRUB_TEST_PASSWORD")

	yaml := `
database:
  type: postgres
  host: localhost
  database: appdb
  password: ${DBSCRUB_TEST_PASSWORD}
scrub:
  table: users
  column: email
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("password = %q, want expanded env value", cfg.Database.Password)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			"postgres",
			DatabaseConfig{Type: "postgres", Host: "db", Port: 5432, Database: "app", User: "u", Password: "p", SSLMode: "disable"},
			"postgres://u:p@db:5432/app?sslmode=disable",
		},
		{
			"postgres escapes password",
			DatabaseConfig{Type: "postgres", Host: "db", Port: 5432, Database: "app", User: "u", Password: "p@ss", SSLMode: "require"},
			"postgres://u:p%40ss@db:5432/app?sslmode=require",
		},
		{
			"mssql",
			DatabaseConfig{Type: "mssql", Host: "sql01", Port: 1433, Database: "app", User: "sa", Password: "p", Encrypt: "true"},
			"sqlserver://sa:p@sql01:1433?database=app&encrypt=true&TrustServerCertificate=false",
		},
		{
			"sqlite is just the path",
			DatabaseConfig{Type: "sqlite", Path: "/tmp/app.db"},
			"/tmp/app.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Database: tt.cfg}
			if got := c.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scrub.Table != "users" || cfg.Scrub.Column != "email" {
		t.Errorf("loaded target = %s.%s, want users.email", cfg.Scrub.Table, cfg.Scrub.Column)
	}
}

func TestSanitized(t *testing.T) {
	cfg, err := LoadBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	cfg.Slack.WebhookURL = "https://hooks.slack.com/services/T/B/x"

	s := cfg.Sanitized()
	if s.Database.Password != "[REDACTED]" {
		t.Errorf("password not redacted: %q", s.Database.Password)
	}
	if s.Slack.WebhookURL != "[REDACTED]" {
		t.Errorf("webhook not redacted: %q", s.Slack.WebhookURL)
	}
	if cfg.Database.Password != "secret" {
		t.Error("Sanitized must not mutate the original")
	}
}
