package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the scrub tool
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Scrub    ScrubConfig    `yaml:"scrub"`
	Journal  JournalConfig  `yaml:"journal"`
	Slack    SlackConfig    `yaml:"slack"`
}

// DatabaseConfig holds row store connection settings
type DatabaseConfig struct {
	Type            string `yaml:"type"` // "postgres", "mssql" or "sqlite"
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`          // PostgreSQL: disable, require, verify-ca, verify-full (default: require)
	TrustServerCert bool   `yaml:"trust_server_cert"` // MSSQL: trust server certificate (default: false)
	Encrypt         string `yaml:"encrypt"`           // MSSQL: disable, false, true (default: true)
	Path            string `yaml:"path"`              // SQLite: database file path
	MaxConnections  int    `yaml:"max_connections"`
}

// ScrubConfig holds scrub behavior settings
type ScrubConfig struct {
	Schema        string `yaml:"schema"`
	Table         string `yaml:"table"`
	IDColumn      string `yaml:"id_column"`
	Column        string `yaml:"column"`
	Transformer   string `yaml:"transformer"`
	ConstantValue string `yaml:"constant_value"` // replacement for the constant transformer
	BatchSize     int64  `yaml:"batch_size"`
	RangeMode     string `yaml:"range_mode"`    // "snapshot" (default) or "follow"
	FullCoverage  bool   `yaml:"full_coverage"` // exact half-open partition instead of the historical batch+1 advance
	SampleSize    int    `yaml:"sample_size"`   // rows sampled by the verify command
}

// JournalConfig holds run history settings
type JournalConfig struct {
	DataDir string `yaml:"data_dir"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for the run journal.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".dbscrub")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Type == "" {
		c.Database.Type = "postgres"
	}
	if c.Database.Port == 0 {
		switch c.Database.Type {
		case "mssql":
			c.Database.Port = 1433
		default:
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require" // Secure default for PostgreSQL
	}
	if c.Database.Encrypt == "" {
		c.Database.Encrypt = "true" // Secure default for MSSQL
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 4
	}

	if c.Scrub.Schema == "" {
		switch c.Database.Type {
		case "mssql":
			c.Scrub.Schema = "dbo"
		case "postgres":
			c.Scrub.Schema = "public"
		}
	}
	if c.Scrub.IDColumn == "" {
		c.Scrub.IDColumn = "id"
	}
	if c.Scrub.Transformer == "" {
		c.Scrub.Transformer = "mask"
	}
	if c.Scrub.BatchSize == 0 {
		c.Scrub.BatchSize = 1000
	}
	if c.Scrub.RangeMode == "" {
		c.Scrub.RangeMode = "snapshot"
	}
	if c.Scrub.SampleSize == 0 {
		c.Scrub.SampleSize = 100
	}

	if c.Journal.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Journal.DataDir = filepath.Join(home, ".dbscrub")
	} else {
		c.Journal.DataDir = expandTilde(c.Journal.DataDir)
	}
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "postgres", "mssql":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.type must be 'postgres', 'mssql' or 'sqlite', got '%s'", c.Database.Type)
	}

	if c.Scrub.Table == "" {
		return fmt.Errorf("scrub.table is required")
	}
	if c.Scrub.Column == "" {
		return fmt.Errorf("scrub.column is required")
	}
	if c.Scrub.BatchSize <= 0 {
		return fmt.Errorf("scrub.batch_size must be positive, got %d", c.Scrub.BatchSize)
	}
	if c.Scrub.RangeMode != "snapshot" && c.Scrub.RangeMode != "follow" {
		return fmt.Errorf("scrub.range_mode must be 'snapshot' or 'follow'")
	}
	return nil
}

// DSN returns the connection string for the configured row store.
func (c *Config) DSN() string {
	switch c.Database.Type {
	case "mssql":
		return c.buildMSSQLDSN()
	case "sqlite":
		return c.Database.Path
	default:
		return c.buildPostgresDSN()
	}
}

func (c *Config) buildMSSQLDSN() string {
	trustCert := "false"
	if c.Database.TrustServerCert {
		trustCert = "true"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s&TrustServerCertificate=%s",
		url.QueryEscape(c.Database.User), url.QueryEscape(c.Database.Password),
		c.Database.Host, c.Database.Port,
		url.QueryEscape(c.Database.Database), c.Database.Encrypt, trustCert)
}

func (c *Config) buildPostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User), url.QueryEscape(c.Database.Password),
		c.Database.Host, c.Database.Port,
		url.PathEscape(c.Database.Database), c.Database.SSLMode)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy
	sanitized.Database.Password = "[REDACTED]"
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}
	return &sanitized
}
