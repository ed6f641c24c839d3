package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Search.PageSize != 1000 {
		t.Errorf("Expected default page size to be 1000, got %d", config.Search.PageSize)
	}

	if config.Retry.MaxRetries != 10 {
		t.Errorf("Expected default max retries to be 10, got %d", config.Retry.MaxRetries)
	}

	if config.Retry.MinDelay != time.Second || config.Retry.MaxDelay != 15*time.Second {
		t.Errorf("Expected default delay window 1s-15s, got %v-%v", config.Retry.MinDelay, config.Retry.MaxDelay)
	}

	if config.Output.ShardDepth != 4 || config.Output.PadWidth != 7 {
		t.Errorf("Expected shard depth 4 and pad width 7, got %d and %d", config.Output.ShardDepth, config.Output.PadWidth)
	}

	if config.Database.Table != DefaultTable {
		t.Errorf("Expected default table %s, got %s", DefaultTable, config.Database.Table)
	}

	if len(config.Search.Fields) != len(DefaultFields) {
		t.Errorf("Expected %d default fields, got %d", len(DefaultFields), len(config.Search.Fields))
	}

	// Mutating the copy must not leak into the package default
	config.Search.Fields[0] = "changed"
	if DefaultFields[0] != "pmid" {
		t.Error("DefaultConfig should copy the default field list")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EPMCQUERY_PAGE_SIZE", "250")
	t.Setenv("EPMCQUERY_LIMIT", "5000")
	t.Setenv("EPMCQUERY_DB", "my-instance/pubs")
	t.Setenv("EPMCQUERY_OUTPUT_DIR", "/tmp/test-results")
	t.Setenv("EPMCQUERY_MAX_RETRIES", "3")
	t.Setenv("EPMCQUERY_GRACEFUL_EXIT", "false")
	t.Setenv("EPMCQUERY_LOG_LEVEL", "debug")
	t.Setenv("CLOUD_SQL_USER", "harvester")
	t.Setenv("CLOUD_SQL_PASSWORD", "s3cret")

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Search.PageSize != 250 {
		t.Errorf("Expected page size to be 250, got %d", config.Search.PageSize)
	}
	if config.Search.Limit != 5000 {
		t.Errorf("Expected limit to be 5000, got %d", config.Search.Limit)
	}
	if config.Database.Instance != "my-instance" || config.Database.Name != "pubs" {
		t.Errorf("Expected target my-instance/pubs, got %s/%s", config.Database.Instance, config.Database.Name)
	}
	if config.Database.User != "" || config.Database.Password != "" {
		t.Errorf("Cloud SQL credentials belong to the credential manager, got %q/%q", config.Database.User, config.Database.Password)
	}
	if config.Output.BaseDirectory != "/tmp/test-results" {
		t.Errorf("Expected output directory to be /tmp/test-results, got %s", config.Output.BaseDirectory)
	}
	if config.Retry.MaxRetries != 3 {
		t.Errorf("Expected max retries to be 3, got %d", config.Retry.MaxRetries)
	}
	if config.Retry.Graceful {
		t.Error("Expected graceful exit to be disabled")
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("EPMCQUERY_PAGE_SIZE", "lots")

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric page size")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Database.SetTarget("instance/db")
		return c
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{
			name:      "valid config",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name:      "zero page size",
			mutate:    func(c *Config) { c.Search.PageSize = 0 },
			wantError: true,
		},
		{
			name:      "negative limit",
			mutate:    func(c *Config) { c.Search.Limit = -1 },
			wantError: true,
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Name = "" },
			wantError: true,
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Database.Driver = DriverSQLite
			},
			wantError: true,
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Database.Driver = DriverSQLite
				c.Database.Path = "/tmp/checkpoints.db"
			},
			wantError: false,
		},
		{
			name:      "memory driver",
			mutate:    func(c *Config) { c.Database.Driver = DriverMemory },
			wantError: false,
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			wantError: true,
		},
		{
			name:      "table name injection",
			mutate:    func(c *Config) { c.Database.Table = "cursors; DROP TABLE x" },
			wantError: true,
		},
		{
			name:      "shard depth deeper than padding",
			mutate:    func(c *Config) { c.Output.ShardDepth = 8 },
			wantError: true,
		},
		{
			name: "inverted delay window",
			mutate: func(c *Config) {
				c.Retry.MinDelay = 10 * time.Second
				c.Retry.MaxDelay = time.Second
			},
			wantError: true,
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "chatty" },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSetTarget(t *testing.T) {
	var d DatabaseConfig

	d.SetTarget("project:region:instance/pubmed")
	if d.Instance != "project:region:instance" || d.Name != "pubmed" {
		t.Errorf("Unexpected split: %q / %q", d.Instance, d.Name)
	}

	d = DatabaseConfig{}
	d.SetTarget("only-instance")
	if d.Instance != "only-instance" || d.Name != "" {
		t.Errorf("Unexpected split without database: %q / %q", d.Instance, d.Name)
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
search:
  page_size: 500
  limit: 2000
  timeout: 30s
database:
  driver: sqlite3
  path: /tmp/cursor.db
output:
  base_directory: /data/epmc
  shard_depth: 3
retry:
  max_retries: 4
  min_delay: 2s
  max_delay: 4s
  graceful: false
logging:
  level: warn
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to load config file: %v", err)
	}

	if config.Search.PageSize != 500 || config.Search.Limit != 2000 {
		t.Errorf("Unexpected search settings: %+v", config.Search)
	}
	if config.Search.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", config.Search.Timeout)
	}
	if config.Database.Driver != DriverSQLite || config.Database.Path != "/tmp/cursor.db" {
		t.Errorf("Unexpected database settings: %+v", config.Database)
	}
	if config.Output.ShardDepth != 3 {
		t.Errorf("Expected shard depth 3, got %d", config.Output.ShardDepth)
	}
	if config.Retry.MaxRetries != 4 || config.Retry.MinDelay != 2*time.Second || config.Retry.Graceful {
		t.Errorf("Unexpected retry settings: %+v", config.Retry)
	}
	// Values not present in the file keep their defaults
	if config.Database.Table != DefaultTable {
		t.Errorf("Expected default table to survive, got %s", config.Database.Table)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", config.Logging.Level)
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()

	config.MergeCommandLineFlags(map[string]interface{}{
		"accession-types": "types.json",
		"outdir":          "/out",
		"page-size":       100,
		"limit":           300,
		"db":              "inst/db",
		"dbcreds":         "creds.json",
		"sqluser":         "flag-user",
		"graceful-exit":   false,
		"max-retries":     2,
	})

	if config.Search.AccessionTypesFile != "types.json" {
		t.Errorf("Expected accession types file from flags, got %s", config.Search.AccessionTypesFile)
	}
	if config.Output.BaseDirectory != "/out" {
		t.Errorf("Expected outdir from flags, got %s", config.Output.BaseDirectory)
	}
	if config.Search.PageSize != 100 || config.Search.Limit != 300 {
		t.Errorf("Unexpected paging from flags: %d/%d", config.Search.PageSize, config.Search.Limit)
	}
	if config.Database.Instance != "inst" || config.Database.Name != "db" {
		t.Errorf("Unexpected database target: %s/%s", config.Database.Instance, config.Database.Name)
	}
	if config.Database.CredentialsFile != "creds.json" || config.Database.User != "flag-user" {
		t.Errorf("Unexpected credentials settings: %+v", config.Database)
	}
	if config.Retry.Graceful || config.Retry.MaxRetries != 2 {
		t.Errorf("Unexpected retry settings: %+v", config.Retry)
	}
}

func TestLoadPrecedence(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	content := "search:\n  page_size: 10\ndatabase:\n  driver: memory\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("EPMCQUERY_PAGE_SIZE", "20")

	config, err := Load(configPath, map[string]interface{}{"page-size": 30})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Search.PageSize != 30 {
		t.Errorf("Expected flag to win with 30, got %d", config.Search.PageSize)
	}

	config, err = Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Search.PageSize != 20 {
		t.Errorf("Expected environment to win with 20, got %d", config.Search.PageSize)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := DefaultConfig()
	config.Search.PageSize = 42
	if err := config.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := DefaultConfig()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if loaded.Search.PageSize != 42 {
		t.Errorf("Expected saved page size 42, got %d", loaded.Search.PageSize)
	}
}
