package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the Europe PMC REST service root
	DefaultBaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"

	// DefaultTable is the checkpoint table used by the original harvesting jobs
	DefaultTable = "tmp_cursor_tracking"
)

// Supported checkpoint backends
const (
	DriverMySQL    = "mysql"
	DriverCloudSQL = "cloudsql-mysql"
	DriverSQLite   = "sqlite3"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// DefaultFields is the allow-list of record fields kept in output files
var DefaultFields = []string{
	"pmid",
	"pmcid",
	"title",
	"authorList",
	"authorString",
	"journalInfo",
	"grantsList",
	"keywordList",
	"meshHeadingList",
	"citedByCount",
	"hasTMAccessionNumbers",
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Config holds all configuration options for an ingestion run
type Config struct {
	// Remote search API settings
	Search SearchConfig `yaml:"search" json:"search"`

	// Checkpoint database
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Sharded output layout
	Output OutputConfig `yaml:"output" json:"output"`

	// Retry policy for transient upstream failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Metrics export
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SearchConfig holds Europe PMC query settings
type SearchConfig struct {
	BaseURL            string        `yaml:"base_url" json:"base_url"`
	AccessionTypesFile string        `yaml:"accession_types_file" json:"accession_types_file"`
	ResultType         string        `yaml:"result_type" json:"result_type"`
	PageSize           int           `yaml:"page_size" json:"page_size"`
	Limit              int           `yaml:"limit" json:"limit"`
	Fields             []string      `yaml:"fields" json:"fields"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent          string        `yaml:"user_agent" json:"user_agent"`
}

// DatabaseConfig holds checkpoint store settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" json:"driver"`
	Instance        string        `yaml:"instance" json:"instance"`
	Name            string        `yaml:"name" json:"name"`
	Address         string        `yaml:"address" json:"address"`
	Path            string        `yaml:"path" json:"path"`
	Table           string        `yaml:"table" json:"table"`
	User            string        `yaml:"user" json:"user"`
	Password        string        `yaml:"password" json:"-"`
	CredentialsFile string        `yaml:"credentials_file" json:"credentials_file"`
	Profile         string        `yaml:"profile" json:"profile"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
}

// OutputConfig holds the sharded output layout
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	ShardDepth    int    `yaml:"shard_depth" json:"shard_depth"`
	PadWidth      int    `yaml:"pad_width" json:"pad_width"`
	Indent        int    `yaml:"indent" json:"indent"`
}

// RetryConfig holds the fetch retry policy
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	MinDelay   time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Graceful   bool          `yaml:"graceful" json:"graceful"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// MetricsConfig holds metrics export configuration
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" json:"textfile_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	fields := make([]string, len(DefaultFields))
	copy(fields, DefaultFields)

	return &Config{
		Search: SearchConfig{
			BaseURL:    DefaultBaseURL,
			ResultType: "core",
			PageSize:   1000,
			Limit:      0,
			Fields:     fields,
			Timeout:    2 * time.Minute,
			UserAgent:  "epmcquery/1.0",
		},
		Database: DatabaseConfig{
			Driver:          DriverCloudSQL,
			Table:           DefaultTable,
			Profile:         "default",
			ConnMaxLifetime: 5 * time.Minute,
			MaxOpenConns:    2,
		},
		Output: OutputConfig{
			BaseDirectory: "./results",
			ShardDepth:    4,
			PadWidth:      7,
			Indent:        4,
		},
		Retry: RetryConfig{
			MaxRetries: 10,
			MinDelay:   1 * time.Second,
			MaxDelay:   15 * time.Second,
			Graceful:   true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0,
			BurstSize:         1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("EPMCQUERY_BASE_URL"); v != "" {
		c.Search.BaseURL = v
	}
	if v := os.Getenv("EPMCQUERY_ACCESSION_TYPES"); v != "" {
		c.Search.AccessionTypesFile = v
	}
	if v := os.Getenv("EPMCQUERY_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EPMCQUERY_PAGE_SIZE: %w", err))
		} else {
			c.Search.PageSize = n
		}
	}
	if v := os.Getenv("EPMCQUERY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EPMCQUERY_LIMIT: %w", err))
		} else {
			c.Search.Limit = n
		}
	}

	if v := os.Getenv("EPMCQUERY_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("EPMCQUERY_DB"); v != "" {
		c.Database.SetTarget(v)
	}
	if v := os.Getenv("EPMCQUERY_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	// CLOUD_SQL_USER/CLOUD_SQL_PASSWORD are read by the credential manager
	// as the last fallback, after --dbcreds.

	if v := os.Getenv("EPMCQUERY_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}

	if v := os.Getenv("EPMCQUERY_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EPMCQUERY_MAX_RETRIES: %w", err))
		} else {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("EPMCQUERY_GRACEFUL_EXIT"); v != "" {
		c.Retry.Graceful = strings.ToLower(v) == "true"
	}

	if v := os.Getenv("EPMCQUERY_REQUESTS_PER_MINUTE"); v != "" {
		var val int
		fmt.Sscanf(v, "%d", &val)
		if val >= 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if v := os.Getenv("EPMCQUERY_METRICS_FILE"); v != "" {
		c.Metrics.TextfilePath = v
	}

	if v := os.Getenv("EPMCQUERY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".epmcquery.yaml",
		".epmcquery.yml",
		filepath.Join(home, ".config", "epmcquery", "config.yaml"),
		filepath.Join(home, ".config", "epmcquery", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// SetTarget splits an "instance/dbname" pair as accepted by --db.
func (d *DatabaseConfig) SetTarget(target string) {
	instance, name, found := strings.Cut(target, "/")
	d.Instance = instance
	if found {
		d.Name = name
	}
}

// IsNetworked reports whether the driver talks to a database server that
// needs credentials.
func (d *DatabaseConfig) IsNetworked() bool {
	return d.Driver == DriverMySQL || d.Driver == DriverCloudSQL
}

// Validate checks if the configuration is valid. Credentials are resolved
// separately and are not checked here.
func (c *Config) Validate() error {
	var errs []error

	if c.Search.BaseURL == "" {
		errs = append(errs, errors.New("search base URL is required"))
	}
	if c.Search.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Search.Limit < 0 {
		errs = append(errs, errors.New("limit cannot be negative"))
	}
	if len(c.Search.Fields) == 0 {
		errs = append(errs, errors.New("at least one output field is required"))
	}

	switch c.Database.Driver {
	case DriverMySQL, DriverCloudSQL:
		if c.Database.Instance == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database target must be given as instance/dbname"))
		}
	case DriverSQLite, DriverFile:
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("database path is required for driver %q", c.Database.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if !identifierPattern.MatchString(c.Database.Table) {
		errs = append(errs, fmt.Errorf("invalid checkpoint table name %q", c.Database.Table))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.PadWidth <= 0 {
		errs = append(errs, errors.New("pad width must be positive"))
	}
	if c.Output.ShardDepth < 0 || c.Output.ShardDepth > c.Output.PadWidth {
		errs = append(errs, fmt.Errorf("shard depth must be between 0 and %d", c.Output.PadWidth))
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Retry.MinDelay < 0 || c.Retry.MaxDelay < c.Retry.MinDelay {
		errs = append(errs, errors.New("retry delay window is invalid"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys are the long flag names; only flags the user actually set should be
// present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["accession-types"].(string); ok && v != "" {
		c.Search.AccessionTypesFile = v
	}
	if v, ok := flags["outdir"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["page-size"].(int); ok {
		c.Search.PageSize = v
	}
	if v, ok := flags["limit"].(int); ok {
		c.Search.Limit = v
	}
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.Search.BaseURL = v
	}

	if v, ok := flags["db"].(string); ok && v != "" {
		c.Database.SetTarget(v)
	}
	if v, ok := flags["db-driver"].(string); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := flags["db-path"].(string); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := flags["dbcreds"].(string); ok && v != "" {
		c.Database.CredentialsFile = v
	}
	if v, ok := flags["sqluser"].(string); ok && v != "" {
		c.Database.User = v
	}
	if v, ok := flags["sqlpass"].(string); ok && v != "" {
		c.Database.Password = v
	}
	if v, ok := flags["profile"].(string); ok && v != "" {
		c.Database.Profile = v
	}

	if v, ok := flags["shard-depth"].(int); ok {
		c.Output.ShardDepth = v
	}
	if v, ok := flags["max-retries"].(int); ok {
		c.Retry.MaxRetries = v
	}
	if v, ok := flags["graceful-exit"].(bool); ok {
		c.Retry.Graceful = v
	}
	if v, ok := flags["requests-per-minute"].(int); ok {
		c.RateLimit.RequestsPerMinute = v
	}
	if v, ok := flags["metrics-file"].(string); ok && v != "" {
		c.Metrics.TextfilePath = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".epmcquery.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
