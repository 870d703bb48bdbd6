// Package config loads relief configuration from YAML, environment
// variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/relief/pkg/db"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultTimeout         = 5 * time.Minute
	DefaultOutputFormat    = OutputFormatText
	DefaultConfigDir       = ".relief"
	DefaultConfigFile      = "config.yaml"
	DefaultMetricsAddress  = ":9090"
	DefaultGRPCAddress     = ":50051"
	DefaultSweepInterval   = 30 * time.Second
	DefaultMaxConcurrency  = 8
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStaleAfter      = 15 * time.Minute
)

// DatabaseConfig holds report store connection settings.
type DatabaseConfig struct {
	// URL overrides the discrete fields. DATABASE_URL sets it.
	URL      string `yaml:"url,omitempty"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// DBConfig converts to a pkg/db configuration.
func (d DatabaseConfig) DBConfig() *db.Config {
	cfg := db.DefaultConfig()
	cfg.URL = d.URL
	if d.Host != "" {
		cfg.Host = d.Host
	}
	if d.Port != 0 {
		cfg.Port = d.Port
	}
	if d.Name != "" {
		cfg.Database = d.Name
	}
	if d.User != "" {
		cfg.User = d.User
	}
	cfg.Password = d.Password
	if d.SSLMode != "" {
		cfg.SSLMode = d.SSLMode
	}
	if d.MaxConns > 0 {
		cfg.MaxConns = d.MaxConns
	}
	if d.MinConns > 0 {
		cfg.MinConns = d.MinConns
	}
	return cfg
}

// IsConfigured reports whether a Postgres store is configured. Without
// one the CLI runs against an in-memory store.
func (d DatabaseConfig) IsConfigured() bool {
	return d.URL != "" || d.Host != ""
}

// RedisConfig holds event publisher settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// ClassifierConfig selects the classification backend.
type ClassifierConfig struct {
	Backend           string        `yaml:"backend"`
	BaseURL           string        `yaml:"base_url,omitempty"`
	Model             string        `yaml:"model,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
}

// ClassificationConfig converts to a classification.Config. apiKey comes
// from the credentials store.
func (c ClassifierConfig) ClassificationConfig(apiKey string) classification.Config {
	return classification.Config{
		Backend:           c.Backend,
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		APIKey:            apiKey,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
	}
}

// PipelineConfig tunes batch processing.
type PipelineConfig struct {
	// MaxConcurrency bounds in-flight reports per batch. 0 is unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`
	// SweepInterval is how often `serve` processes Pending reports.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// StaleAfter is how long a report may sit in Processing before the
	// sweeper marks it Failed. 0 disables recovery.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// ServerConfig holds `relief serve` listener settings.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metrics_address"`
	GRPCAddress     string        `yaml:"grpc_address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuditConfig controls the command audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// DSN defaults to the report store connection.
	DSN string `yaml:"dsn,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds the relief configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Server     ServerConfig     `yaml:"server"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Timeout bounds a single CLI command.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	cls := classification.DefaultConfig()
	return &Config{
		Redis: RedisConfig{Address: "localhost:6379"},
		Classifier: ClassifierConfig{
			Backend:           cls.Backend,
			Model:             cls.Model,
			Timeout:           cls.Timeout,
			RequestsPerMinute: cls.RequestsPerMinute,
			Burst:             cls.Burst,
		},
		Pipeline: PipelineConfig{
			MaxConcurrency: DefaultMaxConcurrency,
			SweepInterval:  DefaultSweepInterval,
			StaleAfter:     DefaultStaleAfter,
		},
		Server: ServerConfig{
			MetricsAddress:  DefaultMetricsAddress,
			GRPCAddress:     DefaultGRPCAddress,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Logging:      LoggingConfig{Level: "info"},
		Timeout:      DefaultTimeout,
		OutputFormat: DefaultOutputFormat,
	}
}

// AuditDSN returns the audit log connection string.
func (c *Config) AuditDSN() string {
	if c.Audit.DSN != "" {
		return c.Audit.DSN
	}
	if !c.Database.IsConfigured() {
		return ""
	}
	return c.Database.DBConfig().ConnectionString()
}

// ConfigDir returns $RELIEF_CONFIG_DIR, or ~/.relief.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RELIEF_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads configuration from the default path.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom loads configuration in this order, later sources
// overriding earlier ones:
// 1. Default values
// 2. The YAML file at path, if it exists
// 3. RELIEF_* environment variables and DATABASE_URL
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Durations are strings in YAML.
type classifierFile struct {
	Backend           string `yaml:"backend,omitempty"`
	BaseURL           string `yaml:"base_url,omitempty"`
	Model             string `yaml:"model,omitempty"`
	Timeout           string `yaml:"timeout,omitempty"`
	RequestsPerMinute int    `yaml:"requests_per_minute,omitempty"`
	Burst             int    `yaml:"burst,omitempty"`
}

type pipelineFile struct {
	MaxConcurrency *int   `yaml:"max_concurrency,omitempty"`
	SweepInterval  string `yaml:"sweep_interval,omitempty"`
	StaleAfter     string `yaml:"stale_after,omitempty"`
}

type serverFile struct {
	MetricsAddress  string `yaml:"metrics_address,omitempty"`
	GRPCAddress     string `yaml:"grpc_address,omitempty"`
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

type configFile struct {
	Database     DatabaseConfig `yaml:"database"`
	Redis        RedisConfig    `yaml:"redis"`
	Classifier   classifierFile `yaml:"classifier"`
	Pipeline     pipelineFile   `yaml:"pipeline"`
	Server       serverFile     `yaml:"server"`
	Audit        AuditConfig    `yaml:"audit"`
	Logging      LoggingConfig  `yaml:"logging"`
	Timeout      string         `yaml:"timeout,omitempty"`
	OutputFormat OutputFormat   `yaml:"output_format,omitempty"`
	Debug        bool           `yaml:"debug,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Database = mergeDatabase(cfg.Database, f.Database)
	if f.Redis.Address != "" {
		cfg.Redis.Address = f.Redis.Address
	}
	cfg.Redis.Enabled = f.Redis.Enabled
	cfg.Redis.Password = f.Redis.Password
	cfg.Redis.DB = f.Redis.DB

	if f.Classifier.Backend != "" {
		cfg.Classifier.Backend = f.Classifier.Backend
	}
	if f.Classifier.BaseURL != "" {
		cfg.Classifier.BaseURL = f.Classifier.BaseURL
	}
	if f.Classifier.Model != "" {
		cfg.Classifier.Model = f.Classifier.Model
	}
	if err := setDuration(&cfg.Classifier.Timeout, f.Classifier.Timeout, "classifier.timeout"); err != nil {
		return err
	}
	if f.Classifier.RequestsPerMinute != 0 {
		cfg.Classifier.RequestsPerMinute = f.Classifier.RequestsPerMinute
	}
	if f.Classifier.Burst != 0 {
		cfg.Classifier.Burst = f.Classifier.Burst
	}

	if f.Pipeline.MaxConcurrency != nil {
		cfg.Pipeline.MaxConcurrency = *f.Pipeline.MaxConcurrency
	}
	if err := setDuration(&cfg.Pipeline.SweepInterval, f.Pipeline.SweepInterval, "pipeline.sweep_interval"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Pipeline.StaleAfter, f.Pipeline.StaleAfter, "pipeline.stale_after"); err != nil {
		return err
	}

	if f.Server.MetricsAddress != "" {
		cfg.Server.MetricsAddress = f.Server.MetricsAddress
	}
	if f.Server.GRPCAddress != "" {
		cfg.Server.GRPCAddress = f.Server.GRPCAddress
	}
	if err := setDuration(&cfg.Server.ShutdownTimeout, f.Server.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
		return err
	}

	cfg.Audit = f.Audit
	if f.Logging.Level != "" {
		cfg.Logging.Level = f.Logging.Level
	}
	cfg.Logging.JSON = f.Logging.JSON

	if err := setDuration(&cfg.Timeout, f.Timeout, "timeout"); err != nil {
		return err
	}
	if f.OutputFormat != "" {
		cfg.OutputFormat = f.OutputFormat
	}
	cfg.Debug = f.Debug

	return nil
}

func mergeDatabase(base, f DatabaseConfig) DatabaseConfig {
	if f.URL != "" {
		base.URL = f.URL
	}
	if f.Host != "" {
		base.Host = f.Host
	}
	if f.Port != 0 {
		base.Port = f.Port
	}
	if f.Name != "" {
		base.Name = f.Name
	}
	if f.User != "" {
		base.User = f.User
	}
	if f.Password != "" {
		base.Password = f.Password
	}
	if f.SSLMode != "" {
		base.SSLMode = f.SSLMode
	}
	if f.MaxConns != 0 {
		base.MaxConns = f.MaxConns
	}
	if f.MinConns != 0 {
		base.MinConns = f.MinConns
	}
	return base
}

func setDuration(dst *time.Duration, value, name string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
// Malformed numbers and durations are errors rather than being ignored.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	setString(&cfg.Database.Host, "RELIEF_DATABASE_HOST")
	setString(&cfg.Database.Name, "RELIEF_DATABASE_NAME")
	setString(&cfg.Database.User, "RELIEF_DATABASE_USER")
	setString(&cfg.Database.Password, "RELIEF_DATABASE_PASSWORD")
	setString(&cfg.Database.SSLMode, "RELIEF_DATABASE_SSLMODE")
	if err := setInt(&cfg.Database.Port, "RELIEF_DATABASE_PORT"); err != nil {
		return err
	}

	setString(&cfg.Redis.Address, "RELIEF_REDIS_ADDRESS")
	setString(&cfg.Redis.Password, "RELIEF_REDIS_PASSWORD")
	setBool(&cfg.Redis.Enabled, "RELIEF_REDIS_ENABLED")

	setString(&cfg.Classifier.Backend, "RELIEF_CLASSIFIER_BACKEND")
	setString(&cfg.Classifier.BaseURL, "RELIEF_CLASSIFIER_BASE_URL")
	setString(&cfg.Classifier.Model, "RELIEF_CLASSIFIER_MODEL")
	if err := setEnvDuration(&cfg.Classifier.Timeout, "RELIEF_CLASSIFIER_TIMEOUT"); err != nil {
		return err
	}

	if err := setInt(&cfg.Pipeline.MaxConcurrency, "RELIEF_MAX_CONCURRENCY"); err != nil {
		return err
	}
	if err := setEnvDuration(&cfg.Pipeline.SweepInterval, "RELIEF_SWEEP_INTERVAL"); err != nil {
		return err
	}
	if err := setEnvDuration(&cfg.Pipeline.StaleAfter, "RELIEF_STALE_AFTER"); err != nil {
		return err
	}

	setString(&cfg.Server.MetricsAddress, "RELIEF_METRICS_ADDRESS")
	setString(&cfg.Server.GRPCAddress, "RELIEF_GRPC_ADDRESS")

	setBool(&cfg.Audit.Enabled, "RELIEF_AUDIT_ENABLED")
	setString(&cfg.Logging.Level, "RELIEF_LOG_LEVEL")

	if err := setEnvDuration(&cfg.Timeout, "RELIEF_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("RELIEF_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	setBool(&cfg.Debug, "RELIEF_DEBUG")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		*dst = true
	case "false", "0", "no":
		*dst = false
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setEnvDuration(dst *time.Duration, key string) error {
	return setDuration(dst, os.Getenv(key), key)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Classifier.Backend {
	case classification.BackendRules:
	case classification.BackendRemote:
		if c.Classifier.BaseURL == "" {
			return fmt.Errorf("classifier.base_url is required for the remote backend")
		}
	default:
		return fmt.Errorf("invalid classifier.backend: %q (must be rules or remote)", c.Classifier.Backend)
	}

	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be positive")
	}
	if c.Pipeline.MaxConcurrency < 0 {
		return fmt.Errorf("pipeline.max_concurrency must not be negative")
	}
	if c.Pipeline.SweepInterval <= 0 {
		return fmt.Errorf("pipeline.sweep_interval must be positive")
	}
	if c.Pipeline.StaleAfter < 0 {
		return fmt.Errorf("pipeline.stale_after must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		return fmt.Errorf("database connection limits must not be negative")
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	if out.Database.URL != "" {
		out.Database.URL = redactURL(out.Database.URL)
	}
	return &out
}

// redactURL masks the password in a postgres:// URL.
func redactURL(u string) string {
	scheme := strings.Index(u, "://")
	at := strings.LastIndex(u, "@")
	if scheme < 0 || at < scheme {
		return u
	}
	userinfo := u[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		return u[:scheme+3] + userinfo[:colon] + ":********" + u[at:]
	}
	return u
}

// SaveConfig writes cfg to the default config file.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}
	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes cfg to path.
func SaveConfigTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f := toFile(cfg)
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// MarshalYAML writes durations as strings, matching the file format.
func (c *Config) MarshalYAML() (interface{}, error) {
	return toFile(c), nil
}

func toFile(cfg *Config) configFile {
	maxConcurrency := cfg.Pipeline.MaxConcurrency
	return configFile{
		Database: cfg.Database,
		Redis:    cfg.Redis,
		Classifier: classifierFile{
			Backend:           cfg.Classifier.Backend,
			BaseURL:           cfg.Classifier.BaseURL,
			Model:             cfg.Classifier.Model,
			Timeout:           cfg.Classifier.Timeout.String(),
			RequestsPerMinute: cfg.Classifier.RequestsPerMinute,
			Burst:             cfg.Classifier.Burst,
		},
		Pipeline: pipelineFile{
			MaxConcurrency: &maxConcurrency,
			SweepInterval:  cfg.Pipeline.SweepInterval.String(),
			StaleAfter:     cfg.Pipeline.StaleAfter.String(),
		},
		Server: serverFile{
			MetricsAddress:  cfg.Server.MetricsAddress,
			GRPCAddress:     cfg.Server.GRPCAddress,
			ShutdownTimeout: cfg.Server.ShutdownTimeout.String(),
		},
		Audit:        cfg.Audit,
		Logging:      cfg.Logging,
		Timeout:      cfg.Timeout.String(),
		OutputFormat: cfg.OutputFormat,
		Debug:        cfg.Debug,
	}
}
