// Package main provides the Spanlight server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	CodeSearch CodeSearchConfig `yaml:"codesearch"`
	Tuning     TuningConfig     `yaml:"tuning"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Verbose    bool             `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Address             string        `yaml:"address"`                // HTTP listen address (default: :8080)
	TokenTTL            time.Duration `yaml:"token_ttl"`              // JWT lifetime (default: 1h)
	RateLimitPerIP      int           `yaml:"rate_limit_per_ip"`      // token exchanges per window
	RateLimitPerProject int           `yaml:"rate_limit_per_project"` // API requests per window
	MaxQueryRange       time.Duration `yaml:"max_query_range"`        // max span query window (default: 24h)
	QueryTimeout        time.Duration `yaml:"query_timeout"`          // storage-backed call timeout
	InvestigateTimeout  time.Duration `yaml:"investigate_timeout"`    // ad-hoc investigation timeout
	TLS                 TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS settings for the API server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file path (default: data/spanlight.db)
}

// ClickHouseConfig contains span store settings.
type ClickHouseConfig struct {
	Enabled       bool         `yaml:"enabled"`
	Addresses     []string     `yaml:"addresses"` // host:port list (default: localhost:9000)
	Database      string       `yaml:"database"`  // default: spanlight
	Username      string       `yaml:"username"`
	Password      string       `yaml:"password"`
	Compression   bool         `yaml:"compression"`
	RetentionDays int          `yaml:"retention_days"` // span TTL (default: 30)
	Buffer        BufferConfig `yaml:"buffer"`
}

// BufferConfig contains span write buffer settings.
type BufferConfig struct {
	BatchSize     int           `yaml:"batch_size"`     // spans per insert (default: 1000)
	FlushInterval time.Duration `yaml:"flush_interval"` // max time before a flush (default: 2s)
	MaxSize       int           `yaml:"max_size"`       // buffered span cap (default: 100000)
}

// RedisConfig contains notification dedup settings. Disabled means
// single-instance dedup (in-process only).
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"` // host:port (default: localhost:6379)
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AlertingConfig contains evaluation loop settings.
type AlertingConfig struct {
	Interval             time.Duration `yaml:"interval"`               // per-alert tick (default: 15s)
	Refresh              time.Duration `yaml:"refresh"`                // alert set reload (default: 30s)
	MaxInvestigations    int           `yaml:"max_investigations"`     // concurrent investigation cap
	TriggerRetentionDays int           `yaml:"trigger_retention_days"` // trigger history TTL (default: 90)
}

// CodeSearchConfig contains the external code-search collaborator
// settings. An empty endpoint disables semantic scoring.
type CodeSearchConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// TuningConfig points at the hot-reloaded analysis tuning file.
type TuningConfig struct {
	Path string `yaml:"path"` // empty serves built-in defaults
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default: :9090
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/spanlight.db"
	}
	if len(c.ClickHouse.Addresses) == 0 {
		c.ClickHouse.Addresses = []string{"localhost:9000"}
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "spanlight"
	}
	if c.ClickHouse.RetentionDays == 0 {
		c.ClickHouse.RetentionDays = 30
	}
	if c.ClickHouse.Buffer.BatchSize == 0 {
		c.ClickHouse.Buffer.BatchSize = 1000
	}
	if c.ClickHouse.Buffer.FlushInterval == 0 {
		c.ClickHouse.Buffer.FlushInterval = 2 * time.Second
	}
	if c.ClickHouse.Buffer.MaxSize == 0 {
		c.ClickHouse.Buffer.MaxSize = 100000
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Alerting.TriggerRetentionDays == 0 {
		c.Alerting.TriggerRetentionDays = 90
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("clickhouse.addresses is required when ClickHouse is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when Redis is enabled")
	}
	if c.Alerting.TriggerRetentionDays < 0 {
		return fmt.Errorf("alerting.trigger_retention_days cannot be negative")
	}
	return nil
}
