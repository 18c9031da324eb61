package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig holds the per-portal settings a collector is constructed with.
type SourceConfig struct {
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	TimeoutSec     int     `yaml:"timeout_sec" json:"timeout_sec"`
	MaxPages       int     `yaml:"max_pages" json:"max_pages"`
	RequestsPerSec float64 `yaml:"requests_per_sec" json:"requests_per_sec"`
}

func (s SourceConfig) Timeout() time.Duration { return time.Duration(s.TimeoutSec) * time.Second }

// Config represents the complete configuration for the blacktide daemon
type Config struct {
	// Sources
	Regtech  SourceConfig `yaml:"regtech" json:"regtech"`
	Secudium SourceConfig `yaml:"secudium" json:"secudium"`

	// Credential store
	CredFile    string `yaml:"cred_file" json:"cred_file"`
	CredKeyFile string `yaml:"cred_key_file" json:"cred_key_file"`

	// Cache
	RedisAddr        string `yaml:"redis_addr" json:"redis_addr"`
	CacheCapacity    int    `yaml:"cache_capacity" json:"cache_capacity"`
	CacheTTLSec      int    `yaml:"cache_ttl_sec" json:"cache_ttl_sec"`
	DedupTTLHours    int    `yaml:"dedup_ttl_hours" json:"dedup_ttl_hours"`
	TriggerQueueKey  string `yaml:"trigger_queue_key" json:"trigger_queue_key"`
	TriggerQueueAddr string `yaml:"trigger_queue_addr" json:"trigger_queue_addr"`

	// Storage
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`

	// Export
	ExportEndpoint string `yaml:"export_endpoint" json:"export_endpoint"`
	SpoolDir       string `yaml:"spool_dir" json:"spool_dir"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Regtech.BaseURL == "" {
		c.Regtech.BaseURL = "https://regtech.fsec.or.kr"
	}
	if c.Secudium.BaseURL == "" {
		c.Secudium.BaseURL = "https://secudium.igloosec.com"
	}
	for _, s := range []*SourceConfig{&c.Regtech, &c.Secudium} {
		if s.TimeoutSec == 0 {
			s.TimeoutSec = 30
		}
		if s.MaxPages == 0 {
			s.MaxPages = 100
		}
		if s.RequestsPerSec == 0 {
			s.RequestsPerSec = 2.0
		}
	}
	if c.CredFile == "" {
		c.CredFile = "credentials.enc"
	}
	if c.CredKeyFile == "" {
		c.CredKeyFile = "credentials.key"
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 4096
	}
	if c.CacheTTLSec == 0 {
		c.CacheTTLSec = 300
	}
	if c.DedupTTLHours == 0 {
		c.DedupTTLHours = 72
	}
	if c.TriggerQueueKey == "" {
		c.TriggerQueueKey = "blacktide:triggers"
	}
	if c.SpoolDir == "" {
		c.SpoolDir = "spool"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "blacktide"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CredFile == "" || c.CredKeyFile == "" {
		return fmt.Errorf("credential container and key file paths are required")
	}
	for name, s := range map[string]SourceConfig{"regtech": c.Regtech, "secudium": c.Secudium} {
		if s.BaseURL == "" {
			return fmt.Errorf("%s base_url is required", name)
		}
		if s.MaxPages < 1 {
			return fmt.Errorf("%s max_pages must be at least 1", name)
		}
		if s.TimeoutSec < 1 {
			return fmt.Errorf("%s timeout_sec must be at least 1", name)
		}
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration.
// Command-line flags take precedence over file configuration.
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["cred_file"].(string); ok && v != "" {
		c.CredFile = v
	}
	if v, ok := flags["cred_key_file"].(string); ok && v != "" {
		c.CredKeyFile = v
	}
	if v, ok := flags["redis_addr"].(string); ok && v != "" {
		c.RedisAddr = v
	}
	if v, ok := flags["postgres_dsn"].(string); ok && v != "" {
		c.PostgresDSN = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["export_endpoint"].(string); ok && v != "" {
		c.ExportEndpoint = v
	}
	if v, ok := flags["spool_dir"].(string); ok && v != "" {
		c.SpoolDir = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("TRIGGER_QUEUE_ADDR"); v != "" {
		c.TriggerQueueAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
}
