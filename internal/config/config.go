package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Duration wraps time.Duration so values like "200ms" or "10s" parse from
// YAML, which has no native duration scalar.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Queues    QueuesConfig    `yaml:"queues"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Origin    OriginConfig    `yaml:"origin"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ProxyConfig holds the range-streaming proxy and upstream fetcher settings
type ProxyConfig struct {
	// AllowedOrigins is the host allow-list for stream sources. A request
	// whose src host is not listed is rejected before any upstream call.
	AllowedOrigins   []string `yaml:"allowed_origins"`
	DefaultChunkSize int64    `yaml:"default_chunk_size"`
	MaxRedirects     int      `yaml:"max_redirects"`
	MaxRetries       int      `yaml:"max_retries"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
	AttemptTimeout   Duration `yaml:"attempt_timeout"`
}

// FallbackConfig holds local fallback store settings
type FallbackConfig struct {
	Root           string `yaml:"root"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// QueuesConfig holds job queue settings shared by all queue instances
type QueuesConfig struct {
	RetentionLimit     int      `yaml:"retention_limit"`
	DefaultMaxAttempts int      `yaml:"default_max_attempts"`
	WorkDelay          Duration `yaml:"work_delay"`
}

// AnalyticsConfig holds the view-counting heuristic parameters
type AnalyticsConfig struct {
	// ViewCountRatio is the fraction of the declared duration a client
	// must have watched before a view counts.
	ViewCountRatio float64 `yaml:"view_count_ratio"`
	// MinViewSeconds applies when the declared duration is unknown.
	MinViewSeconds float64 `yaml:"min_view_seconds"`
}

// OriginConfig holds the S3 object-storage origin used by the ingest path.
// An empty bucket disables origin uploads.
type OriginConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisConfig holds the optional job-status notification channel.
// An empty DSN disables notifications.
type RedisConfig struct {
	DSN     string `yaml:"dsn"`
	Channel string `yaml:"channel"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if len(c.Proxy.AllowedOrigins) == 0 {
		return fmt.Errorf("proxy allowed_origins is required")
	}

	if c.Proxy.DefaultChunkSize <= 0 {
		return fmt.Errorf("proxy default_chunk_size must be greater than 0")
	}

	if c.Proxy.MaxRedirects < 0 {
		return fmt.Errorf("proxy max_redirects must not be negative")
	}

	if c.Proxy.MaxRetries < 0 {
		return fmt.Errorf("proxy max_retries must not be negative")
	}

	if c.Fallback.Root == "" {
		return fmt.Errorf("fallback root is required")
	}

	if c.Queues.RetentionLimit <= 0 {
		return fmt.Errorf("queues retention_limit must be greater than 0")
	}

	if c.Queues.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("queues default_max_attempts must be greater than 0")
	}

	if c.Analytics.ViewCountRatio <= 0 || c.Analytics.ViewCountRatio > 1 {
		return fmt.Errorf("analytics view_count_ratio must be in (0, 1]")
	}

	if c.Analytics.MinViewSeconds < 0 {
		return fmt.Errorf("analytics min_view_seconds must not be negative")
	}

	return nil
}
