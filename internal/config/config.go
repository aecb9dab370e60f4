package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Source   S3Config `yaml:"source"`
	Target   S3Config `yaml:"target"`
	Sync     Sync     `yaml:"sync"`
	LogLevel string   `yaml:"log_level"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Sync represents coordinator and mirror configuration
type Sync struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Concurrency     int    `yaml:"concurrency"`
	Retries         int    `yaml:"retries"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms"`
	SkipExisting    bool   `yaml:"skip_existing"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	DryRun          bool   `yaml:"dry_run"`
	History         string `yaml:"history"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// Timeout is the per-run provider timeout; zero disables it
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

// Interval is the watch-mode trigger period; zero means one-shot
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// RetryBackoff is the initial per-object retry backoff
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Sync.RetryBackoffMs) * time.Millisecond
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Sync: Sync{
			Concurrency:    16,
			Retries:        5,
			RetryBackoffMs: 500,
			SkipExisting:   true,
			History:        "./syncd.db",
			MetricsAddr:    ":8080",
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("src-endpoint") {
		cfg.Source.Endpoint, _ = flags.GetString("src-endpoint")
	}
	if flags.Changed("src-access-key") {
		cfg.Source.AccessKey, _ = flags.GetString("src-access-key")
	}
	if flags.Changed("src-secret-key") {
		cfg.Source.SecretKey, _ = flags.GetString("src-secret-key")
	}
	if flags.Changed("src-secure") {
		cfg.Source.Secure, _ = flags.GetBool("src-secure")
	}

	if flags.Changed("dst-endpoint") {
		cfg.Target.Endpoint, _ = flags.GetString("dst-endpoint")
	}
	if flags.Changed("dst-access-key") {
		cfg.Target.AccessKey, _ = flags.GetString("dst-access-key")
	}
	if flags.Changed("dst-secret-key") {
		cfg.Target.SecretKey, _ = flags.GetString("dst-secret-key")
	}
	if flags.Changed("dst-secure") {
		cfg.Target.Secure, _ = flags.GetBool("dst-secure")
	}

	if flags.Changed("bucket") {
		cfg.Sync.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("prefix") {
		cfg.Sync.Prefix, _ = flags.GetString("prefix")
	}
	if flags.Changed("concurrency") {
		cfg.Sync.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("retries") {
		cfg.Sync.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Sync.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("skip-existing") {
		cfg.Sync.SkipExisting, _ = flags.GetBool("skip-existing")
	}
	if flags.Changed("timeout") {
		cfg.Sync.TimeoutSeconds, _ = flags.GetInt("timeout")
	}
	if flags.Changed("interval") {
		cfg.Sync.IntervalSeconds, _ = flags.GetInt("interval")
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("history") {
		cfg.Sync.History, _ = flags.GetString("history")
	}
	if flags.Changed("metrics-addr") {
		cfg.Sync.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	// A dry run uses the simulated provider and never touches the
	// endpoints, so credentials are not required.
	if !c.Sync.DryRun {
		if c.Source.Endpoint == "" {
			return fmt.Errorf("source endpoint is required")
		}
		if c.Source.AccessKey == "" {
			return fmt.Errorf("source access key is required")
		}
		if c.Source.SecretKey == "" {
			return fmt.Errorf("source secret key is required")
		}

		if c.Target.Endpoint == "" {
			return fmt.Errorf("target endpoint is required")
		}
		if c.Target.AccessKey == "" {
			return fmt.Errorf("target access key is required")
		}
		if c.Target.SecretKey == "" {
			return fmt.Errorf("target secret key is required")
		}

		if c.Sync.Bucket == "" {
			return fmt.Errorf("bucket is required")
		}
	}

	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Sync.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.Sync.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.Sync.IntervalSeconds < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if c.Sync.History == "" {
		return fmt.Errorf("history database path is required")
	}

	return nil
}
