// Package config loads runtime settings from an optional YAML file,
// BLOODBANK_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BLOODBANK_STORAGE_DRIVER.
const EnvPrefix = "BLOODBANK"

// Config holds all settings of the bloodbank service.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Allocation AllocationConfig `mapstructure:"allocation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ArchiveConfig selects where rejection summaries are copied.
type ArchiveConfig struct {
	Driver string   `mapstructure:"driver"`
	Prefix string   `mapstructure:"prefix"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config holds the S3 archive bucket settings.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AllocationConfig tunes the allocation engine and conflict retries.
type AllocationConfig struct {
	BatchSize                int           `mapstructure:"batch_size"`
	MaxAttempts              int           `mapstructure:"max_attempts"`
	RetryBackoff             time.Duration `mapstructure:"retry_backoff"`
	SingleRejectionSummaries bool          `mapstructure:"single_rejection_summaries"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig controls the OpenTelemetry provider.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load reads configuration. An empty path searches ./bloodbank.yaml,
// ./config/bloodbank.yaml and /etc/bloodbank/bloodbank.yaml; a missing file
// is not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bloodbank")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bloodbank")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "bloodbank.db")
	v.SetDefault("storage.postgres_dsn", "postgres://localhost/bloodbank?sslmode=disable")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "rejections")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.path_style", false)
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")

	v.SetDefault("allocation.batch_size", 10)
	v.SetDefault("allocation.max_attempts", 3)
	v.SetDefault("allocation.retry_backoff", 25*time.Millisecond)
	v.SetDefault("allocation.single_rejection_summaries", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate checks enumerations and numeric bounds.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case "none", "memory":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return errors.New("archive.s3.bucket required when archive.driver is s3")
		}
	default:
		return fmt.Errorf("archive.driver must be none, memory or s3, got %q", c.Archive.Driver)
	}
	if c.Allocation.BatchSize <= 0 {
		return fmt.Errorf("allocation.batch_size must be positive, got %d", c.Allocation.BatchSize)
	}
	if c.Allocation.MaxAttempts <= 0 {
		return fmt.Errorf("allocation.max_attempts must be positive, got %d", c.Allocation.MaxAttempts)
	}
	if c.Allocation.RetryBackoff < 0 {
		return fmt.Errorf("allocation.retry_backoff must not be negative, got %s", c.Allocation.RetryBackoff)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}
