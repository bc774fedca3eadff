package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/blobspace/pkg/conversion"
	"github.com/marmos91/blobspace/pkg/reconcile"
	"github.com/marmos91/blobspace/pkg/space"
)

// Config represents the complete blobspace configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (BLOBSPACE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Config
// struct carries one option map per store type and only the map matching
// the selected type is decoded (see CreateMetadataStore, CreateContentStore).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metadata selects and configures the metadata store
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Content selects and configures the content store
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Storage tunes the engine shared by every space
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Spaces lists the storage spaces served by this process
	Spaces []space.Settings `mapstructure:"spaces" yaml:"spaces" validate:"required,min=1,dive"`

	// Reconcile configures the background loops
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`

	// Conversion configures the variant conversion pipeline
	Conversion ConversionConfig `mapstructure:"conversion" yaml:"conversion"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port of the metrics HTTP server
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// MetadataConfig specifies metadata store configuration.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger, sql
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger sql"`

	// Memory contains memory-specific configuration (currently none)
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// SQL contains database/sql configuration (dialect, dsn, ...)
	// Only used when Type = "sql"
	SQL map[string]any `mapstructure:"sql" yaml:"sql,omitempty"`
}

// ContentConfig specifies content store configuration.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// Memory contains memory-specific configuration (currently none)
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// StorageConfig tunes the engine.
type StorageConfig struct {
	// Node names this process in variant claims. Empty selects a random id.
	Node string `mapstructure:"node" yaml:"node"`

	// Retry and conversion timings of the engine
	space.Options `mapstructure:",squash" yaml:",inline"`
}

// ReconcileConfig configures the background loops.
type ReconcileConfig struct {
	reconcile.Config `mapstructure:",squash" yaml:",inline"`

	// TouchFlushRate bounds the touch updates issued per second (0 = unlimited)
	TouchFlushRate uint `mapstructure:"touch_flush_rate" yaml:"touch_flush_rate"`
}

// ConversionConfig configures the variant conversion pipeline.
type ConversionConfig struct {
	// Enabled makes this process convert variants. Without it, requesting a
	// missing variant fails with a conversion-disabled error.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	conversion.Config `mapstructure:",squash" yaml:",inline"`

	// ZstdLevel is the level of the built-in "zstd" converter
	ZstdLevel string `mapstructure:"zstd_level" yaml:"zstd_level" validate:"omitempty,oneof=fastest default better best"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BLOBSPACE_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location. A missing file is not
// an error: the defaults are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Example: BLOBSPACE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BLOBSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind the scalar keys so that they can be set from the environment
	// without a config file.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.shutdown_timeout", "server.metrics.enabled", "server.metrics.port",
		"metadata.type", "content.type", "storage.node",
		"reconcile.enabled", "conversion.enabled",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/blobspace/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blobspace")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "blobspace")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
