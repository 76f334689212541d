package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/medview/pyraload/internal/bytesize"
)

// Config represents the pyraload configuration.
//
// This structure captures the static configuration of the loading engine:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Metrics and API server settings
//   - Cache byte budget
//   - Scheduler tunables (retries, timeouts, worker pool)
//   - Bandwidth adaptation and preload behavior
//   - Pyramid construction parameters
//   - Fetch transport settings (HTTP, S3)
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PYRALOAD_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the HTTP facade server configuration
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Cache bounds the in-memory level payload cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Scheduler tunes the load scheduler
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`

	// Bandwidth controls bandwidth monitoring and adaptive strategy selection
	Bandwidth BandwidthConfig `mapstructure:"bandwidth" yaml:"bandwidth"`

	// Preload controls neighbor warming during navigation
	Preload PreloadConfig `mapstructure:"preload" yaml:"preload"`

	// Pyramid controls pyramid construction
	Pyramid PyramidConfig `mapstructure:"pyramid" yaml:"pyramid"`

	// Strategy selects the loading strategy used when adaptation is off
	Strategy StrategyConfig `mapstructure:"strategy" yaml:"strategy"`

	// Fetch configures the byte transports behind level locators
	Fetch FetchConfig `mapstructure:"fetch" yaml:"fetch"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// APIConfig configures the HTTP facade server.
type APIConfig struct {
	// Host is the listen address
	// Default: "0.0.0.0"
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP listen port
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds request reading
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds response writing. Progressive-load responses stream
	// server-sent events, so this must comfortably exceed scheduler.timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// CacheConfig bounds the in-memory level payload cache.
type CacheConfig struct {
	// MaxBytes is the hard cache byte budget
	// Supports human-readable formats: "512Mi", "1Gi", "100MB"
	// Default: 512Mi
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" validate:"required,gt=0" yaml:"max_bytes"`
}

// SchedulerConfig tunes the load scheduler.
type SchedulerConfig struct {
	// RetryAttempts is the maximum number of retries per request
	// Default: 3. Set to -1 to disable retries.
	RetryAttempts int `mapstructure:"retry_attempts" validate:"gte=-1" yaml:"retry_attempts"`

	// RetryDelay is the base backoff; attempt n waits retry_delay * 2^(n-1)
	// Default: 1s
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// Timeout bounds each individual fetch attempt
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// WorkerPoolSize is the number of background fetch workers
	// Default: 4
	WorkerPoolSize int `mapstructure:"worker_pool_size" validate:"omitempty,gte=1" yaml:"worker_pool_size"`

	// QueueSize is the dispatch channel capacity
	// Default: 1024
	QueueSize int `mapstructure:"queue_size" validate:"omitempty,gte=1" yaml:"queue_size"`
}

// BandwidthConfig controls bandwidth monitoring and adaptive strategy
// selection.
type BandwidthConfig struct {
	// Adaptive controls whether the active strategy follows the measured
	// bandwidth profile. When false the configured default strategy is used.
	// Default: true
	Adaptive bool `mapstructure:"adaptive" yaml:"adaptive"`

	// SampleInterval is the periodic sampling cadence
	// Default: 30s
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`

	// DefaultDownlinkMbps is assumed when no samples exist yet
	// Default: 10
	DefaultDownlinkMbps float64 `mapstructure:"default_downlink_mbps" validate:"omitempty,gt=0" yaml:"default_downlink_mbps"`

	// DefaultRTT is assumed when no samples exist yet
	// Default: 50ms
	DefaultRTT time.Duration `mapstructure:"default_rtt" yaml:"default_rtt"`
}

// PreloadConfig controls neighbor warming during navigation.
type PreloadConfig struct {
	// Enabled controls whether preloading runs at all
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Distance overrides the active strategy's preload distance when > 0
	Distance int `mapstructure:"distance" validate:"gte=0" yaml:"distance"`
}

// PyramidConfig controls pyramid construction.
type PyramidConfig struct {
	// Qualities are the quality levels derived for every registered image
	// Default: [25, 50, 75, 100]
	Qualities []int `mapstructure:"qualities" validate:"required,min=1,dive,min=1,max=100" yaml:"qualities"`

	// CompressionFactor estimates compressed level byte sizes
	// Default: 0.5
	CompressionFactor float64 `mapstructure:"compression_factor" validate:"omitempty,gt=0,lte=1" yaml:"compression_factor"`
}

// StrategyConfig selects the loading strategy used when bandwidth adaptation
// is disabled (and the fallback before the first sample arrives).
type StrategyConfig struct {
	// Default is the strategy name
	// Default: "balanced"
	Default string `mapstructure:"default" validate:"required" yaml:"default"`
}

// FetchConfig configures the byte transports behind level locators.
type FetchConfig struct {
	// HTTPTimeout bounds a single HTTP fetch at the transport level.
	// The scheduler's per-request timeout still applies on top.
	// Default: 0 (rely on the scheduler timeout)
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`

	// S3 configures the S3 transport for s3:// locators
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 transport.
type S3Config struct {
	// Enabled controls whether s3:// locators are routable
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Region is the AWS region (optional, uses SDK default if empty)
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PYRALOAD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions
// if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  pyraload init\n\n"+
				"Or specify a custom config file:\n"+
				"  pyraload <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  pyraload init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PYRALOAD_ prefix and underscores
	// Example: PYRALOAD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PYRALOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/pyraload/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pyraload")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "pyraload")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init
// command).
func GetConfigDir() string {
	return getConfigDir()
}
