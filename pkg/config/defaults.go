package config

import (
	"strings"
	"time"

	"github.com/medview/pyraload/internal/bytesize"
	"github.com/medview/pyraload/pkg/strategy"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible defaults.
//
// Default strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyCacheDefaults(&cfg.Cache)
	applySchedulerDefaults(&cfg.Scheduler)
	applyBandwidthDefaults(&cfg.Bandwidth)
	applyPyramidDefaults(&cfg.Pyramid)
	applyStrategyDefaults(&cfg.Strategy)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyAPIDefaults sets HTTP facade server defaults.
func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Progressive loads stream events; keep this well above the
		// scheduler's per-request timeout.
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyCacheDefaults sets cache defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	// Default budget is 512 MiB
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 512 * bytesize.MiB
	}
}

// applySchedulerDefaults sets scheduler defaults.
func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
}

// applyBandwidthDefaults sets bandwidth monitoring defaults.
//
// Adaptive defaults to true, but a bool zero value is indistinguishable from
// an explicit false, so the default is applied in GetDefaultConfig and by the
// serve command's flag default rather than here.
func applyBandwidthDefaults(cfg *BandwidthConfig) {
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 30 * time.Second
	}
	if cfg.DefaultDownlinkMbps == 0 {
		cfg.DefaultDownlinkMbps = 10
	}
	if cfg.DefaultRTT == 0 {
		cfg.DefaultRTT = 50 * time.Millisecond
	}
}

// applyPyramidDefaults sets pyramid construction defaults.
func applyPyramidDefaults(cfg *PyramidConfig) {
	if len(cfg.Qualities) == 0 {
		cfg.Qualities = []int{25, 50, 75, 100}
	}
	if cfg.CompressionFactor == 0 {
		cfg.CompressionFactor = 0.5
	}
}

// applyStrategyDefaults sets the fallback strategy.
func applyStrategyDefaults(cfg *StrategyConfig) {
	if cfg.Default == "" {
		cfg.Default = strategy.Balanced
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Bandwidth: BandwidthConfig{
			Adaptive: true,
		},
		Preload: PreloadConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
