package config

import (
	"testing"
	"time"

	"github.com/medview/pyraload/internal/bytesize"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected INFO log level, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected text format, got %s", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected stdout output, got %s", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected 30s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
	if cfg.Cache.MaxBytes != 512*bytesize.MiB {
		t.Errorf("Expected 512Mi cache budget, got %s", cfg.Cache.MaxBytes)
	}
	if cfg.Scheduler.RetryAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cfg.Scheduler.RetryAttempts)
	}
	if cfg.Scheduler.RetryDelay != time.Second {
		t.Errorf("Expected 1s retry delay, got %s", cfg.Scheduler.RetryDelay)
	}
	if cfg.Scheduler.Timeout != 30*time.Second {
		t.Errorf("Expected 30s request timeout, got %s", cfg.Scheduler.Timeout)
	}
	if cfg.Scheduler.WorkerPoolSize != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Scheduler.WorkerPoolSize)
	}
	if !cfg.Bandwidth.Adaptive {
		t.Error("Expected adaptive bandwidth by default")
	}
	if cfg.Bandwidth.SampleInterval != 30*time.Second {
		t.Errorf("Expected 30s sample interval, got %s", cfg.Bandwidth.SampleInterval)
	}
	if !cfg.Preload.Enabled {
		t.Error("Expected preloading enabled by default")
	}
	if cfg.Strategy.Default != "balanced" {
		t.Errorf("Expected balanced default strategy, got %s", cfg.Strategy.Default)
	}
	if len(cfg.Pyramid.Qualities) != 4 {
		t.Errorf("Expected 4 default quality levels, got %v", cfg.Pyramid.Qualities)
	}
	if cfg.Pyramid.CompressionFactor != 0.5 {
		t.Errorf("Expected 0.5 compression factor, got %f", cfg.Pyramid.CompressionFactor)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected API port 8080, got %d", cfg.API.Port)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Cache:   CacheConfig{MaxBytes: bytesize.GiB},
		Scheduler: SchedulerConfig{
			RetryAttempts: -1, // retries explicitly disabled
			Timeout:       5 * time.Second,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level normalized to DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Cache.MaxBytes != bytesize.GiB {
		t.Errorf("Explicit cache budget overwritten: %s", cfg.Cache.MaxBytes)
	}
	if cfg.Scheduler.RetryAttempts != -1 {
		t.Errorf("Explicit retry_attempts=-1 overwritten: %d", cfg.Scheduler.RetryAttempts)
	}
	if cfg.Scheduler.Timeout != 5*time.Second {
		t.Errorf("Explicit timeout overwritten: %s", cfg.Scheduler.Timeout)
	}

	// Untouched fields still get defaults.
	if cfg.Scheduler.RetryDelay != time.Second {
		t.Errorf("Expected default retry delay, got %s", cfg.Scheduler.RetryDelay)
	}
}
