package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/medview/pyraload/internal/api"
	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/internal/telemetry"
	"github.com/medview/pyraload/pkg/config"
	"github.com/medview/pyraload/pkg/fetch"
	"github.com/medview/pyraload/pkg/loader"
	"github.com/medview/pyraload/pkg/metrics"
	"github.com/spf13/cobra"

	// Import prometheus metrics to register init() functions
	_ "github.com/medview/pyraload/pkg/metrics/prometheus"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pyraload server",
	Long: `Start the pyraload server with the specified configuration.

The server exposes the viewer-facing HTTP API: pyramid registration,
progressive image loads (single response or SSE stream), preload hints,
strategy and bandwidth profile management, cache control, and statistics.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/pyraload/config.yaml.

Examples:
  # Start with default config location
  pyraload serve

  # Start with custom config file
  pyraload serve --config /etc/pyraload/config.yaml

  # Pick up hot-reloadable config edits without restarting
  pyraload serve --watch

  # Start with environment variable overrides
  PYRALOAD_LOGGING_LEVEL=DEBUG pyraload serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", false, "Watch the config file and apply hot-reloadable changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "pyraload",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "pyraload",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("Pyraload - Adaptive progressive image loading engine")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics FIRST so the constructors registered by the
	// prometheus subpackage see an enabled registry
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Wire the byte transports behind level locators
	fetcher, err := buildFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	// Assemble the loading engine
	svc, err := loader.New(cfg, fetcher, loader.Options{
		CacheMetrics:     metrics.NewCacheMetrics(),
		SchedulerMetrics: metrics.NewSchedulerMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to create loading engine: %w", err)
	}
	svc.Start(ctx)
	defer svc.Close()

	logger.Info("Loading engine started",
		"cache_budget", cfg.Cache.MaxBytes,
		"workers", cfg.Scheduler.WorkerPoolSize,
		"adaptive", cfg.Bandwidth.Adaptive,
		"strategy", cfg.Strategy.Default)

	// Apply hot-reloadable config edits while running
	if watchConfig {
		configPath := GetConfigFile()
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		if err := config.Watch(configPath, func(next *config.Config) {
			svc.ApplyConfig(next)
			logger.SetLevel(next.Logging.Level)
		}); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		logger.Info("Config watcher started", "path", configPath)
	}

	// Start API server in background
	apiServer := api.NewServer(cfg.API, svc)
	logger.Info("API server configured", "host", cfg.API.Host, "port", cfg.API.Port)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// buildFetcher assembles the locator-scheme router: http/https always, s3
// when configured.
func buildFetcher(ctx context.Context, cfg *config.Config) (fetch.Fetcher, error) {
	router := fetch.NewRouter()

	var client *http.Client
	if cfg.Fetch.HTTPTimeout > 0 {
		client = &http.Client{Timeout: cfg.Fetch.HTTPTimeout}
	}
	httpFetcher := fetch.NewHTTPFetcher(client)
	router.Register("http", httpFetcher)
	router.Register("https", httpFetcher)

	if cfg.Fetch.S3.Enabled {
		s3Fetcher, err := fetch.NewS3FetcherFromConfig(ctx, fetch.S3Config{
			Region:         cfg.Fetch.S3.Region,
			Endpoint:       cfg.Fetch.S3.Endpoint,
			ForcePathStyle: cfg.Fetch.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 fetcher: %w", err)
		}
		router.Register("s3", s3Fetcher)
		logger.Info("S3 transport enabled", "region", cfg.Fetch.S3.Region, "endpoint", cfg.Fetch.S3.Endpoint)
	}

	return router, nil
}
