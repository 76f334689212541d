// Package loader assembles the engine behind a single facade: pyramid
// construction, the budgeted cache, bandwidth monitoring, strategy selection,
// the load scheduler, and statistics.
//
// The facade owns strategy resolution. Precedence, highest first:
//
//  1. a manual override set via SetStrategy
//  2. the strategy suggested by the active bandwidth profile (adaptive mode)
//  3. the configured fallback strategy
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/internal/telemetry"
	"github.com/medview/pyraload/pkg/bandwidth"
	"github.com/medview/pyraload/pkg/cache"
	"github.com/medview/pyraload/pkg/config"
	"github.com/medview/pyraload/pkg/fetch"
	"github.com/medview/pyraload/pkg/pyramid"
	"github.com/medview/pyraload/pkg/scheduler"
	"github.com/medview/pyraload/pkg/stats"
	"github.com/medview/pyraload/pkg/strategy"
)

// Options carries the optional collaborators the service can be built with.
type Options struct {
	// Provider supplies network measurements for the bandwidth monitor.
	// May be nil; the monitor then assumes the configured defaults.
	Provider bandwidth.Provider

	// Locator overrides how level fetch addresses are derived during pyramid
	// construction. May be nil.
	Locator pyramid.LocatorFunc

	// CacheMetrics and SchedulerMetrics enable Prometheus collection when
	// non-nil.
	CacheMetrics     cache.Metrics
	SchedulerMetrics scheduler.Metrics
}

// Service is the loading engine facade.
type Service struct {
	store    *cache.Store
	monitor  *bandwidth.Monitor
	registry *strategy.Registry
	sched    *scheduler.Scheduler
	stats    *stats.Collector

	locator pyramid.LocatorFunc

	mu              sync.RWMutex
	manual          *strategy.Strategy // non-nil while a manual override is set
	adaptive        bool
	fallbackName    string
	preloadEnabled  bool
	preloadDistance int
	qualities       []int
	compression     float64
	shutdownTimeout time.Duration
}

// New builds a service from configuration. The fetcher is injected so the
// caller decides which transports (HTTP, S3) are routable.
func New(cfg *config.Config, fetcher fetch.Fetcher, opts Options) (*Service, error) {
	collector := stats.NewCollector()

	store, err := cache.New(cfg.Cache.MaxBytes.Int64(), opts.CacheMetrics, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	registry := strategy.NewRegistry()
	if _, err := registry.Get(cfg.Strategy.Default); err != nil {
		return nil, fmt.Errorf("unknown fallback strategy %q: %w", cfg.Strategy.Default, err)
	}

	monitor := bandwidth.NewMonitor(opts.Provider, bandwidth.Config{
		SampleInterval:      cfg.Bandwidth.SampleInterval,
		DefaultDownlinkMbps: cfg.Bandwidth.DefaultDownlinkMbps,
		DefaultRTT:          cfg.Bandwidth.DefaultRTT,
	})

	s := &Service{
		store:           store,
		monitor:         monitor,
		registry:        registry,
		stats:           collector,
		locator:         opts.Locator,
		adaptive:        cfg.Bandwidth.Adaptive,
		fallbackName:    cfg.Strategy.Default,
		preloadEnabled:  cfg.Preload.Enabled,
		preloadDistance: cfg.Preload.Distance,
		qualities:       append([]int(nil), cfg.Pyramid.Qualities...),
		compression:     cfg.Pyramid.CompressionFactor,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	sched, err := scheduler.New(scheduler.Deps{
		Fetcher:  fetcher,
		Cache:    store,
		Stats:    collector,
		Strategy: s.ActiveStrategy,
		Metrics:  opts.SchedulerMetrics,
	}, scheduler.Config{
		RetryAttempts:  cfg.Scheduler.RetryAttempts,
		RetryDelay:     cfg.Scheduler.RetryDelay,
		Timeout:        cfg.Scheduler.Timeout,
		WorkerPoolSize: cfg.Scheduler.WorkerPoolSize,
		QueueSize:      cfg.Scheduler.QueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.sched = sched

	return s, nil
}

// Start launches the scheduler workers and, in adaptive mode, the bandwidth
// sampling loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.RLock()
	adaptive := s.adaptive
	s.mu.RUnlock()

	if adaptive {
		s.monitor.Start(ctx)
	}
	s.sched.Start(ctx)

	logger.Info("loading engine started",
		"adaptive", adaptive,
		"fallback_strategy", s.fallbackName)
}

// Close drains the scheduler and stops the bandwidth monitor. Idempotent.
func (s *Service) Close() {
	s.sched.Close(s.shutdownTimeout)
	s.monitor.Close()
	logger.Info("loading engine stopped")
}

// ============================================================================
// Pyramids
// ============================================================================

// GeneratePyramid derives the configured quality levels for a source image
// and registers the resulting pyramid with the scheduler.
func (s *Service) GeneratePyramid(imageID string, info pyramid.ImageInfo) (*pyramid.Model, error) {
	s.mu.RLock()
	qualities := s.qualities
	compression := s.compression
	s.mu.RUnlock()

	opts := []pyramid.Option{pyramid.WithCompressionFactor(compression)}
	if s.locator != nil {
		opts = append(opts, pyramid.WithLocator(s.locator))
	}

	model, err := pyramid.Build(imageID, info, qualities, opts...)
	if err != nil {
		return nil, err
	}

	s.sched.RegisterPyramid(model)

	logger.Debug("pyramid registered",
		"image", imageID,
		"levels", len(model.Levels),
		"total_size", model.TotalSize)

	return model, nil
}

// Pyramid returns the registered pyramid for an image.
func (s *Service) Pyramid(imageID string) (*pyramid.Model, error) {
	return s.sched.Pyramid(imageID)
}

// ============================================================================
// Loading
// ============================================================================

// LoadImageProgressive loads an image up to targetQuality in the active
// strategy's steps, reporting each completed level through onProgress in
// ascending quality order.
func (s *Service) LoadImageProgressive(ctx context.Context, imageID string, targetQuality int, onProgress scheduler.ProgressFunc) ([]byte, error) {
	strat := s.ActiveStrategy()

	ctx, span := telemetry.StartLoadSpan(ctx, imageID, targetQuality,
		telemetry.Strategy(strat.Name))
	defer span.End()

	data, err := s.sched.LoadImageProgressive(ctx, imageID, targetQuality, onProgress)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	telemetry.SetAttributes(ctx, telemetry.Bytes(int64(len(data))))
	return data, nil
}

// Preload warms neighbors of the current image at lowest quality and
// priority. A no-op when preloading is disabled. distance <= 0 uses the
// configured distance, falling back to the active strategy's.
func (s *Service) Preload(currentImageID string, dir scheduler.Direction, distance int) {
	s.mu.RLock()
	enabled := s.preloadEnabled
	configured := s.preloadDistance
	s.mu.RUnlock()

	if !enabled {
		return
	}
	if distance <= 0 {
		distance = configured
	}
	s.sched.Preload(currentImageID, dir, distance)
}

// QueueDepth returns the number of requests waiting for a dispatch slot.
func (s *Service) QueueDepth() int {
	return s.sched.QueueDepth()
}

// InFlight returns the number of requests currently fetching.
func (s *Service) InFlight() int {
	return s.sched.InFlight()
}

// ============================================================================
// Strategy selection
// ============================================================================

// ActiveStrategy resolves the strategy in effect right now.
func (s *Service) ActiveStrategy() *strategy.Strategy {
	s.mu.RLock()
	manual := s.manual
	adaptive := s.adaptive
	fallbackName := s.fallbackName
	s.mu.RUnlock()

	if manual != nil {
		return manual
	}
	if adaptive {
		if strat, err := s.registry.Get(s.monitor.ActiveProfile().StrategyName); err == nil {
			return strat
		}
	}
	if strat, err := s.registry.Get(fallbackName); err == nil {
		return strat
	}

	// The fallback was validated at construction; a removed user strategy
	// still leaves the predefined balanced one.
	strat, _ := s.registry.Get(strategy.Balanced)
	return strat
}

// SetStrategy pins a named strategy, overriding adaptive selection until
// ClearStrategy is called.
func (s *Service) SetStrategy(name string) error {
	strat, err := s.registry.Get(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.manual = strat
	s.mu.Unlock()

	logger.Info("loading strategy pinned", "strategy", name)
	return nil
}

// ClearStrategy removes a manual strategy override.
func (s *Service) ClearStrategy() {
	s.mu.Lock()
	s.manual = nil
	s.mu.Unlock()

	logger.Info("loading strategy override cleared")
}

// RegisterStrategy adds a user-defined strategy to the registry.
func (s *Service) RegisterStrategy(strat *strategy.Strategy) error {
	return s.registry.Register(strat)
}

// RemoveStrategy deletes a user-defined strategy. If it is currently pinned,
// the override is cleared first.
func (s *Service) RemoveStrategy(name string) error {
	s.mu.Lock()
	if s.manual != nil && s.manual.Name == name {
		s.manual = nil
	}
	s.mu.Unlock()

	return s.registry.Remove(name)
}

// Strategies returns all registered strategy names.
func (s *Service) Strategies() []string {
	return s.registry.Names()
}

// ============================================================================
// Bandwidth
// ============================================================================

// ActiveProfile returns the bandwidth profile in effect.
func (s *Service) ActiveProfile() bandwidth.Profile {
	return s.monitor.ActiveProfile()
}

// SetBandwidthProfile pins a named profile, disabling automatic
// reclassification until ResumeAdaptive is called.
func (s *Service) SetBandwidthProfile(name string) error {
	return s.monitor.ForceProfile(name)
}

// ResumeAdaptive clears a pinned bandwidth profile.
func (s *Service) ResumeAdaptive() {
	s.monitor.ResumeAutomatic()
}

// RecordBandwidthSample folds an externally measured sample (e.g. reported by
// the viewer client) into the rolling history.
func (s *Service) RecordBandwidthSample(sample bandwidth.Sample) {
	s.monitor.RecordSample(sample)
}

// BandwidthHistory returns the rolling sample history, oldest first.
func (s *Service) BandwidthHistory() []bandwidth.Sample {
	return s.monitor.History()
}

// OptimalQuality returns the active profile's high-fidelity quality ceiling.
func (s *Service) OptimalQuality() int {
	return s.monitor.OptimalQuality()
}

// ============================================================================
// Cache and statistics
// ============================================================================

// CacheUsage reports current cache occupancy.
func (s *Service) CacheUsage() (size, budget int64, entries int) {
	return s.store.Size(), s.store.Budget(), s.store.Len()
}

// ClearCache drops every cached payload.
func (s *Service) ClearCache() {
	s.store.Clear()
}

// ClearImage drops all cached levels of one image.
func (s *Service) ClearImage(imageID string) {
	s.store.ClearFor(imageID)
}

// Statistics returns an immutable snapshot of the loading counters.
func (s *Service) Statistics() stats.Statistics {
	return s.stats.Snapshot()
}

// ResetStatistics zeroes the loading counters.
func (s *Service) ResetStatistics() {
	s.stats.Reset()
}

// ============================================================================
// Hot reload
// ============================================================================

// ApplyConfig applies the hot-reloadable parts of a new configuration: the
// cache byte budget, preload toggles, adaptivity, and the fallback strategy.
// Scheduler tunables and listener settings take effect on restart.
func (s *Service) ApplyConfig(cfg *config.Config) {
	if err := s.store.SetBudget(cfg.Cache.MaxBytes.Int64()); err != nil {
		logger.Warn("ignoring invalid cache budget on reload", "error", err)
	}

	s.mu.Lock()
	if _, err := s.registry.Get(cfg.Strategy.Default); err == nil {
		s.fallbackName = cfg.Strategy.Default
	} else {
		logger.Warn("ignoring unknown fallback strategy on reload",
			"strategy", cfg.Strategy.Default)
	}
	s.adaptive = cfg.Bandwidth.Adaptive
	s.preloadEnabled = cfg.Preload.Enabled
	s.preloadDistance = cfg.Preload.Distance
	s.qualities = append([]int(nil), cfg.Pyramid.Qualities...)
	s.compression = cfg.Pyramid.CompressionFactor
	s.mu.Unlock()

	logger.Info("configuration applied",
		"cache_budget", cfg.Cache.MaxBytes,
		"adaptive", cfg.Bandwidth.Adaptive,
		"fallback_strategy", cfg.Strategy.Default)
}
