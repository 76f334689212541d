// Package bandwidth samples observed network conditions, keeps a rolling
// history, and classifies the rolling average into a named profile that
// drives adaptive strategy selection.
package bandwidth

import (
	"context"
	"sync"
	"time"

	"github.com/medview/pyraload/internal/logger"
)

// HistoryCapacity bounds the rolling sample history; the oldest sample is
// evicted on overflow.
const HistoryCapacity = 10

// DefaultSampleInterval is how often the monitor samples when started.
const DefaultSampleInterval = 30 * time.Second

// Default conditions assumed when no provider is available.
const (
	DefaultDownlinkMbps = 5.0
	DefaultRTT          = 100 * time.Millisecond
)

// Sample is one instantaneous network measurement.
type Sample struct {
	DownlinkMbps  float64
	RTT           time.Duration
	EffectiveType string // e.g. "4g", "wifi"; informational
	TakenAt       time.Time
}

// Provider reads instantaneous network descriptors. Implementations may
// return an error when the underlying source is unavailable; the monitor
// then falls back to its configured defaults.
type Provider interface {
	NetworkInfo(ctx context.Context) (Sample, error)
}

// Config tunes the monitor.
type Config struct {
	// SampleInterval between periodic samples. Default 30s.
	SampleInterval time.Duration

	// DefaultDownlinkMbps and DefaultRTT are assumed when the provider is
	// nil or unavailable.
	DefaultDownlinkMbps float64
	DefaultRTT          time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.DefaultDownlinkMbps <= 0 {
		c.DefaultDownlinkMbps = DefaultDownlinkMbps
	}
	if c.DefaultRTT <= 0 {
		c.DefaultRTT = DefaultRTT
	}
}

// Monitor maintains the rolling bandwidth history and the active profile.
//
// Sampling runs on its own goroutine and only appends to the history under a
// short-lived lock, so it never blocks active loads.
type Monitor struct {
	cfg      Config
	provider Provider

	mu      sync.RWMutex
	history []Sample
	forced  *Profile // non-nil while a manual override pins the profile

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewMonitor creates a monitor. provider may be nil, in which case every
// sample reports the configured defaults.
func NewMonitor(provider Provider, cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:      cfg,
		provider: provider,
		history:  make([]Sample, 0, HistoryCapacity),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SampleNow reads the current network descriptors from the provider, falling
// back to the configured defaults when the provider is nil or errors.
func (m *Monitor) SampleNow(ctx context.Context) Sample {
	if m.provider != nil {
		s, err := m.provider.NetworkInfo(ctx)
		if err == nil {
			if s.TakenAt.IsZero() {
				s.TakenAt = time.Now()
			}
			return s
		}
		logger.Debug("network info unavailable, using defaults", "error", err)
	}
	return Sample{
		DownlinkMbps:  m.cfg.DefaultDownlinkMbps,
		RTT:           m.cfg.DefaultRTT,
		EffectiveType: "unknown",
		TakenAt:       time.Now(),
	}
}

// RecordSample appends to the rolling history, evicting the oldest sample
// once capacity is reached.
func (m *Monitor) RecordSample(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == HistoryCapacity {
		copy(m.history, m.history[1:])
		m.history = m.history[:HistoryCapacity-1]
	}
	m.history = append(m.history, s)
}

// History returns a copy of the rolling sample history, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// averageDownlinkLocked computes the rolling mean downlink. Caller holds mu.
func (m *Monitor) averageDownlinkLocked() float64 {
	if len(m.history) == 0 {
		return m.cfg.DefaultDownlinkMbps
	}
	var sum float64
	for _, s := range m.history {
		sum += s.DownlinkMbps
	}
	return sum / float64(len(m.history))
}

// ActiveProfile classifies the rolling average downlink, unless a manual
// override is pinned. The classification is reproducible from the history
// alone.
func (m *Monitor) ActiveProfile() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.forced != nil {
		return *m.forced
	}
	return Classify(m.averageDownlinkLocked())
}

// ForceProfile pins the named profile, disabling automatic reclassification
// until ResumeAutomatic is called. Samples continue to be recorded while
// pinned so the history stays warm.
func (m *Monitor) ForceProfile(name string) error {
	p, err := ProfileByName(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.forced = &p
	m.mu.Unlock()

	logger.Info("bandwidth profile pinned", "profile", name)
	return nil
}

// ResumeAutomatic clears a manual override and returns to sample-driven
// classification.
func (m *Monitor) ResumeAutomatic() {
	m.mu.Lock()
	m.forced = nil
	m.mu.Unlock()

	logger.Info("bandwidth profile classification resumed")
}

// IsForced reports whether a manual override is pinned.
func (m *Monitor) IsForced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forced != nil
}

// OptimalQuality returns the active profile's high-fidelity quality ceiling.
func (m *Monitor) OptimalQuality() int {
	return m.ActiveProfile().Thresholds.High
}

// Start launches the periodic sampling loop. It takes an immediate first
// sample so classification has data before the first tick. Safe to call once;
// subsequent calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	m.RecordSample(m.SampleNow(ctx))

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := m.SampleNow(ctx)
			m.RecordSample(s)
			logger.Debug("bandwidth sampled",
				"downlink_mbps", s.DownlinkMbps,
				"rtt", s.RTT,
				"profile", m.ActiveProfile().Name)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the sampling loop. Idempotent.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
