package bandwidth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	sample Sample
	err    error
}

func (p *stubProvider) NetworkInfo(_ context.Context) (Sample, error) {
	return p.sample, p.err
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		downlink float64
		want     string
	}{
		{25, HighSpeed},
		{10, HighSpeed},
		{9.9, MediumSpeed},
		{5, MediumSpeed},
		{4.9, LowSpeed},
		{1, LowSpeed},
		{0.5, VeryLowSpeed},
		{0, VeryLowSpeed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.downlink).Name, "downlink %.1f", tc.downlink)
	}
}

func TestActiveProfile(t *testing.T) {
	t.Parallel()

	t.Run("classifies rolling average of history", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(nil, Config{})

		// Scenario: high-speed samples dominate the average.
		for _, mbps := range []float64{12, 11, 13} {
			m.RecordSample(Sample{DownlinkMbps: mbps, TakenAt: time.Now()})
		}
		assert.Equal(t, HighSpeed, m.ActiveProfile().Name)
	})

	t.Run("deterministic for identical history", func(t *testing.T) {
		t.Parallel()
		a := NewMonitor(nil, Config{})
		b := NewMonitor(nil, Config{})

		for _, mbps := range []float64{3, 7, 2, 9} {
			a.RecordSample(Sample{DownlinkMbps: mbps})
			b.RecordSample(Sample{DownlinkMbps: mbps})
		}
		assert.Equal(t, a.ActiveProfile(), b.ActiveProfile())
	})

	t.Run("empty history uses configured default", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(nil, Config{DefaultDownlinkMbps: 15})
		assert.Equal(t, HighSpeed, m.ActiveProfile().Name)
	})
}

func TestRecordSample(t *testing.T) {
	t.Parallel()

	t.Run("bounded history evicts oldest", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(nil, Config{})

		for i := 0; i < HistoryCapacity+5; i++ {
			m.RecordSample(Sample{DownlinkMbps: float64(i)})
		}

		h := m.History()
		require.Len(t, h, HistoryCapacity)
		assert.Equal(t, 5.0, h[0].DownlinkMbps)
		assert.Equal(t, float64(HistoryCapacity+4), h[len(h)-1].DownlinkMbps)
	})
}

func TestSampleNow(t *testing.T) {
	t.Parallel()

	t.Run("reads from the provider", func(t *testing.T) {
		t.Parallel()
		p := &stubProvider{sample: Sample{DownlinkMbps: 42, RTT: 20 * time.Millisecond, EffectiveType: "wifi"}}
		m := NewMonitor(p, Config{})

		s := m.SampleNow(context.Background())
		assert.Equal(t, 42.0, s.DownlinkMbps)
		assert.Equal(t, "wifi", s.EffectiveType)
		assert.False(t, s.TakenAt.IsZero())
	})

	t.Run("falls back to defaults when provider unavailable", func(t *testing.T) {
		t.Parallel()
		p := &stubProvider{err: errors.New("no connection API")}
		m := NewMonitor(p, Config{DefaultDownlinkMbps: 5, DefaultRTT: 100 * time.Millisecond})

		s := m.SampleNow(context.Background())
		assert.Equal(t, 5.0, s.DownlinkMbps)
		assert.Equal(t, 100*time.Millisecond, s.RTT)
	})

	t.Run("nil provider uses defaults", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(nil, Config{})

		s := m.SampleNow(context.Background())
		assert.Equal(t, DefaultDownlinkMbps, s.DownlinkMbps)
		assert.Equal(t, DefaultRTT, s.RTT)
	})
}

func TestForceProfile(t *testing.T) {
	t.Parallel()

	t.Run("pins until automatic mode resumes", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(nil, Config{})
		m.RecordSample(Sample{DownlinkMbps: 50})

		require.NoError(t, m.ForceProfile(VeryLowSpeed))
		assert.True(t, m.IsForced())
		assert.Equal(t, VeryLowSpeed, m.ActiveProfile().Name)

		// History stays warm while pinned.
		m.RecordSample(Sample{DownlinkMbps: 60})
		assert.Equal(t, VeryLowSpeed, m.ActiveProfile().Name)

		m.ResumeAutomatic()
		assert.False(t, m.IsForced())
		assert.Equal(t, HighSpeed, m.ActiveProfile().Name)
	})

	t.Run("unknown profile name", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(nil, Config{})

		err := m.ForceProfile("warp-speed")
		assert.True(t, errors.Is(err, ErrProfileNotFound))
		assert.False(t, m.IsForced())
	})
}

func TestPeriodicSampling(t *testing.T) {
	t.Parallel()

	p := &stubProvider{sample: Sample{DownlinkMbps: 8}}
	m := NewMonitor(p, Config{SampleInterval: 5 * time.Millisecond})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		return len(m.History()) >= 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, MediumSpeed, m.ActiveProfile().Name)
}

func TestOptimalQuality(t *testing.T) {
	t.Parallel()

	m := NewMonitor(nil, Config{})
	for _, mbps := range []float64{12, 11, 13} {
		m.RecordSample(Sample{DownlinkMbps: mbps})
	}
	assert.Equal(t, 100, m.OptimalQuality())

	require.NoError(t, m.ForceProfile(LowSpeed))
	assert.Equal(t, 50, m.OptimalQuality())
}
