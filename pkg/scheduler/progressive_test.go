package scheduler

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medview/pyraload/pkg/strategy"
)

func ultraFast(t *testing.T) *strategy.Strategy {
	t.Helper()

	strat, err := strategy.NewRegistry().Get(strategy.UltraFast)
	require.NoError(t, err)
	return strat
}

func TestLoadImageProgressiveDeliversAscending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, ultraFast(t))
	env.registerImage(t, "ct-001", 1)

	// Higher-quality levels finish first; delivery order must not follow
	// completion order.
	env.fetcher.delays[locatorOf("ct-001", 25)] = 40 * time.Millisecond
	env.fetcher.delays[locatorOf("ct-001", 50)] = 25 * time.Millisecond
	env.fetcher.delays[locatorOf("ct-001", 75)] = 10 * time.Millisecond

	var got []int
	best, err := env.sched.LoadImageProgressive(context.Background(), "ct-001", 100, func(ev ProgressEvent) {
		got = append(got, ev.Quality)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(locatorOf("ct-001", 100)), best)

	assert.Equal(t, []int{25, 50, 75, 100}, got)
	assert.True(t, sort.IntsAreSorted(got))
	assert.Equal(t, int64(4), env.coll.Snapshot().RequestsCompleted)
}

func TestLoadImageProgressiveStopsAtTarget(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil) // balanced: 50 -> 75 -> 100
	env.registerImage(t, "ct-001", 1)

	var got []int
	best, err := env.sched.LoadImageProgressive(context.Background(), "ct-001", 50, func(ev ProgressEvent) {
		got = append(got, ev.Quality)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(locatorOf("ct-001", 50)), best)
	assert.Equal(t, []int{50}, got)

	// Levels above the target were never requested.
	assert.Equal(t, 0, env.fetcher.callCount(locatorOf("ct-001", 75)))
	assert.Equal(t, 0, env.fetcher.callCount(locatorOf("ct-001", 100)))
}

func TestLoadImageProgressiveDegradesOnFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{RetryAttempts: -1}, ultraFast(t))
	env.registerImage(t, "ct-001", 1)

	env.fetcher.failAlways[locatorOf("ct-001", 75)] = true
	env.fetcher.failAlways[locatorOf("ct-001", 100)] = true

	var got []int
	best, err := env.sched.LoadImageProgressive(context.Background(), "ct-001", 100, func(ev ProgressEvent) {
		got = append(got, ev.Quality)
	})
	require.NoError(t, err)

	// The load degrades to the best level that did succeed.
	assert.Equal(t, []byte(locatorOf("ct-001", 50)), best)
	assert.Equal(t, []int{25, 50}, got)

	// A follow-up load at an achievable target is served from cache.
	best, err = env.sched.LoadImageProgressive(context.Background(), "ct-001", 50, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(locatorOf("ct-001", 50)), best)
	assert.Equal(t, 1, env.fetcher.callCount(locatorOf("ct-001", 25)))
	assert.Equal(t, 1, env.fetcher.callCount(locatorOf("ct-001", 50)))
	assert.GreaterOrEqual(t, env.coll.Snapshot().CacheHits, int64(2))
}

func TestLoadImageProgressiveAllLevelsFail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{RetryAttempts: -1}, ultraFast(t))
	env.registerImage(t, "ct-001", 1)

	for _, q := range []int{25, 50, 75, 100} {
		env.fetcher.failAlways[locatorOf("ct-001", q)] = true
	}

	_, err := env.sched.LoadImageProgressive(context.Background(), "ct-001", 100, nil)
	assert.ErrorIs(t, err, ErrNoLevelsAvailable)
}

func TestLoadImageProgressiveUnknownImage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)

	_, err := env.sched.LoadImageProgressive(context.Background(), "no-such-image", 100, nil)
	assert.ErrorIs(t, err, ErrUnknownImage)
}

func TestLoadImageProgressiveContextCancelled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, ultraFast(t))
	env.registerImage(t, "ct-001", 1)

	// Nothing ever completes until the caller gives up.
	env.fetcher.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.sched.LoadImageProgressive(ctx, "ct-001", 100, nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return env.sched.InFlight() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("progressive load did not observe context cancellation")
	}

	// The caller's interest was withdrawn everywhere.
	require.Eventually(t, func() bool {
		return env.sched.InFlight() == 0 && env.sched.QueueDepth() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoadImageProgressiveSharedLevelsSurviveOtherCallersCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil) // balanced: 50 -> 75 -> 100
	env.registerImage(t, "ct-001", 1)

	gate := make(chan struct{})
	env.fetcher.gate = gate

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()

	first := make(chan error, 1)
	go func() {
		_, err := env.sched.LoadImageProgressive(ctx1, "ct-001", 100, nil)
		first <- err
	}()

	require.Eventually(t, func() bool {
		return env.sched.InFlight() > 0
	}, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := env.sched.LoadImageProgressive(context.Background(), "ct-001", 100, nil)
		second <- err
	}()

	// Give the second caller time to attach to the shared requests, then
	// abandon the first one.
	require.Eventually(t, func() bool {
		return env.coll.Snapshot().CacheMisses >= 6
	}, time.Second, 5*time.Millisecond)
	cancel1()

	require.ErrorIs(t, <-first, context.Canceled)

	// The shared fetches keep running for the second caller.
	close(gate)
	assert.NoError(t, <-second)
	assert.Equal(t, 1, env.fetcher.callCount(locatorOf("ct-001", 100)))
}
