package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medview/pyraload/pkg/cache"
	"github.com/medview/pyraload/pkg/fetch"
	"github.com/medview/pyraload/pkg/pyramid"
	"github.com/medview/pyraload/pkg/stats"
	"github.com/medview/pyraload/pkg/strategy"
)

// scriptedFetcher is a controllable in-memory transport. Payloads echo the
// locator; failures, delays, and blocking gates are scripted per locator.
type scriptedFetcher struct {
	mu          sync.Mutex
	calls       map[string]int
	order       []string
	failFirst   map[string]int
	failAlways  map[string]bool
	delays      map[string]time.Duration
	gates       map[string]chan struct{}
	gate        chan struct{} // blocks every fetch when non-nil
	inFlight    int
	maxInFlight int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		calls:      make(map[string]int),
		failFirst:  make(map[string]int),
		failAlways: make(map[string]bool),
		delays:     make(map[string]time.Duration),
		gates:      make(map[string]chan struct{}),
	}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	f.calls[locator]++
	n := f.calls[locator]
	f.order = append(f.order, locator)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate := f.gate
	if g, ok := f.gates[locator]; ok {
		gate = g
	}
	delay := f.delays[locator]
	fail := f.failAlways[locator] || n <= f.failFirst[locator]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: %s", fetch.ErrFetchFailed, locator)
	}
	return []byte(locator), nil
}

func (f *scriptedFetcher) callCount(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func (f *scriptedFetcher) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *scriptedFetcher) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// testEnv bundles a scheduler with the collaborators the tests inspect.
type testEnv struct {
	sched   *Scheduler
	fetcher *scriptedFetcher
	store   *cache.Store
	coll    *stats.Collector
	strat   *strategy.Strategy
}

func newTestEnv(t *testing.T, cfg Config, strat *strategy.Strategy) *testEnv {
	t.Helper()

	if strat == nil {
		reg := strategy.NewRegistry()
		var err error
		strat, err = reg.Get(strategy.Balanced)
		require.NoError(t, err)
	}

	coll := stats.NewCollector()
	store, err := cache.New(64<<20, nil, coll)
	require.NoError(t, err)

	fetcher := newScriptedFetcher()
	s, err := New(Deps{
		Fetcher:  fetcher,
		Cache:    store,
		Stats:    coll,
		Strategy: func() *strategy.Strategy { return strat },
	}, cfg)
	require.NoError(t, err)

	s.Start(context.Background())
	t.Cleanup(func() { s.Close(2 * time.Second) })

	return &testEnv{sched: s, fetcher: fetcher, store: store, coll: coll, strat: strat}
}

func (e *testEnv) registerImage(t *testing.T, id string, slice int) *pyramid.Model {
	t.Helper()

	m, err := pyramid.Build(id, pyramid.ImageInfo{
		Width:       1024,
		Height:      768,
		SizeBytes:   4 << 20,
		SliceNumber: slice,
		TotalSlices: 16,
		MultiSlice:  true,
	}, []int{25, 50, 75, 100})
	require.NoError(t, err)

	e.sched.RegisterPyramid(m)
	return m
}

func locatorOf(imageID string, quality int) string {
	return fmt.Sprintf("%s#q=%d", imageID, quality)
}

func awaitResult(t *testing.T, h *Handle) Result {
	t.Helper()

	select {
	case res := <-h.Done():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request result")
		return Result{}
	}
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	coll := stats.NewCollector()
	store, err := cache.New(1<<20, nil, nil)
	require.NoError(t, err)
	stratFn := func() *strategy.Strategy { return nil }

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing fetcher", Deps{Cache: store, Stats: coll, Strategy: stratFn}},
		{"missing cache", Deps{Fetcher: newScriptedFetcher(), Stats: coll, Strategy: stratFn}},
		{"missing stats", Deps{Fetcher: newScriptedFetcher(), Cache: store, Strategy: stratFn}},
		{"missing strategy", Deps{Fetcher: newScriptedFetcher(), Cache: store, Stats: coll}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps, Config{})
			assert.Error(t, err)
		})
	}
}

func TestEnqueueResolvesFromCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.registerImage(t, "ct-001", 1)

	key := cache.Key{ImageID: "ct-001", Quality: 50}
	env.store.Put(key, []byte("cached-bytes"))

	h, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)

	res := awaitResult(t, h)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("cached-bytes"), res.Data)
	assert.Equal(t, 0, env.fetcher.callCount(locatorOf("ct-001", 50)))
}

func TestEnqueueRejectsUnknownTargets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.registerImage(t, "ct-001", 1)

	t.Run("unknown image", func(t *testing.T) {
		_, err := env.sched.Enqueue("no-such-image", 50, PriorityContext{})
		assert.ErrorIs(t, err, ErrUnknownImage)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := env.sched.Enqueue("ct-001", 42, PriorityContext{})
		assert.ErrorIs(t, err, ErrUnknownLevel)
	})
}

func TestEnqueueDeduplicatesInFlight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.registerImage(t, "ct-001", 1)

	gate := make(chan struct{})
	env.fetcher.gates[locatorOf("ct-001", 75)] = gate

	h1, err := env.sched.Enqueue("ct-001", 75, PriorityContext{})
	require.NoError(t, err)
	h2, err := env.sched.Enqueue("ct-001", 75, PriorityContext{})
	require.NoError(t, err)

	close(gate)

	res1 := awaitResult(t, h1)
	res2 := awaitResult(t, h2)
	require.NoError(t, res1.Err)
	require.NoError(t, res2.Err)
	assert.Equal(t, res1.Data, res2.Data)

	// One fetch served both callers, and only one request was issued.
	assert.Equal(t, 1, env.fetcher.callCount(locatorOf("ct-001", 75)))
	assert.Equal(t, int64(1), env.coll.Snapshot().RequestsIssued)
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{RetryAttempts: 3, RetryDelay: 2 * time.Millisecond}, nil)
	env.registerImage(t, "ct-001", 1)

	loc := locatorOf("ct-001", 50)
	env.fetcher.failFirst[loc] = 2

	h, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)

	res := awaitResult(t, h)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte(loc), res.Data)
	assert.Equal(t, 3, env.fetcher.callCount(loc))

	snap := env.coll.Snapshot()
	assert.Equal(t, int64(2), snap.Retries)
	assert.Equal(t, int64(1), snap.RequestsCompleted)

	// The payload landed in the cache on completion.
	data, ok := env.store.Get(cache.Key{ImageID: "ct-001", Quality: 50})
	require.True(t, ok)
	assert.Equal(t, []byte(loc), data)
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{RetryAttempts: 2, RetryDelay: 2 * time.Millisecond}, nil)
	model := env.registerImage(t, "ct-001", 1)

	loc := locatorOf("ct-001", 50)
	env.fetcher.failAlways[loc] = true

	h, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)

	res := awaitResult(t, h)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, fetch.ErrFetchFailed)

	// Initial attempt plus two retries.
	assert.Equal(t, 3, env.fetcher.callCount(loc))

	snap := env.coll.Snapshot()
	assert.Equal(t, int64(1), snap.RequestsFailed)
	assert.Equal(t, int64(2), snap.Retries)

	loaded, loading, lastErr := model.Status(50)
	assert.False(t, loaded)
	assert.False(t, loading)
	assert.Error(t, lastErr)

	assert.False(t, env.store.Contains(cache.Key{ImageID: "ct-001", Quality: 50}))
}

func TestNegativeRetryAttemptsDisablesRetries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{RetryAttempts: -1}, nil)
	env.registerImage(t, "ct-001", 1)

	loc := locatorOf("ct-001", 50)
	env.fetcher.failAlways[loc] = true

	h, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)

	res := awaitResult(t, h)
	require.Error(t, res.Err)
	assert.Equal(t, 1, env.fetcher.callCount(loc))
	assert.Equal(t, int64(0), env.coll.Snapshot().Retries)
}

func TestCancelQueuedRequest(t *testing.T) {
	t.Parallel()

	serial := &strategy.Strategy{
		Name:               "serial",
		QualityProgression: []int{50, 100},
		MaxConcurrentLoads: 1,
		Priority:           strategy.Formula{Kind: strategy.FormulaQualityWeighted},
	}
	env := newTestEnv(t, Config{}, serial)
	env.registerImage(t, "ct-001", 1)
	env.registerImage(t, "ct-002", 2)

	gate := make(chan struct{})
	env.fetcher.gates[locatorOf("ct-001", 50)] = gate

	blocker, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)

	// The second request cannot dispatch while the first holds the only slot.
	queued, err := env.sched.Enqueue("ct-002", 50, PriorityContext{})
	require.NoError(t, err)
	require.Equal(t, 1, env.sched.QueueDepth())

	queued.Cancel()
	res := awaitResult(t, queued)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.Equal(t, 0, env.sched.QueueDepth())

	close(gate)
	res = awaitResult(t, blocker)
	require.NoError(t, res.Err)

	// The cancelled request never reached the transport.
	assert.Equal(t, 0, env.fetcher.callCount(locatorOf("ct-002", 50)))
	assert.Equal(t, int64(1), env.coll.Snapshot().RequestsCancelled)
}

func TestCancelSharedRequestKeepsOtherCaller(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.registerImage(t, "ct-001", 1)

	loc := locatorOf("ct-001", 75)
	gate := make(chan struct{})
	env.fetcher.gates[loc] = gate

	h1, err := env.sched.Enqueue("ct-001", 75, PriorityContext{})
	require.NoError(t, err)
	h2, err := env.sched.Enqueue("ct-001", 75, PriorityContext{})
	require.NoError(t, err)

	h1.Cancel()
	res1 := awaitResult(t, h1)
	assert.ErrorIs(t, res1.Err, ErrCancelled)

	// The shared fetch keeps running for the remaining caller.
	close(gate)
	res2 := awaitResult(t, h2)
	require.NoError(t, res2.Err)
	assert.Equal(t, []byte(loc), res2.Data)

	assert.Equal(t, int64(0), env.coll.Snapshot().RequestsCancelled)
}

func TestCancelInFlightInterruptsFetch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.registerImage(t, "ct-001", 1)

	loc := locatorOf("ct-001", 100)
	env.fetcher.gates[loc] = make(chan struct{}) // never released

	h, err := env.sched.Enqueue("ct-001", 100, PriorityContext{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.fetcher.callCount(loc) == 1
	}, time.Second, 5*time.Millisecond)

	h.Cancel()
	res := awaitResult(t, h)
	assert.ErrorIs(t, res.Err, ErrCancelled)

	// The worker gives its slot back once the interrupted fetch returns.
	require.Eventually(t, func() bool {
		return env.sched.InFlight() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.registerImage(t, "ct-001", 1)

	h, err := env.sched.Enqueue("ct-001", 25, PriorityContext{})
	require.NoError(t, err)

	res := awaitResult(t, h)
	require.NoError(t, res.Err)

	// Cancelling after completion must not deadlock or emit a second result.
	h.Cancel()
	h.Cancel()

	select {
	case extra := <-h.Done():
		t.Fatalf("unexpected second result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrencyBoundedByStrategy(t *testing.T) {
	t.Parallel()

	narrow := &strategy.Strategy{
		Name:               "narrow",
		QualityProgression: []int{25, 50, 75, 100},
		MaxConcurrentLoads: 2,
		Priority:           strategy.Formula{Kind: strategy.FormulaRecencyWeighted},
	}
	env := newTestEnv(t, Config{WorkerPoolSize: 8}, narrow)

	gate := make(chan struct{})
	env.fetcher.gate = gate

	handles := make([]*Handle, 0, 6)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("ct-%03d", i)
		env.registerImage(t, id, i)
		h, err := env.sched.Enqueue(id, 25, PriorityContext{Distance: i})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.Eventually(t, func() bool {
		return env.sched.InFlight() == 2 && env.sched.QueueDepth() == 4
	}, time.Second, 5*time.Millisecond)

	close(gate)
	for _, h := range handles {
		res := awaitResult(t, h)
		require.NoError(t, res.Err)
	}

	assert.LessOrEqual(t, env.fetcher.peakInFlight(), 2)
	assert.Equal(t, int64(6), env.coll.Snapshot().RequestsCompleted)
}

func TestDispatchOrderPrefersNormalOverPreload(t *testing.T) {
	t.Parallel()

	serial := &strategy.Strategy{
		Name:               "serial",
		QualityProgression: []int{25, 50},
		MaxConcurrentLoads: 1,
		Priority:           strategy.Formula{Kind: strategy.FormulaRecencyWeighted},
	}
	env := newTestEnv(t, Config{}, serial)
	env.registerImage(t, "ct-001", 1)
	env.registerImage(t, "ct-002", 2)
	env.registerImage(t, "ct-003", 3)

	blockerLoc := locatorOf("ct-001", 25)
	gate := make(chan struct{})
	env.fetcher.gates[blockerLoc] = gate

	blocker, err := env.sched.Enqueue("ct-001", 25, PriorityContext{})
	require.NoError(t, err)

	// A far-away preload enqueued before a nearby normal request must still
	// dispatch after it.
	preload, err := env.sched.Enqueue("ct-002", 25, PriorityContext{Distance: 1, Preload: true})
	require.NoError(t, err)
	normal, err := env.sched.Enqueue("ct-003", 25, PriorityContext{Distance: 5})
	require.NoError(t, err)

	close(gate)
	require.NoError(t, awaitResult(t, blocker).Err)
	require.NoError(t, awaitResult(t, preload).Err)
	require.NoError(t, awaitResult(t, normal).Err)

	order := env.fetcher.callOrder()
	require.Len(t, order, 3)
	assert.Equal(t, blockerLoc, order[0])
	assert.Equal(t, locatorOf("ct-003", 25), order[1])
	assert.Equal(t, locatorOf("ct-002", 25), order[2])
}

func TestCloseCancelsPendingAndRejectsNewWork(t *testing.T) {
	t.Parallel()

	serial := &strategy.Strategy{
		Name:               "serial",
		QualityProgression: []int{50},
		MaxConcurrentLoads: 1,
		Priority:           strategy.Formula{Kind: strategy.FormulaProximityOnly},
	}
	env := newTestEnv(t, Config{}, serial)
	env.registerImage(t, "ct-001", 1)
	env.registerImage(t, "ct-002", 2)

	env.fetcher.gates[locatorOf("ct-001", 50)] = make(chan struct{}) // never released

	inFlight, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)
	queued, err := env.sched.Enqueue("ct-002", 50, PriorityContext{})
	require.NoError(t, err)

	env.sched.Close(2 * time.Second)

	res := awaitResult(t, inFlight)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	res = awaitResult(t, queued)
	assert.ErrorIs(t, res.Err, ErrCancelled)

	_, err = env.sched.Enqueue("ct-001", 50, PriorityContext{})
	assert.ErrorIs(t, err, ErrSchedulerClosed)

	// Close is idempotent.
	env.sched.Close(time.Second)
}

func TestFetchTimeoutSurfacesAsTimeout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{
		RetryAttempts: -1,
		Timeout:       20 * time.Millisecond,
	}, nil)
	env.registerImage(t, "ct-001", 1)

	loc := locatorOf("ct-001", 50)
	env.fetcher.delays[loc] = time.Second

	h, err := env.sched.Enqueue("ct-001", 50, PriorityContext{})
	require.NoError(t, err)

	res := awaitResult(t, h)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.False(t, errors.Is(res.Err, ErrCancelled))
}
