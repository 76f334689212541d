// Package scheduler is the load engine core: it accepts level requests,
// orders them by strategy priority, bounds concurrent fetches, retries
// transient failures with exponential backoff, and feeds completed payloads
// into the cache and statistics.
//
// Decision-making (enqueue, priority, dedup, completion bookkeeping) is
// serialized under one mutex; only the network fetch itself runs on the
// bounded background worker pool.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/pkg/cache"
	"github.com/medview/pyraload/pkg/fetch"
	"github.com/medview/pyraload/pkg/pyramid"
	"github.com/medview/pyraload/pkg/stats"
	"github.com/medview/pyraload/pkg/strategy"
)

// Defaults for scheduler tunables.
const (
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = 1 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultWorkerPoolSize = 4
	DefaultQueueSize      = 1024
)

// Config tunes the scheduler.
type Config struct {
	// RetryAttempts is the maximum number of retries per request. Zero means
	// the default; a negative value disables retries.
	RetryAttempts int

	// RetryDelay is the base backoff; attempt n waits RetryDelay * 2^(n-1).
	RetryDelay time.Duration

	// Timeout bounds each individual fetch attempt.
	Timeout time.Duration

	// WorkerPoolSize is the number of background fetch workers.
	WorkerPoolSize int

	// QueueSize is the dispatch channel capacity between the scheduler and
	// its workers.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	} else if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Metrics receives scheduler observations. A nil Metrics disables collection.
type Metrics interface {
	ObserveDispatch()
	ObserveRetry()
	ObserveCompletion(d time.Duration, bytes int64)
	SetInFlight(n int)
	SetQueued(n int)
}

// Deps are the injected capabilities the scheduler orchestrates.
type Deps struct {
	// Fetcher performs the actual byte transport. Required.
	Fetcher fetch.Fetcher

	// Cache receives completed payloads and answers lookups. Required.
	Cache *cache.Store

	// Stats aggregates counters. Required.
	Stats *stats.Collector

	// Strategy resolves the currently active loading strategy. Required.
	Strategy func() *strategy.Strategy

	// Metrics is optional.
	Metrics Metrics
}

// PriorityContext carries the inputs to the active strategy's priority
// formula for one enqueue.
type PriorityContext struct {
	// Distance from the viewport in images; 0 means on screen.
	Distance int

	// Preload marks the request for the lowest dispatch tier.
	Preload bool
}

// Scheduler is the progressive-load engine core.
type Scheduler struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	pyramids map[string]*pyramid.Model
	order    []string // registration order, preload neighbor fallback
	queue    requestQueue
	inflight map[cache.Key]*request // queued, loading, or retry-wait
	loading  int
	seq      uint64
	closed   bool

	workCh    chan *request
	stopCh    chan struct{}
	stoppedCh chan struct{}
	wg        sync.WaitGroup
	started   bool
}

// New creates a scheduler. Call Start before enqueueing work.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("scheduler requires a fetcher")
	}
	if deps.Cache == nil {
		return nil, errors.New("scheduler requires a cache store")
	}
	if deps.Stats == nil {
		return nil, errors.New("scheduler requires a statistics collector")
	}
	if deps.Strategy == nil {
		return nil, errors.New("scheduler requires a strategy provider")
	}
	cfg.applyDefaults()

	return &Scheduler{
		cfg:       cfg,
		deps:      deps,
		pyramids:  make(map[string]*pyramid.Model),
		inflight:  make(map[cache.Key]*request),
		workCh:    make(chan *request, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start launches the worker pool. Workers only exit when Close is called;
// each fetch attempt gets its own timeout context, so a short-lived startup
// context cannot strand in-flight work.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	logger.Info("starting load scheduler", "workers", s.cfg.WorkerPoolSize)

	for i := 0; i < s.cfg.WorkerPoolSize; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	go func() {
		s.wg.Wait()
		close(s.stoppedCh)
	}()
}

// ============================================================================
// Pyramid registration
// ============================================================================

// RegisterPyramid makes an image's pyramid known to the scheduler. Replacing
// a registration is allowed and keeps the original navigation order.
func (s *Scheduler) RegisterPyramid(m *pyramid.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pyramids[m.ID]; !exists {
		s.order = append(s.order, m.ID)
	}
	s.pyramids[m.ID] = m
}

// Pyramid returns the registered pyramid for an image.
func (s *Scheduler) Pyramid(imageID string) (*pyramid.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.pyramids[imageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, imageID)
	}
	return m, nil
}

// ============================================================================
// Enqueue / dedup / cancel
// ============================================================================

// Enqueue requests one level of one image. If the level is cached the handle
// resolves immediately; if an identical (image, quality) request is already
// pending or in flight, the returned handle shares it instead of creating a
// duplicate.
func (s *Scheduler) Enqueue(imageID string, quality int, pctx PriorityContext) (*Handle, error) {
	key := cache.Key{ImageID: imageID, Quality: quality}

	// The cache lookup also records the hit/miss outcome.
	if data, ok := s.deps.Cache.Get(key); ok {
		return resolvedHandle(Result{Key: key, Data: data}), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSchedulerClosed
	}

	model, ok := s.pyramids[imageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, imageID)
	}
	level, ok := model.LevelAt(quality)
	if !ok {
		return nil, fmt.Errorf("%w: %s q=%d", ErrUnknownLevel, imageID, quality)
	}

	if req, exists := s.inflight[key]; exists {
		h := &Handle{s: s, req: req, done: make(chan Result, 1)}
		req.waiters = append(req.waiters, h)
		req.refs++
		return h, nil
	}

	strat := s.deps.Strategy()
	s.seq++
	req := &request{
		id:         uuid.New(),
		key:        key,
		locator:    level.Locator,
		model:      model,
		priority:   strat.Priority.Score(pctx.Distance, quality),
		preload:    pctx.Preload,
		seq:        s.seq,
		enqueuedAt: time.Now(),
		state:      stateQueued,
		refs:       1,
	}

	h := &Handle{s: s, req: req, done: make(chan Result, 1)}
	req.waiters = []*Handle{h}

	s.inflight[key] = req
	heap.Push(&s.queue, req)
	s.deps.Stats.RecordIssued()
	s.publishDepthLocked()

	logger.Debug("request enqueued",
		"request_id", req.id,
		"image", imageID,
		"quality", quality,
		"priority", req.priority,
		"preload", req.preload)

	s.dispatchLocked()
	return h, nil
}

// cancelHandle withdraws one caller's interest; invoked via Handle.Cancel.
func (s *Scheduler) cancelHandle(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := h.req

	// Detach this waiter. If it is no longer attached, the request already
	// delivered a terminal result to it and there is nothing to cancel.
	found := false
	for i, w := range req.waiters {
		if w == h {
			req.waiters = append(req.waiters[:i], req.waiters[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	h.done <- Result{Key: req.key, Err: ErrCancelled}

	req.refs--
	if req.refs > 0 {
		// Another caller still awaits this request; keep it running.
		return
	}

	s.cancelRequestLocked(req)
}

// cancelRequestLocked transitions a request with no remaining interest to
// cancelled: remaining waiters are notified, the request leaves the in-flight
// index, and any pending fetch or backoff timer is interrupted. A loading
// request keeps its slot until the worker acknowledges. Caller holds mu.
func (s *Scheduler) cancelRequestLocked(req *request) {
	switch req.state {
	case stateQueued:
		if req.heapIndex >= 0 {
			heap.Remove(&s.queue, req.heapIndex)
		}
	case stateRetryWait:
		if req.retryTimer != nil {
			req.retryTimer.Stop()
			req.retryTimer = nil
		}
	case stateLoading:
		if req.cancelFetch != nil {
			req.cancelFetch()
		}
	default:
		return
	}

	s.deps.Stats.RecordCancelled()
	s.finalizeLocked(req, stateCancelled, Result{Key: req.key, Err: ErrCancelled})
}

// ============================================================================
// Dispatch loop and workers
// ============================================================================

// dispatchLocked moves queued requests to workers while the active strategy's
// concurrency limit allows. Caller holds mu.
func (s *Scheduler) dispatchLocked() {
	limit := s.deps.Strategy().MaxConcurrentLoads

	for s.loading < limit && s.queue.Len() > 0 {
		req := heap.Pop(&s.queue).(*request)
		if req.state != stateQueued {
			continue
		}

		select {
		case s.workCh <- req:
			req.state = stateLoading
			req.slotHeld = true
			req.model.MarkLoading(req.key.Quality)
			s.loading++
			if s.deps.Metrics != nil {
				s.deps.Metrics.ObserveDispatch()
			}
		default:
			// Worker channel saturated; put it back and stop for now.
			heap.Push(&s.queue, req)
			return
		}
	}
	s.publishDepthLocked()
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	logger.Debug("load worker started", "worker_id", id)

	for {
		select {
		case req := <-s.workCh:
			s.process(req)
		case <-s.stopCh:
			logger.Debug("load worker stopped", "worker_id", id)
			return
		}
	}
}

// process performs one fetch attempt for a loading request.
func (s *Scheduler) process(req *request) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	s.mu.Lock()
	if req.state != stateLoading {
		// Cancelled between dispatch and pickup; just give the slot back.
		s.releaseSlotLocked(req)
		s.dispatchLocked()
		s.mu.Unlock()
		return
	}
	req.cancelFetch = cancel
	s.mu.Unlock()

	start := time.Now()
	data, err := s.deps.Fetcher.Fetch(ctx, req.locator)
	elapsed := time.Since(start)

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %s", ErrTimeout, s.cfg.Timeout, req.locator)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req.cancelFetch = nil

	if req.state != stateLoading {
		// Cancellation (or shutdown) won the race with the fetch.
		s.releaseSlotLocked(req)
		s.dispatchLocked()
		return
	}

	if err != nil {
		s.handleFailureLocked(req, err)
		return
	}

	req.model.MarkLoaded(req.key.Quality)
	s.deps.Cache.Put(req.key, data)
	s.deps.Stats.RecordCompleted(req.key.Quality, int64(len(data)), elapsed)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCompletion(elapsed, int64(len(data)))
	}

	logger.Debug("level loaded",
		"image", req.key.ImageID,
		"quality", req.key.Quality,
		"bytes", len(data),
		"duration_ms", logger.Duration(start))

	s.finalizeLoadingLocked(req, stateLoaded, Result{Key: req.key, Data: data})
}

// handleFailureLocked retries with exponential backoff or fails the request
// for good. Caller holds mu.
func (s *Scheduler) handleFailureLocked(req *request, err error) {
	req.model.MarkFailed(req.key.Quality, err)

	if req.attempts < s.cfg.RetryAttempts {
		req.attempts++
		backoff := s.cfg.RetryDelay * (1 << (req.attempts - 1))

		logger.Warn("fetch failed, scheduling retry",
			"image", req.key.ImageID,
			"quality", req.key.Quality,
			"attempt", req.attempts,
			"backoff", backoff,
			"error", err)

		req.state = stateRetryWait
		s.releaseSlotLocked(req)
		s.deps.Stats.RecordRetry()
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveRetry()
		}

		req.retryTimer = time.AfterFunc(backoff, func() { s.requeue(req) })
		s.dispatchLocked()
		return
	}

	logger.Error("fetch failed permanently",
		"image", req.key.ImageID,
		"quality", req.key.Quality,
		"attempts", req.attempts,
		"error", err)

	s.deps.Stats.RecordFailed()
	s.finalizeLoadingLocked(req, stateFailed, Result{Key: req.key, Err: err})
}

// requeue returns a retry-wait request to the queue after its backoff.
func (s *Scheduler) requeue(req *request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.state != stateRetryWait {
		return
	}
	if s.closed {
		s.finalizeLocked(req, stateCancelled, Result{Key: req.key, Err: ErrSchedulerClosed})
		return
	}

	req.state = stateQueued
	req.retryTimer = nil
	heap.Push(&s.queue, req)
	s.dispatchLocked()
}

// ============================================================================
// Completion bookkeeping
// ============================================================================

// finalizeLoadingLocked completes a request that held a loading slot.
func (s *Scheduler) finalizeLoadingLocked(req *request, final requestState, res Result) {
	s.releaseSlotLocked(req)
	s.finalizeLocked(req, final, res)
	s.dispatchLocked()
}

// releaseSlotLocked gives back a loading slot exactly once. Caller holds mu.
func (s *Scheduler) releaseSlotLocked(req *request) {
	if req.slotHeld {
		req.slotHeld = false
		s.loading--
	}
}

// finalizeLocked transitions a request to a terminal state, notifies every
// waiter exactly once, and drops it from the in-flight index. Caller holds mu.
func (s *Scheduler) finalizeLocked(req *request, final requestState, res Result) {
	req.state = final
	for _, h := range req.waiters {
		h.done <- res
	}
	req.waiters = nil
	req.refs = 0
	delete(s.inflight, req.key)
	s.publishDepthLocked()
}

func (s *Scheduler) publishDepthLocked() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetQueued(s.queue.Len())
		s.deps.Metrics.SetInFlight(s.loading)
	}
}

// ============================================================================
// Introspection and lifecycle
// ============================================================================

// QueueDepth returns the number of queued (not yet dispatched) requests.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of requests currently loading.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Close stops intake, cancels all pending requests, and waits for in-flight
// workers up to the given timeout. Idempotent.
func (s *Scheduler) Close(timeout time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	// Fail out everything still pending; in-flight fetches are interrupted
	// and acknowledged by their workers.
	pending := make([]*request, 0, len(s.inflight))
	for _, req := range s.inflight {
		pending = append(pending, req)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, req := range pending {
		s.cancelRequestLocked(req)
	}
	started := s.started
	s.mu.Unlock()

	close(s.stopCh)
	if !started {
		return
	}

	select {
	case <-s.stoppedCh:
		logger.Info("load scheduler stopped")
	case <-time.After(timeout):
		logger.Warn("load scheduler stop timed out")
	}
}
