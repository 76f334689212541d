package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medview/pyraload/pkg/cache"
	"github.com/medview/pyraload/pkg/pyramid"
)

// requestState is the per-request lifecycle:
// queued -> loading -> {loaded, retry-wait -> queued, failed};
// cancelled is reachable from queued, retry-wait, and loading.
type requestState int

const (
	stateQueued requestState = iota
	stateLoading
	stateRetryWait
	stateLoaded
	stateFailed
	stateCancelled
)

func (s requestState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateLoading:
		return "loading"
	case stateRetryWait:
		return "retry-wait"
	case stateLoaded:
		return "loaded"
	case stateFailed:
		return "failed"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one level request.
type Result struct {
	Key  cache.Key
	Data []byte
	Err  error
}

// request is the scheduler-internal unit of work. It is owned exclusively by
// the scheduler: all field access happens under the scheduler mutex, except
// the fetch itself which runs on a worker with its own context.
type request struct {
	id      uuid.UUID
	key     cache.Key
	locator string
	model   *pyramid.Model

	priority   float64
	preload    bool // preload tier dispatches after all normal requests
	seq        uint64
	enqueuedAt time.Time

	state    requestState
	attempts int

	// refs counts interested callers. A shared (deduplicated) request is
	// only cancelled when its last interested caller cancels.
	refs    int
	waiters []*Handle

	// cancelFetch interrupts the in-flight fetch; set while loading.
	cancelFetch context.CancelFunc

	// retryTimer pends the backoff before re-queueing; set in retry-wait.
	retryTimer *time.Timer

	// slotHeld marks that this request occupies a loading slot; released by
	// the worker when the attempt finishes or a cancellation is acknowledged.
	slotHeld bool

	heapIndex int
}

// Handle is a caller's reference to a (possibly shared) request.
type Handle struct {
	s   *Scheduler
	req *request // nil for handles resolved immediately from cache

	done chan Result

	cancelOnce sync.Once
}

// Done delivers the request's terminal result exactly once.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// Cancel withdraws this caller's interest. The underlying request is only
// cancelled once no interested caller remains; requests shared with other
// callers keep running. Idempotent and safe to call at any time.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		if h.req == nil || h.s == nil {
			return
		}
		h.s.cancelHandle(h)
	})
}

// resolvedHandle returns a handle whose result is already known, used for
// cache hits and immediate errors.
func resolvedHandle(res Result) *Handle {
	h := &Handle{done: make(chan Result, 1)}
	h.done <- res
	return h
}
