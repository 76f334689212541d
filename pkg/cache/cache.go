// Package cache holds fetched level payloads keyed by (image, quality) under
// a hard byte budget with least-recently-used eviction.
//
// The store is single-writer by construction: every mutation runs under one
// mutex, so the budget invariant (total bytes <= budget) holds after every
// call and no partial eviction state is ever observable.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medview/pyraload/internal/logger"
)

// ErrInvalidBudget indicates a non-positive byte budget.
var ErrInvalidBudget = errors.New("cache budget must be positive")

// Key identifies one cached level payload.
type Key struct {
	ImageID string
	Quality int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/q%d", k.ImageID, k.Quality)
}

// entry is one cached payload plus its LRU bookkeeping.
type entry struct {
	key          Key
	payload      []byte
	sizeBytes    int64
	lastAccessed time.Time
}

// Metrics receives cache observations. Implementations must be safe for
// concurrent use; a nil Metrics disables collection with zero overhead.
type Metrics interface {
	ObserveGet(hit bool)
	ObservePut(bytes int64)
	ObserveEviction(bytes int64)
	SetSize(bytes int64, entries int)
}

// Recorder receives hit/miss outcomes for the statistics aggregate.
// Satisfied by stats.Collector. May be nil.
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// Store is the budgeted LRU byte cache.
type Store struct {
	mu       sync.Mutex
	budget   int64
	size     int64
	entries  map[Key]*list.Element // element value is *entry
	lru      *list.List            // front = most recently used
	metrics  Metrics
	recorder Recorder
}

// New creates a store with the given byte budget. The budget is validated
// here, at configuration time, so Put never has to fail.
func New(budget int64, metrics Metrics, recorder Recorder) (*Store, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBudget, budget)
	}
	return &Store{
		budget:   budget,
		entries:  make(map[Key]*list.Element),
		lru:      list.New(),
		metrics:  metrics,
		recorder: recorder,
	}, nil
}

// Get returns the payload for key, updating its recency. The hit or miss is
// reported to the recorder and metrics.
func (s *Store) Get(key Key) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		if s.recorder != nil {
			s.recorder.RecordCacheMiss()
		}
		if s.metrics != nil {
			s.metrics.ObserveGet(false)
		}
		return nil, false
	}

	e := el.Value.(*entry)
	e.lastAccessed = time.Now()
	s.lru.MoveToFront(el)

	if s.recorder != nil {
		s.recorder.RecordCacheHit()
	}
	if s.metrics != nil {
		s.metrics.ObserveGet(true)
	}
	return e.payload, true
}

// Contains reports whether key is cached without touching recency or
// hit/miss accounting. Used by preload paths that only need to skip work.
func (s *Store) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Put inserts or replaces the payload for key. If the insert would push the
// total past the budget, least-recently-accessed entries are evicted first
// (ties broken by insertion order, which the LRU list preserves). A payload
// larger than the whole budget is not cached at all.
func (s *Store) Put(key Key, payload []byte) {
	size := int64(len(payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeLocked(el, false)
	}

	if size > s.budget {
		logger.Warn("payload exceeds cache budget, not cached",
			"key", key.String(), "size", size, "budget", s.budget)
		s.publishSizeLocked()
		return
	}

	s.evictUntilFitsLocked(size)

	e := &entry{
		key:          key,
		payload:      payload,
		sizeBytes:    size,
		lastAccessed: time.Now(),
	}
	s.entries[key] = s.lru.PushFront(e)
	s.size += size

	if s.metrics != nil {
		s.metrics.ObservePut(size)
	}
	s.publishSizeLocked()
}

// evictUntilFitsLocked evicts from the LRU tail until needed bytes fit or
// the cache is empty. Caller holds mu.
func (s *Store) evictUntilFitsLocked(needed int64) {
	for s.size+needed > s.budget {
		tail := s.lru.Back()
		if tail == nil {
			return
		}
		s.removeLocked(tail, true)
	}
}

// removeLocked unlinks an element and adjusts size tracking. Caller holds mu.
func (s *Store) removeLocked(el *list.Element, evicted bool) {
	e := el.Value.(*entry)
	s.lru.Remove(el)
	delete(s.entries, e.key)
	s.size -= e.sizeBytes

	if evicted {
		logger.Debug("cache entry evicted", "key", e.key.String(), "size", e.sizeBytes)
		if s.metrics != nil {
			s.metrics.ObserveEviction(e.sizeBytes)
		}
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[Key]*list.Element)
	s.lru.Init()
	s.size = 0
	s.publishSizeLocked()
}

// ClearFor removes all entries belonging to one image.
func (s *Store) ClearFor(imageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.lru.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).key.ImageID == imageID {
			s.removeLocked(el, false)
		}
		el = next
	}
	s.publishSizeLocked()
}

// SetBudget updates the byte budget, evicting down to the new limit
// immediately. Fails fast on non-positive budgets.
func (s *Store) SetBudget(budget int64) error {
	if budget <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBudget, budget)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.budget = budget
	s.evictUntilFitsLocked(0)
	s.publishSizeLocked()
	return nil
}

// Size returns the current total cached bytes.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Budget returns the configured byte budget.
func (s *Store) Budget() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) publishSizeLocked() {
	if s.metrics != nil {
		s.metrics.SetSize(s.size, len(s.entries))
	}
}
