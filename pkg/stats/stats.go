// Package stats aggregates loading counters for observability: request
// outcomes, byte totals, per-quality completion counts, load timing, and
// cache hit ratio.
package stats

import (
	"sync"
	"time"
)

// Statistics is an immutable snapshot of the running totals.
type Statistics struct {
	RequestsIssued    int64
	RequestsCompleted int64
	RequestsFailed    int64
	RequestsCancelled int64
	Retries           int64
	BytesLoaded       int64
	AverageLoadTime   time.Duration
	PerQualityCounts  map[int]int64
	CacheHits         int64
	CacheMisses       int64
	CacheHitRate      float64
	PreloadsIssued    int64
}

// Collector accumulates statistics. Mutations come only from the scheduler
// and cache on completion events; reads may happen concurrently and always
// observe a consistent snapshot.
type Collector struct {
	mu sync.Mutex

	issued    int64
	completed int64
	failed    int64
	cancelled int64
	retries   int64
	bytes     int64
	preloads  int64

	// Incremental mean: avg += (sample - avg) / n.
	avgLoadTime time.Duration

	perQuality map[int]int64

	hits, misses int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		perQuality: make(map[int]int64),
	}
}

// RecordIssued counts a request entering the scheduler.
func (c *Collector) RecordIssued() {
	c.mu.Lock()
	c.issued++
	c.mu.Unlock()
}

// RecordCompleted counts a successful fetch, folding its duration into the
// rolling mean and attributing the bytes to the level's quality.
func (c *Collector) RecordCompleted(quality int, bytes int64, dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completed++
	c.bytes += bytes
	c.perQuality[quality]++
	c.avgLoadTime += (dur - c.avgLoadTime) / time.Duration(c.completed)
}

// RecordFailed counts a request that exhausted its retries.
func (c *Collector) RecordFailed() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

// RecordCancelled counts a request cancelled before completion.
func (c *Collector) RecordCancelled() {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
}

// RecordRetry counts one retry attempt.
func (c *Collector) RecordRetry() {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

// RecordPreload counts one preload request issued.
func (c *Collector) RecordPreload() {
	c.mu.Lock()
	c.preloads++
	c.mu.Unlock()
}

// RecordCacheHit implements cache.Recorder.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

// RecordCacheMiss implements cache.Recorder.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of the current totals.
func (c *Collector) Snapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	perQuality := make(map[int]int64, len(c.perQuality))
	for q, n := range c.perQuality {
		perQuality[q] = n
	}

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Statistics{
		RequestsIssued:    c.issued,
		RequestsCompleted: c.completed,
		RequestsFailed:    c.failed,
		RequestsCancelled: c.cancelled,
		Retries:           c.retries,
		BytesLoaded:       c.bytes,
		AverageLoadTime:   c.avgLoadTime,
		PerQualityCounts:  perQuality,
		CacheHits:         c.hits,
		CacheMisses:       c.misses,
		CacheHitRate:      hitRate,
		PreloadsIssued:    c.preloads,
	}
}

// Reset zeroes all counters. Intended for tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.issued, c.completed, c.failed, c.cancelled = 0, 0, 0, 0
	c.retries, c.bytes, c.preloads = 0, 0, 0
	c.avgLoadTime = 0
	c.perQuality = make(map[int]int64)
	c.hits, c.misses = 0, 0
}
