// Package pyramid models a source image as an ordered set of quality-graded
// representations (levels). A pyramid is pure data: construction and level
// selection are deterministic and perform no I/O.
package pyramid

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrInvalidInput indicates malformed pyramid construction inputs.
// It is a local, non-retriable error.
var ErrInvalidInput = errors.New("invalid pyramid input")

// DefaultCompressionFactor estimates the compressed byte size of a level
// relative to its share of the original payload.
const DefaultCompressionFactor = 0.5

// Level is one quality-graded representation within a pyramid.
//
// Width, height, and byte size are derived at construction time and never
// change. The status flags track load progress and are guarded by the owning
// Model's mutex; a level is never loading concurrently twice because the
// scheduler deduplicates in-flight requests per (image, level).
type Level struct {
	Quality  int    // 0-100
	Width    int    // scaled pixel width
	Height   int    // scaled pixel height
	ByteSize int64  // estimated payload size
	Locator  string // opaque fetch address

	loaded    bool
	loading   bool
	lastError error
}

// Model describes one source image as an ordered set of quality levels,
// sorted ascending by quality. At least one level always exists.
type Model struct {
	ID        string
	Levels    []*Level
	TotalSize int64 // sum of level byte sizes, informational
	Info      ImageInfo

	mu sync.Mutex
}

// LocatorFunc derives the fetch address for one quality level of an image.
type LocatorFunc func(imageID string, quality int) string

// Option configures pyramid construction.
type Option func(*buildOptions)

type buildOptions struct {
	compressionFactor float64
	locator           LocatorFunc
}

// WithCompressionFactor overrides the byte-size estimation factor.
func WithCompressionFactor(f float64) Option {
	return func(o *buildOptions) {
		o.compressionFactor = f
	}
}

// WithLocator overrides how level fetch addresses are derived.
func WithLocator(fn LocatorFunc) Option {
	return func(o *buildOptions) {
		o.locator = fn
	}
}

func defaultLocator(imageID string, quality int) string {
	return fmt.Sprintf("%s#q=%d", imageID, quality)
}

// Build deterministically derives one Level per requested quality value.
//
// Scaled dimensions are floor(dimension * sqrt(quality/100)) so that pixel
// count grows roughly linearly with quality; the byte size estimate is
// floor(originalSize * quality/100 * compressionFactor).
//
// Duplicate qualities are collapsed and values outside 1-100 rejected.
// Returns ErrInvalidInput for non-positive dimensions or an empty quality
// list.
func Build(baseID string, info ImageInfo, qualities []int, opts ...Option) (*Model, error) {
	if baseID == "" {
		return nil, fmt.Errorf("%w: empty image id", ErrInvalidInput)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidInput, info.Width, info.Height)
	}
	if len(qualities) == 0 {
		return nil, fmt.Errorf("%w: no quality levels requested", ErrInvalidInput)
	}

	o := buildOptions{
		compressionFactor: DefaultCompressionFactor,
		locator:           defaultLocator,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Sort ascending and collapse duplicates so the level invariant holds.
	sorted := make([]int, 0, len(qualities))
	seen := make(map[int]bool, len(qualities))
	for _, q := range qualities {
		if q < 1 || q > 100 {
			return nil, fmt.Errorf("%w: quality %d out of range", ErrInvalidInput, q)
		}
		if !seen[q] {
			seen[q] = true
			sorted = append(sorted, q)
		}
	}
	sort.Ints(sorted)

	m := &Model{
		ID:     baseID,
		Levels: make([]*Level, 0, len(sorted)),
		Info:   info,
	}

	for _, q := range sorted {
		scale := math.Sqrt(float64(q) / 100.0)
		size := int64(math.Floor(float64(info.SizeBytes) * float64(q) / 100.0 * o.compressionFactor))
		lvl := &Level{
			Quality:  q,
			Width:    int(math.Floor(float64(info.Width) * scale)),
			Height:   int(math.Floor(float64(info.Height) * scale)),
			ByteSize: size,
			Locator:  o.locator(baseID, q),
		}
		m.Levels = append(m.Levels, lvl)
		m.TotalSize += size
	}

	return m, nil
}

// LowestLevel returns the lowest-quality level.
func (m *Model) LowestLevel() *Level {
	return m.Levels[0]
}

// HighestLevel returns the highest-quality level.
func (m *Model) HighestLevel() *Level {
	return m.Levels[len(m.Levels)-1]
}

// LevelAt returns the level with exactly the given quality, if present.
func (m *Model) LevelAt(quality int) (*Level, bool) {
	for _, lvl := range m.Levels {
		if lvl.Quality == quality {
			return lvl, true
		}
	}
	return nil, false
}

// bestAtOrBelow returns the highest-quality level with Quality <= limit.
func (m *Model) bestAtOrBelow(limit int) *Level {
	var best *Level
	for _, lvl := range m.Levels {
		if lvl.Quality <= limit {
			best = lvl
		}
	}
	return best
}

// ProgressionSelector exposes the quality thresholds a strategy walks through
// on the way to a target. Implemented by strategy.Strategy; declared here so
// the pyramid package does not depend on the strategy package.
type ProgressionSelector interface {
	Progression() []int
}

// SelectLevelsForTarget returns the levels to fetch for the given target
// quality, one per strategy threshold at or below the target, deduplicated
// and sorted ascending.
//
// Degradation guarantee: if no threshold matches but some level has quality
// at or below the target, the best such level is returned; if every level
// exceeds the target, the single lowest-quality level is returned.
func SelectLevelsForTarget(m *Model, targetQuality int, strat ProgressionSelector) []*Level {
	selected := make([]*Level, 0, len(m.Levels))
	picked := make(map[int]bool)

	for _, threshold := range strat.Progression() {
		if threshold > targetQuality {
			break
		}
		lvl := m.bestAtOrBelow(threshold)
		if lvl != nil && !picked[lvl.Quality] {
			picked[lvl.Quality] = true
			selected = append(selected, lvl)
		}
	}

	if len(selected) > 0 {
		return selected
	}

	if lvl := m.bestAtOrBelow(targetQuality); lvl != nil {
		return []*Level{lvl}
	}
	return []*Level{m.LowestLevel()}
}

// ============================================================================
// Level status tracking
// ============================================================================

// MarkLoading flags a level as having an in-flight fetch.
// Returns false if the level is already loading.
func (m *Model) MarkLoading(quality int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl, ok := m.LevelAt(quality)
	if !ok || lvl.loading {
		return false
	}
	lvl.loading = true
	return true
}

// MarkLoaded flags a level as successfully loaded.
func (m *Model) MarkLoaded(quality int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lvl, ok := m.LevelAt(quality); ok {
		lvl.loading = false
		lvl.loaded = true
		lvl.lastError = nil
	}
}

// MarkFailed returns a level to the unloaded state recording the error.
func (m *Model) MarkFailed(quality int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lvl, ok := m.LevelAt(quality); ok {
		lvl.loading = false
		lvl.loaded = false
		lvl.lastError = err
	}
}

// Status reports the load state of a level.
func (m *Model) Status(quality int) (loaded, loading bool, lastErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lvl, ok := m.LevelAt(quality); ok {
		return lvl.loaded, lvl.loading, lvl.lastError
	}
	return false, false, nil
}
