package scheduler

import (
	"context"
	"fmt"

	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/pkg/pyramid"
)

// ProgressEvent reports one completed level to the caller.
type ProgressEvent struct {
	ImageID string
	Quality int
	Width   int
	Height  int
	Data    []byte
}

// ProgressFunc receives intermediate levels as they complete, in strictly
// ascending quality order. May be nil.
type ProgressFunc func(ProgressEvent)

// LoadImageProgressive fetches the image in increasing-quality steps chosen
// by the active strategy and returns the best payload obtained.
//
// All selected levels are enqueued up front so the worker pool can fetch
// them concurrently; completions are then awaited in ascending quality
// order, so onProgress always observes a non-decreasing quality sequence
// regardless of the order the fetches actually finished in.
//
// Individual level failures are absorbed: the load degrades to the best
// level that did succeed. Only when every selected level fails does the call
// return ErrNoLevelsAvailable. Cancelling ctx cancels this caller's interest
// in every still-pending level; levels shared with concurrent callers keep
// loading for them.
func (s *Scheduler) LoadImageProgressive(ctx context.Context, imageID string, targetQuality int, onProgress ProgressFunc) ([]byte, error) {
	model, err := s.Pyramid(imageID)
	if err != nil {
		return nil, err
	}

	strat := s.deps.Strategy()
	levels := pyramid.SelectLevelsForTarget(model, targetQuality, strat)

	logger.Debug("progressive load starting",
		"image", imageID,
		"target_quality", targetQuality,
		"strategy", strat.Name,
		"levels", len(levels))

	handles := make([]*Handle, 0, len(levels))
	for _, lvl := range levels {
		h, err := s.Enqueue(imageID, lvl.Quality, PriorityContext{Distance: 0})
		if err != nil {
			// Intake refused (shutdown); fail out what we already enqueued.
			for _, prev := range handles {
				prev.Cancel()
			}
			return nil, err
		}
		handles = append(handles, h)
	}

	var (
		best     []byte
		lastErr  error
		anyLevel bool
	)

	for i, h := range handles {
		select {
		case res := <-h.Done():
			if res.Err != nil {
				lastErr = res.Err
				logger.Debug("progressive level failed, degrading",
					"image", imageID,
					"quality", levels[i].Quality,
					"error", res.Err)
				continue
			}
			anyLevel = true
			best = res.Data
			if onProgress != nil {
				onProgress(ProgressEvent{
					ImageID: imageID,
					Quality: levels[i].Quality,
					Width:   levels[i].Width,
					Height:  levels[i].Height,
					Data:    res.Data,
				})
			}
			if levels[i].Quality >= targetQuality {
				// Target reached; release any remaining interest.
				for _, rest := range handles[i+1:] {
					rest.Cancel()
				}
				return best, nil
			}

		case <-ctx.Done():
			for _, rest := range handles[i:] {
				rest.Cancel()
			}
			return nil, ctx.Err()
		}
	}

	if !anyLevel {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoLevelsAvailable, imageID, lastErr)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoLevelsAvailable, imageID)
	}
	return best, nil
}
