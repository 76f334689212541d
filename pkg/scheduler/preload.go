package scheduler

import (
	"sort"

	"github.com/medview/pyraload/internal/logger"
	"github.com/medview/pyraload/pkg/cache"
	"github.com/medview/pyraload/pkg/pyramid"
)

// Direction selects which neighbors of the current image to warm.
type Direction int

const (
	// Forward warms images after the current one in navigation order.
	Forward Direction = iota
	// Backward warms images before it.
	Backward
	// Both warms in both directions.
	Both
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// Preload enqueues the lowest-quality level of up to distance neighbors in
// the given direction(s) at the lowest dispatch tier. A distance of zero
// falls back to the active strategy's preload distance.
//
// Preloads are best-effort: already-cached neighbors are skipped and
// individual failures are swallowed by the normal retry/fail path without
// ever surfacing to a caller.
func (s *Scheduler) Preload(currentImageID string, dir Direction, distance int) {
	if distance <= 0 {
		distance = s.deps.Strategy().PreloadDistance
	}

	neighbors := s.neighborIDs(currentImageID, dir, distance)
	if len(neighbors) == 0 {
		return
	}

	logger.Debug("preloading neighbors",
		"image", currentImageID,
		"direction", dir.String(),
		"count", len(neighbors))

	for i, id := range neighbors {
		model, err := s.Pyramid(id)
		if err != nil {
			continue
		}
		lowest := model.LowestLevel()

		if s.deps.Cache.Contains(cache.Key{ImageID: id, Quality: lowest.Quality}) {
			continue
		}

		if _, err := s.Enqueue(id, lowest.Quality, PriorityContext{
			Distance: i + 1,
			Preload:  true,
		}); err != nil {
			continue
		}
		s.deps.Stats.RecordPreload()
	}
}

// neighborIDs resolves up to distance image IDs on each requested side of
// the current image. Navigation order follows slice numbers when the
// ingestion pipeline provided them, otherwise registration order.
func (s *Scheduler) neighborIDs(currentImageID string, dir Direction, distance int) []string {
	s.mu.Lock()
	models := make([]*pyramid.Model, 0, len(s.order))
	for _, id := range s.order {
		models = append(models, s.pyramids[id])
	}
	s.mu.Unlock()

	// Stable sort keeps registration order for images without slice numbers.
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Info.SliceNumber < models[j].Info.SliceNumber
	})

	current := -1
	for i, m := range models {
		if m.ID == currentImageID {
			current = i
			break
		}
	}
	if current < 0 {
		return nil
	}

	var ids []string
	for i := 1; i <= distance; i++ {
		if dir == Forward || dir == Both {
			if idx := current + i; idx < len(models) {
				ids = append(ids, models[idx].ID)
			}
		}
		if dir == Backward || dir == Both {
			if idx := current - i; idx >= 0 {
				ids = append(ids, models[idx].ID)
			}
		}
	}
	return ids
}
