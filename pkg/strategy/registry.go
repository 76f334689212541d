package strategy

import (
	"fmt"
	"sync"
)

// Predefined strategy names. These ship with every registry, are immutable,
// and cannot be removed.
const (
	UltraFast      = "ultra-fast"
	Balanced       = "balanced"
	HighQuality    = "high-quality"
	BandwidthSaver = "bandwidth-saver"
)

// Registry holds named loading strategies. It is read-mostly: lookups take a
// shared lock while register/remove take an exclusive one, so concurrent
// readers never observe a partially registered strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
	predefined map[string]bool
}

// NewRegistry creates a registry populated with the four predefined
// strategies.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[string]*Strategy),
		predefined: make(map[string]bool),
	}
	for _, s := range predefinedStrategies() {
		r.strategies[s.Name] = s
		r.predefined[s.Name] = true
	}
	return r
}

func predefinedStrategies() []*Strategy {
	return []*Strategy{
		{
			Name:               UltraFast,
			QualityProgression: []int{25, 50, 75, 100},
			PreloadDistance:    2,
			MaxConcurrentLoads: 8,
			Priority:           Formula{Kind: FormulaRecencyWeighted},
		},
		{
			Name:               Balanced,
			QualityProgression: []int{50, 75, 100},
			PreloadDistance:    3,
			MaxConcurrentLoads: 4,
			Priority:           Formula{Kind: FormulaQualityWeighted},
		},
		{
			Name:               HighQuality,
			QualityProgression: []int{75, 100},
			PreloadDistance:    5,
			MaxConcurrentLoads: 2,
			Priority:           Formula{Kind: FormulaQualitySquared},
		},
		{
			Name:               BandwidthSaver,
			QualityProgression: []int{25, 50},
			PreloadDistance:    1,
			MaxConcurrentLoads: 2,
			Priority:           Formula{Kind: FormulaProximityOnly},
		},
	}
}

// Register adds a user-defined strategy.
//
// Returns ErrProtectedResource when the name shadows a predefined strategy
// and ErrDuplicateName when any strategy with that name already exists.
func (r *Registry) Register(s *Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.predefined[s.Name] {
		return fmt.Errorf("%w: %s", ErrProtectedResource, s.Name)
	}
	if _, exists := r.strategies[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
	}
	r.strategies[s.Name] = s
	return nil
}

// Get returns the strategy with the given name.
func (r *Registry) Get(name string) (*Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	return s, nil
}

// Remove deletes a user-registered strategy. Predefined strategies cannot be
// removed.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.predefined[name] {
		return fmt.Errorf("%w: %s", ErrProtectedResource, name)
	}
	if _, exists := r.strategies[name]; !exists {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	delete(r.strategies, name)
	return nil
}

// Names returns all registered strategy names. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}
