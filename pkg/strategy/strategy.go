// Package strategy defines loading strategies: how a progressive load walks
// quality levels, how many fetches run at once, how far neighbors are warmed,
// and how pending requests are prioritized.
package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName indicates a strategy name is already registered.
	ErrDuplicateName = errors.New("strategy name already registered")

	// ErrProtectedResource indicates an attempt to remove or replace a
	// predefined strategy.
	ErrProtectedResource = errors.New("predefined strategy is protected")

	// ErrStrategyNotFound indicates the requested strategy does not exist.
	ErrStrategyNotFound = errors.New("strategy not found")
)

// FormulaKind selects one of the closed set of priority formulas.
//
// Strategies carry a formula tag rather than arbitrary code so that the
// scheduler's ordering stays inspectable; custom strategies can still attach
// their own scoring function via FormulaCustom.
type FormulaKind string

const (
	// FormulaRecencyWeighted strongly favors levels close to the viewport,
	// with quality as a light tiebreaker.
	FormulaRecencyWeighted FormulaKind = "recency-weighted"

	// FormulaQualityWeighted balances proximity against linear quality.
	FormulaQualityWeighted FormulaKind = "quality-weighted"

	// FormulaQualitySquared favors high-quality levels quadratically.
	FormulaQualitySquared FormulaKind = "quality-squared"

	// FormulaProximityOnly ignores quality entirely; only distance counts.
	FormulaProximityOnly FormulaKind = "proximity-only"

	// FormulaCustom delegates scoring to the strategy's custom function.
	FormulaCustom FormulaKind = "custom"
)

// Formula is a tagged priority formula. Higher scores dispatch sooner.
type Formula struct {
	Kind FormulaKind

	// Fn is consulted only when Kind is FormulaCustom.
	Fn func(distance, quality int) float64
}

// Score computes the dispatch priority for a level at the given distance
// from the viewport (0 = the image on screen) and quality (0-100).
func (f Formula) Score(distance, quality int) float64 {
	if distance < 0 {
		distance = -distance
	}
	switch f.Kind {
	case FormulaRecencyWeighted:
		return 1000.0/float64(distance+1) + float64(quality)*0.1
	case FormulaQualityWeighted:
		return 100.0/float64(distance+1) + float64(quality)
	case FormulaQualitySquared:
		return 10.0/float64(distance+1) + float64(quality*quality)/100.0
	case FormulaProximityOnly:
		return 1000.0 / float64(distance+1)
	case FormulaCustom:
		if f.Fn != nil {
			return f.Fn(distance, quality)
		}
	}
	return 0
}

// Strategy describes one named loading discipline.
type Strategy struct {
	// Name uniquely identifies the strategy within a registry.
	Name string

	// QualityProgression is the strictly increasing list of quality
	// thresholds fetched on the way to a target.
	QualityProgression []int

	// PreloadDistance is how many neighboring images to warm at low quality.
	PreloadDistance int

	// MaxConcurrentLoads bounds simultaneous fetches while this strategy
	// is active. Always >= 1.
	MaxConcurrentLoads int

	// Priority scores pending requests for dispatch ordering.
	Priority Formula
}

// Progression returns the quality thresholds. Satisfies
// pyramid.ProgressionSelector.
func (s *Strategy) Progression() []int {
	return s.QualityProgression
}

// Validate checks the strategy invariants: non-empty name, strictly
// increasing progression within 1-100, and a concurrency limit of at least 1.
func (s *Strategy) Validate() error {
	if s.Name == "" {
		return errors.New("strategy name is required")
	}
	if len(s.QualityProgression) == 0 {
		return fmt.Errorf("strategy %q: empty quality progression", s.Name)
	}
	prev := 0
	for _, q := range s.QualityProgression {
		if q < 1 || q > 100 {
			return fmt.Errorf("strategy %q: quality %d out of range", s.Name, q)
		}
		if q <= prev {
			return fmt.Errorf("strategy %q: progression not strictly increasing at %d", s.Name, q)
		}
		prev = q
	}
	if s.MaxConcurrentLoads < 1 {
		return fmt.Errorf("strategy %q: max concurrent loads must be >= 1", s.Name)
	}
	if s.PreloadDistance < 0 {
		return fmt.Errorf("strategy %q: negative preload distance", s.Name)
	}
	if s.Priority.Kind == FormulaCustom && s.Priority.Fn == nil {
		return fmt.Errorf("strategy %q: custom formula without function", s.Name)
	}
	return nil
}
