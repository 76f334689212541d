package bandwidth

import (
	"errors"
	"fmt"

	"github.com/medview/pyraload/pkg/strategy"
)

// ErrProfileNotFound indicates the requested bandwidth profile does not exist.
var ErrProfileNotFound = errors.New("bandwidth profile not found")

// Profile names, one per classification band.
const (
	HighSpeed    = "high-speed"
	MediumSpeed  = "medium-speed"
	LowSpeed     = "low-speed"
	VeryLowSpeed = "very-low-speed"
)

// QualityThresholds are the quality ceilings a profile suggests for low,
// medium, and high fidelity rendering.
type QualityThresholds struct {
	Low    int
	Medium int
	High   int
}

// Profile is a named classification of network conditions mapped to a
// default loading strategy and quality ceilings.
type Profile struct {
	Name         string
	DownlinkMbps float64 // minimum downlink for this band
	RTTMs        int     // typical round-trip time for this band
	StrategyName string
	Thresholds   QualityThresholds
}

// profiles is ordered by descending minimum downlink; Classify walks it top
// down and the last entry is the catch-all.
var profiles = []Profile{
	{
		Name:         HighSpeed,
		DownlinkMbps: 10,
		RTTMs:        50,
		StrategyName: strategy.UltraFast,
		Thresholds:   QualityThresholds{Low: 50, Medium: 75, High: 100},
	},
	{
		Name:         MediumSpeed,
		DownlinkMbps: 5,
		RTTMs:        100,
		StrategyName: strategy.Balanced,
		Thresholds:   QualityThresholds{Low: 25, Medium: 50, High: 75},
	},
	{
		Name:         LowSpeed,
		DownlinkMbps: 1,
		RTTMs:        300,
		StrategyName: strategy.BandwidthSaver,
		Thresholds:   QualityThresholds{Low: 25, Medium: 40, High: 50},
	},
	{
		Name:         VeryLowSpeed,
		DownlinkMbps: 0,
		RTTMs:        1000,
		StrategyName: strategy.BandwidthSaver,
		Thresholds:   QualityThresholds{Low: 10, Medium: 25, High: 40},
	},
}

// Classify maps a downlink measurement (Mbps) to its profile band. It is a
// pure function: identical inputs always yield the same profile.
func Classify(downlinkMbps float64) Profile {
	for _, p := range profiles {
		if downlinkMbps >= p.DownlinkMbps {
			return p
		}
	}
	return profiles[len(profiles)-1]
}

// ProfileByName returns the profile with the given name.
func ProfileByName(name string) (Profile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// Profiles returns all known profiles ordered from fastest to slowest band.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}
