package aggregate

import (
	"math"

	"facefeed/internal/reconcile"
)

// DefaultCapacity is used when no positive capacity is configured.
const DefaultCapacity = 100

// Occupancy buckets the capacity percentage.
type Occupancy string

const (
	OccupancyLow      Occupancy = "low"
	OccupancyModerate Occupancy = "moderate"
	OccupancyHigh     Occupancy = "high"
)

// Summary is derived from a snapshot and never mutated on its own.
type Summary struct {
	KnownCount      int       `json:"known_count"`
	UnknownCount    int       `json:"unknown_count"`
	Total           int       `json:"total"`
	Capacity        int       `json:"capacity"`
	CapacityPercent int       `json:"capacity_percent"`
	Occupancy       Occupancy `json:"occupancy"`
}

// Summarize computes counts and capacity usage for snap.
func Summarize(snap reconcile.Snapshot, capacity int) Summary {
	return FromCounts(len(snap.Known), len(snap.Unknown), capacity)
}

// FromCounts is Summarize for callers that only hold partition sizes.
func FromCounts(known, unknown, capacity int) Summary {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	total := known + unknown
	pct := int(math.Round(100 * float64(total) / float64(capacity)))
	pct = min(max(pct, 0), 100)

	return Summary{
		KnownCount:      known,
		UnknownCount:    unknown,
		Total:           total,
		Capacity:        capacity,
		CapacityPercent: pct,
		Occupancy:       occupancyFor(pct),
	}
}

func occupancyFor(pct int) Occupancy {
	switch {
	case pct < 50:
		return OccupancyLow
	case pct < 80:
		return OccupancyModerate
	default:
		return OccupancyHigh
	}
}
