package pricing

import (
	"math"
	"time"
)

// Engine computes demand-aware surge multipliers. All three factors are
// bounded before combination and the product is clamped to [Min, Max], so
// no input combination can escape the band.
type Engine struct {
	Min float64
	Max float64
}

func NewEngine(min, max float64) *Engine {
	if min < 1.0 {
		min = 1.0
	}
	if max < min {
		max = min
	}
	return &Engine{Min: min, Max: max}
}

// Multiplier combines the demand/supply ratio, the local time band and the
// nearby-request density into one clamped factor.
func (e *Engine) Multiplier(demandCount, supplyCount int, at time.Time, nearbyRequestCount int) float64 {
	ds := demandSupplyFactor(demandCount, supplyCount, e.Max)
	band := timeBandFactor(at.Hour())
	density := densityFactor(nearbyRequestCount)
	return clamp(ds*band*density, e.Min, e.Max)
}

func demandSupplyFactor(demand, supply int, limit float64) float64 {
	s := supply
	if s < 1 {
		s = 1
	}
	f := math.Max(1.0, float64(demand)/float64(s))
	return math.Min(f, limit)
}

// Bands are half-open on local hour-of-day; a boundary hour belongs to the
// band it opens. Late night wraps across midnight.
func timeBandFactor(hour int) float64 {
	switch {
	case hour >= 23 || hour < 5:
		return 1.3 // late-night safety premium
	case hour >= 7 && hour < 10:
		return 1.2 // morning rush
	case hour >= 17 && hour < 21:
		return 1.2 // evening rush
	default:
		return 1.0
	}
}

func densityFactor(nearby int) float64 {
	switch {
	case nearby < 3:
		return 1.0
	case nearby < 6:
		return 1.1
	case nearby < 10:
		return 1.2
	default:
		return 1.3
	}
}

// BaseFare is rate per seat per km times distance times seats. It mirrors
// what the fare-estimation collaborator charges; dispatch only needs it for
// the offer estimate.
func BaseFare(ratePerSeatKm, distanceKm float64, seats int) float64 {
	return ratePerSeatKm * distanceKm * float64(seats)
}

// ApplySurge multiplies and rounds to currency precision, half-up.
func ApplySurge(baseFare, multiplier float64) float64 {
	return math.Floor(baseFare*multiplier*100+0.5) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
