package scorer

import (
	"sort"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Weights for the composite candidate score. They must sum to 1 for the
// score itself to stay in [0,1], but ranking only needs relative magnitudes.
type Weights struct {
	Distance    float64
	Rating      float64
	Acceptance  float64
	Eta         float64
	CapacityFit float64
}

func DefaultWeights() Weights {
	return Weights{Distance: 0.35, Rating: 0.25, Acceptance: 0.15, Eta: 0.15, CapacityFit: 0.10}
}

// Scorer ranks driver candidates for one request. ETA comes from the
// optional routing client with a naive speed-model fallback, same as the
// rest of the platform.
type Scorer struct {
	Weights         Weights
	DefaultSpeedMps float64
	ETAClient       eta.Client
	ETACache        *eta.Cache
}

func New(defaultSpeedMps float64) *Scorer {
	return &Scorer{Weights: DefaultWeights(), DefaultSpeedMps: defaultSpeedMps}
}

// Rank filters out candidates that cannot carry the request and returns the
// rest ordered by descending composite score. The capacity check is strict:
// a vehicle must seat the party plus the driver, so capacity == seats is
// excluded. Ties break on ascending driver id so runs are reproducible.
func (s *Scorer) Rank(req models.RideRequest, cands []models.DriverCandidate) []models.DriverCandidate {
	out := make([]models.DriverCandidate, 0, len(cands))
	for _, c := range cands {
		if c.SeatCapacity <= req.Seats {
			continue
		}
		c.DistanceKm = geo.DistanceKm(c.Loc, req.Pickup)
		c.EtaSeconds = s.estimateEta(c.Loc, req.Pickup)
		c.Score = s.score(req, c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out
}

func (s *Scorer) score(req models.RideRequest, c models.DriverCandidate) float64 {
	w := s.Weights

	distance := 1.0 / (1.0 + c.DistanceKm)

	rating := 0.5 // neutral midpoint so new drivers are not buried
	if c.RidesOffered > 0 {
		rating = clamp01(c.Rating / 5.0)
	}

	acceptance := 0.5
	if c.RidesOffered > 0 {
		acceptance = clamp01(float64(c.RidesCompleted) / float64(c.RidesOffered))
	}

	etaScore := 1.0 / (1.0 + c.EtaSeconds/60.0)

	// Minimal surplus over the requirement scores highest: a party of 2 is
	// better served by a 3-seater than by a van.
	surplus := float64(c.SeatCapacity - req.Seats)
	fit := clamp01(1.0 / surplus)

	return w.Distance*distance + w.Rating*rating + w.Acceptance*acceptance + w.Eta*etaScore + w.CapacityFit*fit
}

func (s *Scorer) estimateEta(from, to models.Coord) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, s.DefaultSpeedMps)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
