package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

func request(seats int) models.RideRequest {
	return models.RideRequest{
		ID:          "r1",
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: 28.6139, Lon: 77.2090},
		Destination: models.Coord{Lat: 28.5355, Lon: 77.3910},
		Seats:       seats,
	}
}

// candidateAtKm places a driver roughly km kilometers north of the pickup.
// One degree of latitude is ~111.19 km.
func candidateAtKm(id string, km float64, capacity int, rating float64, completed, offered int) models.DriverCandidate {
	return models.DriverCandidate{
		DriverID:       id,
		Loc:            models.Coord{Lat: 28.6139 + km/111.19, Lon: 77.2090},
		SeatCapacity:   capacity,
		Rating:         rating,
		RidesCompleted: completed,
		RidesOffered:   offered,
	}
}

func TestCapacityMustStrictlyExceedSeats(t *testing.T) {
	s := New(10)
	// a request for 4 must exclude a 4-seat vehicle and include a 5-seat one
	ranked := s.Rank(request(4), []models.DriverCandidate{
		candidateAtKm("exact", 1, 4, 5.0, 90, 100),
		candidateAtKm("fits", 2, 5, 4.0, 90, 100),
		candidateAtKm("small", 1, 2, 5.0, 90, 100),
	})
	require.Len(t, ranked, 1)
	assert.Equal(t, "fits", ranked[0].DriverID)
}

func TestRankingPrefersCloseHighlyRatedDriver(t *testing.T) {
	s := New(10)
	ranked := s.Rank(request(2), []models.DriverCandidate{
		candidateAtKm("far-perfect", 9, 4, 5.0, 95, 100),
		candidateAtKm("near-good", 1, 4, 4.8, 90, 100),
		candidateAtKm("mid-ok", 4, 4, 4.0, 80, 100),
	})
	require.Len(t, ranked, 3)
	assert.Equal(t, "near-good", ranked[0].DriverID)
	// scores strictly descending
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)
	assert.GreaterOrEqual(t, ranked[1].Score, ranked[2].Score)
}

func TestTieBreaksOnLowerDriverID(t *testing.T) {
	s := New(10)
	a := candidateAtKm("b-driver", 2, 4, 4.5, 80, 100)
	b := candidateAtKm("a-driver", 2, 4, 4.5, 80, 100)
	ranked := s.Rank(request(2), []models.DriverCandidate{a, b})
	require.Len(t, ranked, 2)
	assert.Equal(t, "a-driver", ranked[0].DriverID)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
}

func TestNewDriverGetsNeutralMidpoint(t *testing.T) {
	s := New(10)
	// same position and capacity; the veteran has terrible history, the new
	// driver has none. Neutral 0.5 on rating and acceptance should place the
	// new driver above a 1-star, never-accepting veteran.
	ranked := s.Rank(request(2), []models.DriverCandidate{
		candidateAtKm("veteran", 2, 4, 1.0, 0, 100),
		candidateAtKm("rookie", 2, 4, 0, 0, 0),
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "rookie", ranked[0].DriverID)
}

func TestMinimalSurplusScoresHigherOnFit(t *testing.T) {
	s := New(10)
	ranked := s.Rank(request(2), []models.DriverCandidate{
		candidateAtKm("van", 2, 8, 4.5, 80, 100),
		candidateAtKm("sedan", 2, 3, 4.5, 80, 100),
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "sedan", ranked[0].DriverID)
}

func TestRankFillsDerivedFields(t *testing.T) {
	s := New(10)
	ranked := s.Rank(request(1), []models.DriverCandidate{
		candidateAtKm("d1", 3, 4, 4.0, 50, 60),
	})
	require.Len(t, ranked, 1)
	assert.InDelta(t, 3.0, ranked[0].DistanceKm, 0.1)
	assert.InDelta(t, 300.0, ranked[0].EtaSeconds, 10) // 3km at 10 m/s
	assert.Greater(t, ranked[0].Score, 0.0)
	assert.LessOrEqual(t, ranked[0].Score, 1.0)
}

func TestEmptyInputRanksEmpty(t *testing.T) {
	s := New(10)
	assert.Empty(t, s.Rank(request(2), nil))
}
