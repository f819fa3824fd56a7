package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus tracks a ride request through the dispatch lifecycle.
type RequestStatus string

const (
	StatusCreated   RequestStatus = "created"
	StatusMatching  RequestStatus = "matching"
	StatusNotified  RequestStatus = "notified"
	StatusAccepted  RequestStatus = "accepted"
	StatusExpired   RequestStatus = "expired"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusExpired || s == StatusCancelled
}

type RideRequest struct {
	ID          string        `json:"id"`
	PassengerID string        `json:"passenger_id"`
	Pickup      Coord         `json:"pickup"`
	Destination Coord         `json:"destination"`
	Seats       int           `json:"seats"`
	RequestedAt time.Time     `json:"requested_at"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      RequestStatus `json:"status"`
	Surge       float64       `json:"surge"`
	Fare        float64       `json:"fare"`

	NotifiedDrivers []string `json:"notified_drivers,omitempty"`
	AcceptedDriver  string   `json:"accepted_driver,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// DriverCandidate is derived per matching attempt and never cached across
// requests.
type DriverCandidate struct {
	DriverID       string  `json:"driver_id"`
	Loc            Coord   `json:"loc"`
	SeatCapacity   int     `json:"seat_capacity"`
	Rating         float64 `json:"rating"` // 0..5
	RidesCompleted int     `json:"rides_completed"`
	RidesOffered   int     `json:"rides_offered"`
	DistanceKm     float64 `json:"distance_km"`
	EtaSeconds     float64 `json:"eta_seconds"`
	Score          float64 `json:"score"`
}

type DriverLocation struct {
	DriverID     string    `json:"driver_id"`
	Loc          Coord     `json:"loc"`
	RideID       string    `json:"ride_id,omitempty"`
	SeatCapacity int       `json:"seat_capacity,omitempty"`
	Online       bool      `json:"online"`
	Updated      time.Time `json:"updated"`
}

// DriverStatus is the live availability record kept per driver.
type DriverStatus struct {
	DriverID     string    `json:"driver_id"`
	Loc          Coord     `json:"loc"`
	SeatCapacity int       `json:"seat_capacity"`
	Online       bool      `json:"online"`
	Updated      time.Time `json:"updated"`
}

type DriverProfile struct {
	DriverID       string  `json:"driver_id"`
	Rating         float64 `json:"rating"`
	RidesCompleted int     `json:"rides_completed"`
	RidesOffered   int     `json:"rides_offered"`
}

type Vehicle struct {
	VehicleID    string `json:"vehicle_id"`
	DriverID     string `json:"driver_id"`
	SeatCapacity int    `json:"seat_capacity"`
}

type Booking struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id"`
	VehicleID   string    `json:"vehicle_id"`
	Fare        float64   `json:"fare"`
	Surge       float64   `json:"surge"`
	HoldID      string    `json:"hold_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Schedule is a driver-owned recurring ride definition. At most one concrete
// ride is materialized per schedule per calendar day.
type Schedule struct {
	ID               string    `json:"id"`
	DriverID         string    `json:"driver_id"`
	Source           Coord     `json:"source"`
	Destination      Coord     `json:"destination"`
	Recurrence       string    `json:"recurrence"` // cron expression
	LastMaterialized time.Time `json:"last_materialized"`
}
