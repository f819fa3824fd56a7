package models

// Outbound notification payloads sent over registered channels. The Kind
// field lets a single socket carry every message type.

const (
	KindOffer     = "offer"
	KindTaken     = "taken"
	KindAssigned  = "assigned"
	KindExpired   = "expired"
	KindCancelled = "cancelled"
	KindScheduled = "scheduled_ride"
)

// Offer is pushed to each notified driver.
type Offer struct {
	Kind         string  `json:"kind"`
	RequestID    string  `json:"request_id"`
	Pickup       Coord   `json:"pickup"`
	Destination  Coord   `json:"destination"`
	Seats        int     `json:"seats"`
	FareEstimate float64 `json:"fare_estimate"`
	Surge        float64 `json:"surge"`
	DistanceKm   float64 `json:"distance_km"`
	EtaSeconds   float64 `json:"eta_seconds"`
}

// Taken tells a losing driver the request is gone.
type Taken struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

// Assigned tells the passenger (and acks the winning driver) who won.
type Assigned struct {
	Kind      string  `json:"kind"`
	RequestID string  `json:"request_id"`
	DriverID  string  `json:"driver_id"`
	VehicleID string  `json:"vehicle_id"`
	Fare      float64 `json:"fare"`
	Surge     float64 `json:"surge"`
}

// Closed tells the passenger a request ended without a driver.
type Closed struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// ScheduledRide tells a driver their recurring ride was materialized.
type ScheduledRide struct {
	Kind        string `json:"kind"`
	ScheduleID  string `json:"schedule_id"`
	RideID      string `json:"ride_id"`
	Source      Coord  `json:"source"`
	Destination Coord  `json:"destination"`
	Day         string `json:"day"`
}

// DriverFrame is an inbound message from a driver socket.
type DriverFrame struct {
	Action    string `json:"action"` // accept | reject
	RequestID string `json:"request_id"`
	VehicleID string `json:"vehicle_id,omitempty"`
}
