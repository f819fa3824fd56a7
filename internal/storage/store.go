package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator for the dispatch core: durable
// history for terminal requests, booking creation on accept, driver and
// vehicle reads, and the schedule materialization marker.
type Store interface {
	SaveRequest(ctx context.Context, r *models.RideRequest) error
	CreateBooking(ctx context.Context, b *models.Booking) error

	DriverProfile(ctx context.Context, driverID string) (models.DriverProfile, error)
	Vehicle(ctx context.Context, vehicleID string) (models.Vehicle, error)

	Schedules(ctx context.Context) ([]models.Schedule, error)
	UpsertSchedule(ctx context.Context, s *models.Schedule) error
	// ClaimMaterialization advances the schedule's last-materialized marker
	// to day as a single guarded step. Day is midnight in the caller's
	// location. It returns false when the day was already claimed, which
	// makes the trigger idempotent per calendar day.
	ClaimMaterialization(ctx context.Context, scheduleID string, day time.Time) (bool, error)
}

// MemoryStore backs local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*models.RideRequest
	bookings  map[string]*models.Booking
	profiles  map[string]models.DriverProfile
	vehicles  map[string]models.Vehicle
	schedules map[string]*models.Schedule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.RideRequest),
		bookings:  make(map[string]*models.Booking),
		profiles:  make(map[string]models.DriverProfile),
		vehicles:  make(map[string]models.Vehicle),
		schedules: make(map[string]*models.Schedule),
	}
}

func (m *MemoryStore) SaveRequest(_ context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) DriverProfile(_ context.Context, driverID string) (models.DriverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[driverID]
	if !ok {
		return models.DriverProfile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) Vehicle(_ context.Context, vehicleID string) (models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		return models.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Schedules(_ context.Context) ([]models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) UpsertSchedule(_ context.Context, s *models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ClaimMaterialization(_ context.Context, scheduleID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok {
		return false, ErrNotFound
	}
	if !s.LastMaterialized.Before(day) {
		return false, nil
	}
	s.LastMaterialized = day
	return true, nil
}

// test seeding helpers

func (m *MemoryStore) SeedProfile(p models.DriverProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.DriverID] = p
}

func (m *MemoryStore) SeedVehicle(v models.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.VehicleID] = v
}

func (m *MemoryStore) Request(id string) (*models.RideRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r, ok
}

func (m *MemoryStore) Bookings() []models.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, *b)
	}
	return out
}
