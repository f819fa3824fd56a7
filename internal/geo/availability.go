package geo

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Availability is the live driver-availability view consumed by dispatch.
// Implementations index drivers by geohash cell so radius queries avoid a
// full scan.
type Availability interface {
	UpdateLocation(ctx context.Context, loc models.DriverLocation) error
	DriversInCells(ctx context.Context, cells []string) ([]models.DriverStatus, error)
	SetOffline(ctx context.Context, driverID string) error
}

// MemoryAvailability keeps the per-cell index in process memory. Used for
// local runs and tests; production deployments use RedisAvailability.
type MemoryAvailability struct {
	mu        sync.RWMutex
	precision uint
	drivers   map[string]models.DriverStatus
	cells     map[string]map[string]bool // cell -> driver ids
	cellOf    map[string]string
}

func NewMemoryAvailability(precision uint) *MemoryAvailability {
	return &MemoryAvailability{
		precision: precision,
		drivers:   make(map[string]models.DriverStatus),
		cells:     make(map[string]map[string]bool),
		cellOf:    make(map[string]string),
	}
}

func (m *MemoryAvailability) UpdateLocation(_ context.Context, loc models.DriverLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.drivers[loc.DriverID]
	st.DriverID = loc.DriverID
	st.Loc = loc.Loc
	st.Online = loc.Online
	if loc.SeatCapacity > 0 {
		st.SeatCapacity = loc.SeatCapacity
	}
	st.Updated = loc.Updated
	if st.Updated.IsZero() {
		st.Updated = time.Now()
	}
	m.drivers[loc.DriverID] = st

	cell := Cell(loc.Loc.Lat, loc.Loc.Lon, m.precision)
	if prev, ok := m.cellOf[loc.DriverID]; ok && prev != cell {
		delete(m.cells[prev], loc.DriverID)
	}
	if m.cells[cell] == nil {
		m.cells[cell] = make(map[string]bool)
	}
	m.cells[cell][loc.DriverID] = true
	m.cellOf[loc.DriverID] = cell
	return nil
}

func (m *MemoryAvailability) DriversInCells(_ context.Context, cells []string) ([]models.DriverStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DriverStatus
	for _, c := range cells {
		for id := range m.cells[c] {
			st := m.drivers[id]
			if !st.Online {
				continue
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *MemoryAvailability) SetOffline(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.drivers[driverID]; ok {
		st.Online = false
		m.drivers[driverID] = st
	}
	if cell, ok := m.cellOf[driverID]; ok {
		delete(m.cells[cell], driverID)
		delete(m.cellOf, driverID)
	}
	return nil
}
