package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_requests(id, passenger_id, pickup_lat, pickup_lon, dest_lat, dest_lon, seats, requested_at, created_at, status, surge, fare, accepted_driver, reason)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, surge=EXCLUDED.surge, fare=EXCLUDED.fare, accepted_driver=EXCLUDED.accepted_driver, reason=EXCLUDED.reason`,
		r.ID, r.PassengerID, r.Pickup.Lat, r.Pickup.Lon, r.Destination.Lat, r.Destination.Lon,
		r.Seats, r.RequestedAt, r.CreatedAt, string(r.Status), r.Surge, r.Fare, r.AcceptedDriver, r.Reason)
	return err
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, request_id, passenger_id, driver_id, vehicle_id, fare, surge, hold_id, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.RequestID, b.PassengerID, b.DriverID, b.VehicleID, b.Fare, b.Surge, b.HoldID, b.CreatedAt)
	return err
}

func (p *PostgresStore) DriverProfile(ctx context.Context, driverID string) (models.DriverProfile, error) {
	var out models.DriverProfile
	err := p.db.QueryRowContext(ctx, `SELECT driver_id, rating, rides_completed, rides_offered FROM driver_profiles WHERE driver_id=$1`, driverID).
		Scan(&out.DriverID, &out.Rating, &out.RidesCompleted, &out.RidesOffered)
	if err == sql.ErrNoRows {
		return out, ErrNotFound
	}
	return out, err
}

func (p *PostgresStore) Vehicle(ctx context.Context, vehicleID string) (models.Vehicle, error) {
	var out models.Vehicle
	err := p.db.QueryRowContext(ctx, `SELECT vehicle_id, driver_id, seat_capacity FROM vehicles WHERE vehicle_id=$1`, vehicleID).
		Scan(&out.VehicleID, &out.DriverID, &out.SeatCapacity)
	if err == sql.ErrNoRows {
		return out, ErrNotFound
	}
	return out, err
}

func (p *PostgresStore) Schedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, driver_id, src_lat, src_lon, dest_lat, dest_lon, recurrence, last_materialized FROM schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Schedule
	for rows.Next() {
		var s models.Schedule
		if err := rows.Scan(&s.ID, &s.DriverID, &s.Source.Lat, &s.Source.Lon, &s.Destination.Lat, &s.Destination.Lon, &s.Recurrence, &s.LastMaterialized); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertSchedule(ctx context.Context, s *models.Schedule) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO schedules(id, driver_id, src_lat, src_lon, dest_lat, dest_lon, recurrence, last_materialized)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET recurrence=EXCLUDED.recurrence, src_lat=EXCLUDED.src_lat, src_lon=EXCLUDED.src_lon, dest_lat=EXCLUDED.dest_lat, dest_lon=EXCLUDED.dest_lon`,
		s.ID, s.DriverID, s.Source.Lat, s.Source.Lon, s.Destination.Lat, s.Destination.Lon, s.Recurrence, s.LastMaterialized)
	return err
}

// ClaimMaterialization relies on the WHERE clause so the check and the
// update are one statement; two concurrent triggers cannot both claim the
// same (schedule, day).
func (p *PostgresStore) ClaimMaterialization(ctx context.Context, scheduleID string, day time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE schedules SET last_materialized=$1 WHERE id=$2 AND last_materialized < $1`, day, scheduleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
