package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisAvailability implements Availability on top of Redis: a GEO set for
// radius debugging, one membership set per geohash cell, and one meta hash
// per driver.
type RedisAvailability struct {
	client    *redis.Client
	geoKey    string
	precision uint
}

func NewRedisAvailability(addr, password, geoKey string, precision uint) *RedisAvailability {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisAvailability{client: c, geoKey: geoKey, precision: precision}
}

// NewRedisAvailabilityFromClient wires an existing client, mainly for the
// location consumer which shares its connection.
func NewRedisAvailabilityFromClient(c *redis.Client, geoKey string, precision uint) *RedisAvailability {
	return &RedisAvailability{client: c, geoKey: geoKey, precision: precision}
}

func (r *RedisAvailability) UpdateLocation(ctx context.Context, loc models.DriverLocation) error {
	cell := Cell(loc.Loc.Lat, loc.Loc.Lon, r.precision)
	meta := metaKey(loc.DriverID)

	if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: loc.Loc.Lon, Latitude: loc.Loc.Lat, Name: loc.DriverID}).Result(); err != nil {
		return err
	}

	// Move the driver's cell membership before writing meta so a reader
	// never finds a cell entry without coordinates.
	if prev, err := r.client.HGet(ctx, meta, "cell").Result(); err == nil && prev != "" && prev != cell {
		_ = r.client.SRem(ctx, cellKey(prev), loc.DriverID).Err()
	}
	if err := r.client.SAdd(ctx, cellKey(cell), loc.DriverID).Err(); err != nil {
		return err
	}

	values := map[string]interface{}{
		"lat":     strconv.FormatFloat(loc.Loc.Lat, 'f', 6, 64),
		"lon":     strconv.FormatFloat(loc.Loc.Lon, 'f', 6, 64),
		"online":  strconv.FormatBool(loc.Online),
		"cell":    cell,
		"updated": time.Now().Format(time.RFC3339),
	}
	if loc.SeatCapacity > 0 {
		values["capacity"] = strconv.Itoa(loc.SeatCapacity)
	}
	return r.client.HSet(ctx, meta, values).Err()
}

func (r *RedisAvailability) DriversInCells(ctx context.Context, cells []string) ([]models.DriverStatus, error) {
	var out []models.DriverStatus
	for _, c := range cells {
		ids, err := r.client.SMembers(ctx, cellKey(c)).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			m, err := r.client.HGetAll(ctx, metaKey(id)).Result()
			if err != nil || len(m) == 0 {
				continue
			}
			st := models.DriverStatus{DriverID: id}
			if v, err := strconv.ParseFloat(m["lat"], 64); err == nil {
				st.Loc.Lat = v
			}
			if v, err := strconv.ParseFloat(m["lon"], 64); err == nil {
				st.Loc.Lon = v
			}
			if v, err := strconv.Atoi(m["capacity"]); err == nil {
				st.SeatCapacity = v
			}
			st.Online = m["online"] == "true"
			if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
				st.Updated = t
			}
			if !st.Online {
				continue
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func (r *RedisAvailability) SetOffline(ctx context.Context, driverID string) error {
	meta := metaKey(driverID)
	if cell, err := r.client.HGet(ctx, meta, "cell").Result(); err == nil && cell != "" {
		_ = r.client.SRem(ctx, cellKey(cell), driverID).Err()
	}
	_ = r.client.ZRem(ctx, r.geoKey, driverID).Err()
	return r.client.HSet(ctx, meta, "online", "false").Err()
}

func metaKey(id string) string   { return "driver:meta:" + id }
func cellKey(cell string) string { return "driver:cell:" + cell }
