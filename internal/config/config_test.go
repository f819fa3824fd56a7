package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.OfferTimeout)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, uint(6), cfg.GeohashPrecision)
	assert.Equal(t, 5.0, cfg.SearchRadiusKm)
	assert.Equal(t, 1.0, cfg.SurgeMin)
	assert.Equal(t, 3.0, cfg.SurgeMax)
	assert.Equal(t, 60*time.Second, cfg.ScheduleTick)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DISPATCH_OFFER_TIMEOUT", "90s")
	t.Setenv("DISPATCH_TOP_K", "5")
	t.Setenv("GEOHASH_PRECISION", "7")
	t.Setenv("SEARCH_RADIUS_KM", "2.5")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.OfferTimeout)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, uint(7), cfg.GeohashPrecision)
	assert.Equal(t, 2.5, cfg.SearchRadiusKm)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestInvalidValuesAccumulate(t *testing.T) {
	t.Setenv("DISPATCH_OFFER_TIMEOUT", "soon")
	t.Setenv("DISPATCH_TOP_K", "0")
	t.Setenv("SURGE_MIN", "2.0")
	t.Setenv("SURGE_MAX", "1.5")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_OFFER_TIMEOUT")
	assert.Contains(t, err.Error(), "DISPATCH_TOP_K")
	assert.Contains(t, err.Error(), "surge bounds")
}
