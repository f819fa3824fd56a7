package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeUpdater implements IndexUpdater for tests
type fakeUpdater struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakeUpdater) UpdateLocation(ctx context.Context, loc models.DriverLocation) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("index fail")
	}
	return nil
}

func TestUpdateIndexWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{fail: 2}
	loc := models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, Online: true}
	ctx := context.Background()
	start := time.Now()
	if err := updateIndexWithRetry(ctx, f, loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateIndexWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{fail: 5}
	loc := models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, Online: true}
	ctx := context.Background()
	if err := updateIndexWithRetry(ctx, f, loc, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
