package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// countingStore wraps the memory store to count materialized rides.
type countingStore struct {
	*storage.MemoryStore
	mu    sync.Mutex
	saved []models.RideRequest
}

func (c *countingStore) SaveRequest(ctx context.Context, r *models.RideRequest) error {
	c.mu.Lock()
	c.saved = append(c.saved, *r)
	c.mu.Unlock()
	return c.MemoryStore.SaveRequest(ctx, r)
}

type sink struct {
	mu   sync.Mutex
	msgs map[string][]interface{}
}

func newSink() *sink { return &sink{msgs: make(map[string][]interface{})} }

func (s *sink) Send(identity string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[identity] = append(s.msgs[identity], v)
	return nil
}

func newTestTrigger(t *testing.T, now time.Time) (*Trigger, *countingStore, *sink) {
	t.Helper()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	out := newSink()
	tr := NewTrigger(logging.NewNop(), store, out, time.Minute)
	tr.now = func() time.Time { return now }
	return tr, store, out
}

func seedSchedule(t *testing.T, store storage.Store, id, driverID, recurrence string) {
	t.Helper()
	require.NoError(t, store.UpsertSchedule(context.Background(), &models.Schedule{
		ID:          id,
		DriverID:    driverID,
		Source:      models.Coord{Lat: 28.6139, Lon: 77.2090},
		Destination: models.Coord{Lat: 28.5355, Lon: 77.3910},
		Recurrence:  recurrence,
	}))
}

func TestMaterializesOncePerDay(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	tr, store, out := newTestTrigger(t, now)
	seedSchedule(t, store, "s1", "d1", "0 8 * * *") // daily at 08:00

	// two ticks in the same minute: exactly one ride
	tr.Evaluate(context.Background())
	tr.Evaluate(context.Background())

	require.Len(t, store.saved, 1)
	ride := store.saved[0]
	assert.Equal(t, "d1", ride.AcceptedDriver)
	assert.Equal(t, models.StatusCreated, ride.Status)
	require.Len(t, out.msgs["d1"], 1)
	notice, ok := out.msgs["d1"][0].(models.ScheduledRide)
	require.True(t, ok)
	assert.Equal(t, "s1", notice.ScheduleID)
	assert.Equal(t, "2025-03-12", notice.Day)
}

func TestNotDueYet(t *testing.T) {
	now := time.Date(2025, 3, 12, 7, 30, 0, 0, time.UTC)
	tr, store, _ := newTestTrigger(t, now)
	seedSchedule(t, store, "s1", "d1", "0 8 * * *")

	tr.Evaluate(context.Background())
	assert.Empty(t, store.saved)
}

func TestMaterializesAgainNextDay(t *testing.T) {
	day1 := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	tr, store, _ := newTestTrigger(t, day1)
	seedSchedule(t, store, "s1", "d1", "0 8 * * *")

	tr.Evaluate(context.Background())
	require.Len(t, store.saved, 1)

	tr.now = func() time.Time { return day1.Add(24 * time.Hour) }
	tr.Evaluate(context.Background())
	assert.Len(t, store.saved, 2)
}

func TestSkipsWrongWeekday(t *testing.T) {
	// 2025-03-12 is a Wednesday; schedule fires Mondays only
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	tr, store, _ := newTestTrigger(t, now)
	seedSchedule(t, store, "s1", "d1", "0 8 * * 1")

	tr.Evaluate(context.Background())
	assert.Empty(t, store.saved)
}

func TestBadRecurrenceDoesNotBlockOthers(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	tr, store, _ := newTestTrigger(t, now)
	seedSchedule(t, store, "bad", "d1", "not a cron line")
	seedSchedule(t, store, "good", "d2", "0 8 * * *")

	tr.Evaluate(context.Background())
	require.Len(t, store.saved, 1)
	assert.Equal(t, "d2", store.saved[0].AcceptedDriver)
}

func TestConcurrentEvaluationsClaimOnce(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	tr, store, _ := newTestTrigger(t, now)
	seedSchedule(t, store, "s1", "d1", "0 8 * * *")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Evaluate(context.Background())
		}()
	}
	wg.Wait()
	assert.Len(t, store.saved, 1)
}

func TestDayBoundaryFollowsLocalClock(t *testing.T) {
	// 02:00 IST is still the previous day in UTC; the schedule's 01:00
	// activation must count for the local calendar day.
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, 3, 12, 2, 0, 0, 0, ist)
	tr, store, out := newTestTrigger(t, now)
	seedSchedule(t, store, "s1", "d1", "0 1 * * *")

	tr.Evaluate(context.Background())
	require.Len(t, store.saved, 1)
	notice, ok := out.msgs["d1"][0].(models.ScheduledRide)
	require.True(t, ok)
	assert.Equal(t, "2025-03-12", notice.Day)

	tr.Evaluate(context.Background())
	assert.Len(t, store.saved, 1)
}
