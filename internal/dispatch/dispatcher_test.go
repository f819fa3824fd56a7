package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/scorer"
	"github.com/example/ride-dispatch/internal/storage"
)

// recorder captures every notification per identity.
type recorder struct {
	mu   sync.Mutex
	msgs map[string][]interface{}
}

func newRecorder() *recorder { return &recorder{msgs: make(map[string][]interface{})} }

func (r *recorder) Send(identity string, v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[identity] = append(r.msgs[identity], v)
	return nil
}

func (r *recorder) kinds(identity string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs[identity] {
		switch t := m.(type) {
		case models.Offer:
			out = append(out, t.Kind)
		case models.Taken:
			out = append(out, t.Kind)
		case models.Assigned:
			out = append(out, t.Kind)
		case models.Closed:
			out = append(out, t.Kind)
		}
	}
	return out
}

func (r *recorder) has(identity, kind string) bool {
	for _, k := range r.kinds(identity) {
		if k == kind {
			return true
		}
	}
	return false
}

const (
	pickupLat = 28.6139
	pickupLon = 77.2090
)

type fixture struct {
	d     *Dispatcher
	store *storage.MemoryStore
	avail *geo.MemoryAvailability
	rec   *recorder
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	avail := geo.NewMemoryAvailability(6)
	rec := newRecorder()
	d := New(logging.NewNop(), avail, scorer.New(10), pricing.NewEngine(1.0, 3.0), store, rec, Options{
		OfferTimeout:     timeout,
		TopK:             10,
		SearchRadiusKm:   5,
		GeohashPrecision: 6,
		RatePerSeatKm:    12,
	})
	return &fixture{d: d, store: store, avail: avail, rec: rec}
}

// seedDriver places an online driver near the pickup with a matching vehicle.
func (f *fixture) seedDriver(t *testing.T, id string, latOffset float64, capacity int) {
	t.Helper()
	err := f.avail.UpdateLocation(context.Background(), models.DriverLocation{
		DriverID:     id,
		Loc:          models.Coord{Lat: pickupLat + latOffset, Lon: pickupLon},
		SeatCapacity: capacity,
		Online:       true,
	})
	require.NoError(t, err)
	f.store.SeedProfile(models.DriverProfile{DriverID: id, Rating: 4.5, RidesCompleted: 80, RidesOffered: 100})
	f.store.SeedVehicle(models.Vehicle{VehicleID: "v-" + id, DriverID: id, SeatCapacity: capacity})
}

func validParams() CreateParams {
	return CreateParams{
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: pickupLat, Lon: pickupLon},
		Destination: models.Coord{Lat: 28.5355, Lon: 77.3910},
		Seats:       2,
	}
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"missing passenger", func(p *CreateParams) { p.PassengerID = "" }},
		{"zero pickup", func(p *CreateParams) { p.Pickup = models.Coord{} }},
		{"zero destination", func(p *CreateParams) { p.Destination = models.Coord{} }},
		{"zero seats", func(p *CreateParams) { p.Seats = 0 }},
		{"negative seats", func(p *CreateParams) { p.Seats = -1 }},
		{"past time", func(p *CreateParams) { p.RequestedAt = time.Now().Add(-time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := f.d.CreateRequest(ctx, p)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNoCandidatesExpiresImmediately(t *testing.T) {
	f := newFixture(t, time.Minute)
	id, err := f.d.CreateRequest(context.Background(), validParams())
	require.NoError(t, err)

	saved, ok := f.store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusExpired, saved.Status)
	assert.Equal(t, "no candidates", saved.Reason)
	assert.True(t, f.rec.has("p1", models.KindExpired))

	// no longer in the live working set
	_, live := f.d.Request(id)
	assert.False(t, live)
}

func TestFirstAcceptWins(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDriver(t, "d1", 0.001, 4)
	f.seedDriver(t, "d2", 0.002, 4)
	f.seedDriver(t, "d3", 0.003, 4)
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)

	for _, drv := range []string{"d1", "d2", "d3"} {
		assert.True(t, f.rec.has(drv, models.KindOffer), "driver %s should be notified", drv)
	}

	require.NoError(t, f.d.Accept(ctx, id, "d2", "v-d2"))

	// losers get the taken signal, winner and passenger get assigned
	assert.True(t, f.rec.has("d1", models.KindTaken))
	assert.True(t, f.rec.has("d3", models.KindTaken))
	assert.False(t, f.rec.has("d2", models.KindTaken))
	assert.True(t, f.rec.has("d2", models.KindAssigned))
	assert.True(t, f.rec.has("p1", models.KindAssigned))

	saved, ok := f.store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, saved.Status)
	assert.Equal(t, "d2", saved.AcceptedDriver)

	bookings := f.store.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, id, bookings[0].RequestID)
	assert.Equal(t, "d2", bookings[0].DriverID)

	// late accept loses
	assert.Error(t, f.d.Accept(ctx, id, "d1", "v-d1"))
}

func TestConcurrentAcceptsExactlyOneWinner(t *testing.T) {
	f := newFixture(t, time.Minute)
	const n = 10
	drivers := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d%02d", i)
		f.seedDriver(t, id, 0.0005*float64(i+1), 4)
		drivers = append(drivers, id)
	}
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, drv := range drivers {
		wg.Add(1)
		go func(drv string) {
			defer wg.Done()
			errs <- f.d.Accept(ctx, id, drv, "v-"+drv)
		}(drv)
	}
	wg.Wait()
	close(errs)

	winners, losses := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			require.ErrorIs(t, err, ErrAlreadyTaken)
			losses++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, losses)

	saved, ok := f.store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, saved.Status)
	assert.NotEmpty(t, saved.AcceptedDriver)
	assert.Len(t, f.store.Bookings(), 1)
}

func TestStaleCapacityKeepsRequestOpen(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDriver(t, "d1", 0.001, 4)
	f.seedDriver(t, "d2", 0.002, 4)
	// d1's vehicle record shrank since the candidate snapshot
	f.store.SeedVehicle(models.Vehicle{VehicleID: "v-d1", DriverID: "d1", SeatCapacity: 2})
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)

	err = f.d.Accept(ctx, id, "d1", "v-d1")
	assert.ErrorIs(t, err, ErrCapacity)

	// local failure only: the request is still open and d2 can win it
	live, ok := f.d.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusNotified, live.Status)
	require.NoError(t, f.d.Accept(ctx, id, "d2", "v-d2"))
}

func TestCapacityMustExceedSeats(t *testing.T) {
	f := newFixture(t, time.Minute)
	// exactly seats-sized vehicle: excluded, no headroom for the driver
	f.seedDriver(t, "d1", 0.001, 2)
	id, err := f.d.CreateRequest(context.Background(), validParams())
	require.NoError(t, err)

	saved, ok := f.store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusExpired, saved.Status)
	assert.Equal(t, "no candidates", saved.Reason)
}

func TestRejectLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDriver(t, "d1", 0.001, 4)
	f.seedDriver(t, "d2", 0.002, 4)
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)

	require.NoError(t, f.d.Reject(ctx, id, "d1"))
	live, ok := f.d.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusNotified, live.Status)

	// a rejected driver cannot sneak back in
	assert.ErrorIs(t, f.d.Accept(ctx, id, "d1", "v-d1"), ErrInvalidState)
	// the remaining driver still can
	require.NoError(t, f.d.Accept(ctx, id, "d2", "v-d2"))
}

func TestAllRejectedStaysNotifiedUntilTimeout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.seedDriver(t, "d1", 0.001, 4)
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, f.d.Reject(ctx, id, "d1"))

	// no re-broadcast: still notified until the timer fires
	live, ok := f.d.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusNotified, live.Status)

	assert.Eventually(t, func() bool {
		saved, ok := f.store.Request(id)
		return ok && saved.Status == models.StatusExpired
	}, time.Second, 10*time.Millisecond)
}

func TestTimeoutExpiresAndNotifiesPassenger(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.seedDriver(t, "d1", 0.001, 4)
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		saved, ok := f.store.Request(id)
		return ok && saved.Status == models.StatusExpired
	}, time.Second, 10*time.Millisecond)

	assert.True(t, f.rec.has("p1", models.KindExpired))
	assert.True(t, f.rec.has("d1", models.KindTaken))

	// an accept after expiry finds nothing to win
	assert.ErrorIs(t, f.d.Accept(ctx, id, "d1", "v-d1"), ErrAlreadyTaken)
}

func TestAcceptBeatsTimerDeterministically(t *testing.T) {
	f := newFixture(t, 40*time.Millisecond)
	f.seedDriver(t, "d1", 0.001, 4)
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, f.d.Accept(ctx, id, "d1", "v-d1"))

	// let the timeout window pass; the accepted outcome must not change
	time.Sleep(100 * time.Millisecond)
	saved, ok := f.store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, saved.Status)
	assert.False(t, f.rec.has("p1", models.KindExpired))
}

func TestCancelFromNotified(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDriver(t, "d1", 0.001, 4)
	ctx := context.Background()

	id, err := f.d.CreateRequest(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, f.d.Cancel(ctx, id))

	saved, ok := f.store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusCancelled, saved.Status)
	assert.True(t, f.rec.has("p1", models.KindCancelled))
	assert.True(t, f.rec.has("d1", models.KindTaken))

	assert.ErrorIs(t, f.d.Cancel(ctx, id), ErrUnknownRequest)
}

func TestSurgeStampedOnOffer(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDriver(t, "d1", 0.001, 4)

	id, err := f.d.CreateRequest(context.Background(), validParams())
	require.NoError(t, err)

	live, ok := f.d.Request(id)
	require.True(t, ok)
	assert.GreaterOrEqual(t, live.Surge, 1.0)
	assert.LessOrEqual(t, live.Surge, 3.0)
	assert.Greater(t, live.Fare, 0.0)
}

func newDispatcherWith(t *testing.T, store storage.Store, avail *geo.MemoryAvailability, rec *recorder) *Dispatcher {
	t.Helper()
	return New(logging.NewNop(), avail, scorer.New(10), pricing.NewEngine(1.0, 3.0), store, rec, Options{
		OfferTimeout:     time.Minute,
		TopK:             10,
		SearchRadiusKm:   5,
		GeohashPrecision: 6,
		RatePerSeatKm:    12,
	})
}

func seedDriverInto(t *testing.T, avail *geo.MemoryAvailability, ms *storage.MemoryStore, id string, latOffset float64, capacity int) {
	t.Helper()
	require.NoError(t, avail.UpdateLocation(context.Background(), models.DriverLocation{
		DriverID:     id,
		Loc:          models.Coord{Lat: pickupLat + latOffset, Lon: pickupLon},
		SeatCapacity: capacity,
		Online:       true,
	}))
	ms.SeedProfile(models.DriverProfile{DriverID: id, Rating: 4.5, RidesCompleted: 80, RidesOffered: 100})
	ms.SeedVehicle(models.Vehicle{VehicleID: "v-" + id, DriverID: id, SeatCapacity: capacity})
}

// fkStore mirrors the bookings.request_id foreign key: a booking insert
// fails unless the request row already exists.
type fkStore struct {
	*storage.MemoryStore
}

func (s *fkStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	if _, ok := s.Request(b.RequestID); !ok {
		return fmt.Errorf("request %s not persisted", b.RequestID)
	}
	return s.MemoryStore.CreateBooking(ctx, b)
}

func TestAcceptWritesRequestRowBeforeBooking(t *testing.T) {
	store := &fkStore{MemoryStore: storage.NewMemoryStore()}
	avail := geo.NewMemoryAvailability(6)
	rec := newRecorder()
	d := newDispatcherWith(t, store, avail, rec)
	seedDriverInto(t, avail, store.MemoryStore, "d1", 0.001, 4)
	ctx := context.Background()

	id, err := d.CreateRequest(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, d.Accept(ctx, id, "d1", "v-d1"))

	saved, ok := store.Request(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, saved.Status)
	bookings := store.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, id, bookings[0].RequestID)
}

type holdRecorder struct {
	mu       sync.Mutex
	held     []string
	released []string
}

func (p *holdRecorder) Hold(_ context.Context, _ int64, _, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("hold-%d", len(p.held)+1)
	p.held = append(p.held, id)
	return id, nil
}

func (p *holdRecorder) Cancel(_ context.Context, holdID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, holdID)
	return nil
}

type bookingFailStore struct {
	*storage.MemoryStore
}

func (s *bookingFailStore) CreateBooking(context.Context, *models.Booking) error {
	return fmt.Errorf("insert failed")
}

func TestFailedBookingWriteReleasesHold(t *testing.T) {
	store := &bookingFailStore{MemoryStore: storage.NewMemoryStore()}
	avail := geo.NewMemoryAvailability(6)
	rec := newRecorder()
	pay := &holdRecorder{}
	d := newDispatcherWith(t, store, avail, rec).WithPayments(pay)
	seedDriverInto(t, avail, store.MemoryStore, "d1", 0.001, 4)
	ctx := context.Background()

	id, err := d.CreateRequest(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, d.Accept(ctx, id, "d1", "v-d1"))

	require.Len(t, pay.held, 1)
	assert.Equal(t, pay.held, pay.released)
}
