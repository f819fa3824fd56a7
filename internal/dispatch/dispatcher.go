package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/scorer"
	"github.com/example/ride-dispatch/internal/storage"
)

// Notifier resolves an identity to its channel and delivers one message.
// *registry.Registry satisfies it; tests swap in a recorder.
type Notifier interface {
	Send(identity string, v interface{}) error
}

// PaymentHolder places a fare hold when a booking is created and releases
// it when the booking cannot be persisted. Capture and settlement live with
// the payment collaborator, not here.
type PaymentHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Cancel(ctx context.Context, holdID string) error
}

// Options are the dispatch tunables, all sourced from config.
type Options struct {
	OfferTimeout     time.Duration
	TopK             int
	SearchRadiusKm   float64
	GeohashPrecision uint
	RatePerSeatKm    float64
	Currency         string
}

// Dispatcher owns the lifecycle of every live ride request. Transitions for
// one request serialize on that request's entry lock; unrelated requests
// proceed in parallel. Storage writes and notification delivery happen
// outside the entry lock.
type Dispatcher struct {
	log      *slog.Logger
	avail    geo.Availability
	scorer   *scorer.Scorer
	surge    *pricing.Engine
	store    storage.Store
	notify   Notifier
	payments PaymentHolder
	opts     Options
	now      func() time.Time

	mu     sync.RWMutex
	active map[string]*entry
}

// entry is the exclusive section for one request id.
type entry struct {
	mu      sync.Mutex
	req     models.RideRequest
	pending map[string]bool
	timer   *time.Timer
	done    bool
}

func New(log *slog.Logger, avail geo.Availability, sc *scorer.Scorer, surge *pricing.Engine, store storage.Store, notify Notifier, opts Options) *Dispatcher {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.OfferTimeout <= 0 {
		opts.OfferTimeout = 2 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "inr"
	}
	return &Dispatcher{
		log:    log,
		avail:  avail,
		scorer: sc,
		surge:  surge,
		store:  store,
		notify: notify,
		opts:   opts,
		now:    time.Now,
		active: make(map[string]*entry),
	}
}

// WithPayments attaches an optional fare-hold collaborator.
func (d *Dispatcher) WithPayments(p PaymentHolder) *Dispatcher {
	d.payments = p
	return d
}

// CreateParams is the inbound createRequest payload.
type CreateParams struct {
	PassengerID string
	Pickup      models.Coord
	Destination models.Coord
	Seats       int
	RequestedAt time.Time
}

func (p CreateParams) validate(now time.Time) error {
	if p.PassengerID == "" {
		return fmt.Errorf("%w: passenger id required", ErrValidation)
	}
	if !validCoord(p.Pickup) || !validCoord(p.Destination) {
		return fmt.Errorf("%w: pickup and destination coordinates required", ErrValidation)
	}
	if p.Seats < 1 {
		return fmt.Errorf("%w: seats must be >= 1", ErrValidation)
	}
	if !p.RequestedAt.IsZero() && p.RequestedAt.Before(now.Add(-time.Minute)) {
		return fmt.Errorf("%w: requested time is in the past", ErrValidation)
	}
	return nil
}

func validCoord(c models.Coord) bool {
	if c.Lat == 0 && c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// CreateRequest validates, matches, prices and notifies. A request with no
// eligible candidates still gets an id: it transitions straight to Expired
// with reason "no candidates", which is an outcome, not a caller error.
func (d *Dispatcher) CreateRequest(ctx context.Context, p CreateParams) (string, error) {
	now := d.now()
	if err := p.validate(now); err != nil {
		observability.RequestsInvalid.Inc()
		return "", err
	}
	requestedAt := p.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = now
	}

	req := models.RideRequest{
		ID:          uuid.NewString(),
		PassengerID: p.PassengerID,
		Pickup:      p.Pickup,
		Destination: p.Destination,
		Seats:       p.Seats,
		RequestedAt: requestedAt,
		CreatedAt:   now,
		Status:      models.StatusCreated,
	}
	e := &entry{req: req, pending: make(map[string]bool)}

	d.mu.Lock()
	d.active[req.ID] = e
	demand := len(d.active)
	nearby := d.nearbyLocked(p.Pickup)
	d.mu.Unlock()
	observability.RequestsCreated.Inc()
	observability.ActiveRequests.Inc()

	e.mu.Lock()
	e.req.Status = models.StatusMatching
	e.mu.Unlock()

	ranked, supply, err := d.rankCandidates(ctx, e.req)
	if err != nil {
		d.log.Warn("candidate lookup failed", "request_id", req.ID, "error", err)
	}
	if len(ranked) == 0 {
		d.terminate(ctx, e, models.StatusExpired, "no candidates")
		return req.ID, nil
	}

	mult := d.surge.Multiplier(demand, supply, now, nearby)
	base := pricing.BaseFare(d.opts.RatePerSeatKm, geo.DistanceKm(p.Pickup, p.Destination), p.Seats)
	fare := pricing.ApplySurge(base, mult)
	observability.SurgeMultiplier.Observe(mult)

	topK := ranked
	if len(topK) > d.opts.TopK {
		topK = topK[:d.opts.TopK]
	}

	e.mu.Lock()
	e.req.Surge = mult
	e.req.Fare = fare
	for _, c := range topK {
		e.pending[c.DriverID] = true
		e.req.NotifiedDrivers = append(e.req.NotifiedDrivers, c.DriverID)
	}
	e.req.Status = models.StatusNotified
	e.timer = time.AfterFunc(d.opts.OfferTimeout, func() { d.expire(e.req.ID) })
	e.mu.Unlock()

	// Delivery is best-effort and happens outside the entry lock; a driver
	// whose channel dropped simply never answers and times out of the
	// pending set with everyone else.
	for _, c := range topK {
		offer := models.Offer{
			Kind:         models.KindOffer,
			RequestID:    req.ID,
			Pickup:       p.Pickup,
			Destination:  p.Destination,
			Seats:        p.Seats,
			FareEstimate: fare,
			Surge:        mult,
			DistanceKm:   c.DistanceKm,
			EtaSeconds:   c.EtaSeconds,
		}
		if err := d.notify.Send(c.DriverID, offer); err != nil {
			d.log.Debug("offer not delivered", "request_id", req.ID, "driver_id", c.DriverID, "error", err)
		}
	}
	observability.MatchLatency.Observe(time.Since(now).Seconds())
	d.log.Info("request notified", "request_id", req.ID, "drivers", len(topK), "surge", mult, "fare", fare)
	return req.ID, nil
}

// nearbyLocked counts other live requests with a pickup inside the search
// radius. Caller holds d.mu.
func (d *Dispatcher) nearbyLocked(pickup models.Coord) int {
	n := 0
	for _, e := range d.active {
		if geo.DistanceKm(e.req.Pickup, pickup) <= d.opts.SearchRadiusKm {
			n++
		}
	}
	return n
}

func (d *Dispatcher) rankCandidates(ctx context.Context, req models.RideRequest) ([]models.DriverCandidate, int, error) {
	cells := geo.CoverRadius(req.Pickup.Lat, req.Pickup.Lon, d.opts.SearchRadiusKm, d.opts.GeohashPrecision)
	statuses, err := d.avail.DriversInCells(ctx, cells)
	if err != nil {
		return nil, 0, err
	}
	cands := make([]models.DriverCandidate, 0, len(statuses))
	for _, st := range statuses {
		// Cells over-include; the exact radius filter happens here.
		if geo.DistanceKm(st.Loc, req.Pickup) > d.opts.SearchRadiusKm {
			continue
		}
		c := models.DriverCandidate{
			DriverID:     st.DriverID,
			Loc:          st.Loc,
			SeatCapacity: st.SeatCapacity,
		}
		if prof, err := d.store.DriverProfile(ctx, st.DriverID); err == nil {
			c.Rating = prof.Rating
			c.RidesCompleted = prof.RidesCompleted
			c.RidesOffered = prof.RidesOffered
		}
		cands = append(cands, c)
	}
	return d.scorer.Rank(req, cands), len(statuses), nil
}

// Accept resolves the first-accept-wins race. The winning transition sets
// the accepted driver exactly once, under the entry lock; the capacity
// re-check happens before the lock so no I/O runs inside it.
func (d *Dispatcher) Accept(ctx context.Context, requestID, driverID, vehicleID string) error {
	e := d.entryFor(requestID)
	if e == nil {
		// Terminal requests leave the live set, so a late accept finds
		// nothing here. From the driver's side the request is simply gone.
		observability.AcceptsLost.Inc()
		return ErrAlreadyTaken
	}

	vehicle, verr := d.store.Vehicle(ctx, vehicleID)

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		observability.AcceptsLost.Inc()
		return ErrAlreadyTaken
	}
	if e.req.Status != models.StatusNotified {
		e.mu.Unlock()
		return ErrInvalidState
	}
	if !e.pending[driverID] {
		e.mu.Unlock()
		return fmt.Errorf("%w: driver %s was not offered this request", ErrInvalidState, driverID)
	}
	if verr != nil || vehicle.SeatCapacity <= e.req.Seats {
		// Stale candidate data: reject this driver only, the request stays
		// open for everyone else in the pending set.
		e.mu.Unlock()
		observability.AcceptsStale.Inc()
		if verr != nil {
			return fmt.Errorf("%w: vehicle %s: %v", ErrCapacity, vehicleID, verr)
		}
		return fmt.Errorf("%w: %d seats for %d passengers", ErrCapacity, vehicle.SeatCapacity, e.req.Seats)
	}

	e.req.AcceptedDriver = driverID
	e.req.Status = models.StatusAccepted
	e.done = true
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(e.pending, driverID)
	losers := make([]string, 0, len(e.pending))
	for id := range e.pending {
		losers = append(losers, id)
	}
	e.pending = make(map[string]bool)
	req := e.req
	e.mu.Unlock()

	observability.AcceptsWon.Inc()
	d.remove(requestID)

	for _, id := range losers {
		_ = d.notify.Send(id, models.Taken{Kind: models.KindTaken, RequestID: requestID})
	}
	assigned := models.Assigned{
		Kind:      models.KindAssigned,
		RequestID: requestID,
		DriverID:  driverID,
		VehicleID: vehicleID,
		Fare:      req.Fare,
		Surge:     req.Surge,
	}
	_ = d.notify.Send(driverID, assigned)
	_ = d.notify.Send(req.PassengerID, assigned)

	booking := models.Booking{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		PassengerID: req.PassengerID,
		DriverID:    driverID,
		VehicleID:   vehicleID,
		Fare:        req.Fare,
		Surge:       req.Surge,
		CreatedAt:   d.now(),
	}
	if d.payments != nil {
		if holdID, err := d.payments.Hold(ctx, int64(req.Fare*100), d.opts.Currency, req.PassengerID); err == nil {
			booking.HoldID = holdID
		} else {
			d.log.Warn("fare hold failed", "request_id", requestID, "error", err)
		}
	}
	// The booking row references the request row, so the request history
	// write must land first.
	if err := d.store.SaveRequest(ctx, &req); err != nil {
		d.log.Error("request history write failed", "request_id", requestID, "error", err)
	}
	if err := d.store.CreateBooking(ctx, &booking); err != nil {
		d.log.Error("booking create failed", "request_id", requestID, "error", err)
		if booking.HoldID != "" {
			if cerr := d.payments.Cancel(ctx, booking.HoldID); cerr != nil {
				d.log.Warn("fare hold release failed", "request_id", requestID, "hold_id", booking.HoldID, "error", cerr)
			}
		}
	}
	d.log.Info("request accepted", "request_id", requestID, "driver_id", driverID)
	return nil
}

// Reject drops the driver from the pending set. It never changes request
// state: when the set drains before the timer fires the request stays
// Notified until timeout, with no automatic re-broadcast.
func (d *Dispatcher) Reject(_ context.Context, requestID, driverID string) error {
	e := d.entryFor(requestID)
	if e == nil {
		return ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	delete(e.pending, driverID)
	if len(e.pending) == 0 {
		observability.PendingDrained.Inc()
	}
	return nil
}

// Cancel is the passenger's explicit abort, valid in any non-terminal state.
func (d *Dispatcher) Cancel(ctx context.Context, requestID string) error {
	e := d.entryFor(requestID)
	if e == nil {
		return ErrUnknownRequest
	}
	if !d.close(ctx, e, models.StatusCancelled, "cancelled by passenger") {
		return ErrInvalidState
	}
	observability.RequestsCancelled.Inc()
	return nil
}

func (d *Dispatcher) expire(requestID string) {
	e := d.entryFor(requestID)
	if e == nil {
		return
	}
	if d.close(context.Background(), e, models.StatusExpired, "offer timed out") {
		observability.RequestsExpired.Inc()
	}
}

// close moves a request to a terminal no-driver state. The done flag is
// checked and set under the entry lock, which is what makes an accept that
// beat the timer win deterministically: a late-firing timeout handler sees
// done and walks away.
func (d *Dispatcher) close(ctx context.Context, e *entry, status models.RequestStatus, reason string) bool {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return false
	}
	e.done = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.req.Status = status
	e.req.Reason = reason
	drivers := make([]string, 0, len(e.pending))
	for id := range e.pending {
		drivers = append(drivers, id)
	}
	e.pending = make(map[string]bool)
	req := e.req
	e.mu.Unlock()

	d.remove(req.ID)
	for _, id := range drivers {
		_ = d.notify.Send(id, models.Taken{Kind: models.KindTaken, RequestID: req.ID})
	}
	kind := models.KindExpired
	if status == models.StatusCancelled {
		kind = models.KindCancelled
	}
	_ = d.notify.Send(req.PassengerID, models.Closed{Kind: kind, RequestID: req.ID, Reason: reason})
	if err := d.store.SaveRequest(ctx, &req); err != nil {
		d.log.Error("request history write failed", "request_id", req.ID, "error", err)
	}
	d.log.Info("request closed", "request_id", req.ID, "status", string(status), "reason", reason)
	return true
}

// terminate handles the no-candidate path before any timer exists.
func (d *Dispatcher) terminate(ctx context.Context, e *entry, status models.RequestStatus, reason string) {
	if d.close(ctx, e, status, reason) && status == models.StatusExpired {
		observability.RequestsExpired.Inc()
	}
}

// Request returns a snapshot of a live request.
func (d *Dispatcher) Request(requestID string) (models.RideRequest, bool) {
	e := d.entryFor(requestID)
	if e == nil {
		return models.RideRequest{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.req, true
}

func (d *Dispatcher) entryFor(id string) *entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active[id]
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	if _, ok := d.active[id]; ok {
		delete(d.active, id)
		observability.ActiveRequests.Dec()
	}
	d.mu.Unlock()
}
