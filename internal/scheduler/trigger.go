package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Notifier delivers the materialization notice to the owning driver.
type Notifier interface {
	Send(identity string, v interface{}) error
}

// Trigger periodically scans recurring ride schedules and materializes a
// concrete ride when one is due. The (schedule, day) idempotency guarantee
// lives in Store.ClaimMaterialization, not here: the claim is the single
// guarded step and everything after it runs at most once per day.
type Trigger struct {
	log    *slog.Logger
	store  storage.Store
	notify Notifier
	tick   time.Duration
	parser cron.Parser
	now    func() time.Time
}

func NewTrigger(log *slog.Logger, store storage.Store, notify Notifier, tick time.Duration) *Trigger {
	if tick <= 0 {
		tick = 60 * time.Second
	}
	return &Trigger{
		log:    log,
		store:  store,
		notify: notify,
		tick:   tick,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:    time.Now,
	}
}

// Run blocks until ctx is done, evaluating all schedules every tick.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Evaluate(ctx)
		}
	}
}

// Evaluate is one scan over all schedules. Exported so tests and the run
// loop share the same path.
func (t *Trigger) Evaluate(ctx context.Context) {
	schedules, err := t.store.Schedules(ctx)
	if err != nil {
		t.log.Error("schedule scan failed", "error", err)
		return
	}
	now := t.now()
	for _, s := range schedules {
		if err := t.evaluateOne(ctx, s, now); err != nil {
			t.log.Warn("schedule evaluation failed", "schedule_id", s.ID, "error", err)
		}
	}
}

func (t *Trigger) evaluateOne(ctx context.Context, s models.Schedule, now time.Time) error {
	sched, err := t.parser.Parse(s.Recurrence)
	if err != nil {
		return err
	}

	// Calendar days follow the trigger clock's location, so the boundary
	// sits at local midnight rather than UTC midnight.
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !s.LastMaterialized.Before(day) {
		return nil // already materialized today
	}
	// Due when the first activation on or after midnight has passed.
	next := sched.Next(day.Add(-time.Second))
	if next.After(now) {
		return nil
	}

	claimed, err := t.store.ClaimMaterialization(ctx, s.ID, day)
	if err != nil {
		return err
	}
	if !claimed {
		return nil // another tick or instance won the day
	}

	ride := models.RideRequest{
		ID:             uuid.NewString(),
		Pickup:         s.Source,
		Destination:    s.Destination,
		Seats:          1,
		RequestedAt:    next,
		CreatedAt:      now,
		Status:         models.StatusCreated,
		AcceptedDriver: s.DriverID,
		Reason:         "materialized from schedule " + s.ID,
	}
	if err := t.store.SaveRequest(ctx, &ride); err != nil {
		return err
	}
	observability.SchedulesMaterialized.Inc()

	notice := models.ScheduledRide{
		Kind:        models.KindScheduled,
		ScheduleID:  s.ID,
		RideID:      ride.ID,
		Source:      s.Source,
		Destination: s.Destination,
		Day:         day.Format("2006-01-02"),
	}
	if err := t.notify.Send(s.DriverID, notice); err != nil {
		t.log.Debug("schedule notice not delivered", "schedule_id", s.ID, "driver_id", s.DriverID, "error", err)
	}
	t.log.Info("schedule materialized", "schedule_id", s.ID, "ride_id", ride.ID, "day", notice.Day)
	return nil
}
