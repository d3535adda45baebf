package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/events/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
	"github.com/adrijusxx/linehaul/pkg/retry"
)

// Redelivery policy. Handlers are idempotent, so the policy favors
// persistence over speed: an event gets ten tries across roughly a day
// before it is parked DEAD for an operator.
var redelivery = retry.Config{
	MaxAttempts: 10,
	BaseBackoff: 30 * time.Second,
	MaxBackoff:  2 * time.Hour,
	Jitter:      0.2,
}

// stuckAfter is how long an event may sit PROCESSING before a crashed
// dispatcher is assumed and the event returns to PENDING.
const stuckAfter = 10 * time.Minute

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Registry domain.Registry
}

// Dispatcher drains the outbox. One instance runs per scheduler process;
// SKIP LOCKED claiming keeps concurrent instances from double-delivering
// within a poll interval, and handler idempotency covers the rest.
type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	registry domain.Registry
}

func ProvideDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{db: p.DB, log: p.Log.Named("events.dispatch"), clock: p.Clock, registry: p.Registry}
}

// DispatchPending claims up to batchSize due events and runs their
// handlers. Returns how many events were handled successfully.
func (d *Dispatcher) DispatchPending(ctx context.Context, batchSize int) (int, error) {
	now := d.clock.Now()

	if err := d.requeueStuck(ctx, now); err != nil {
		d.log.Warn("requeue stuck events failed", zap.Error(err))
	}

	claimed, err := d.claim(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		metrics.Scheduler().IncBatchDeferred("dispatch_events", metrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
		return 0, nil
	}

	processed := 0
	for _, ev := range claimed {
		if err := d.handle(ctx, ev); err != nil {
			d.fail(ctx, ev, err)
			continue
		}
		if err := d.db.WithContext(ctx).Exec(
			`UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			domain.EventStatusProcessed, d.clock.Now(), ev.ID, domain.EventStatusProcessing,
		).Error; err != nil {
			d.log.Error("mark event processed failed", zap.Int64("event_id", int64(ev.ID)), zap.Error(err))
			continue
		}
		processed++
	}
	metrics.Scheduler().AddBatchProcessed("dispatch_events", metrics.LockResourceEventsForWork, processed)
	return processed, nil
}

func (d *Dispatcher) claim(ctx context.Context, now time.Time, batchSize int) ([]domain.Event, error) {
	var claimed []domain.Event
	start := time.Now()
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := `SELECT * FROM events WHERE status = ? AND next_attempt_at <= ? ORDER BY next_attempt_at, id LIMIT ?`
		if tx.Dialector.Name() != "sqlite" {
			q += ` FOR UPDATE SKIP LOCKED`
		}
		if err := tx.Raw(q, domain.EventStatusPending, now, batchSize).Scan(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]snowflake.ID, 0, len(claimed))
		for _, ev := range claimed {
			ids = append(ids, ev.ID)
		}
		return tx.Exec(
			`UPDATE events SET status = ?, updated_at = ? WHERE id IN ?`,
			domain.EventStatusProcessing, now, ids,
		).Error
	})
	metrics.Scheduler().ObserveDBLockWait(metrics.LockResourceEventsForWork, time.Since(start))
	return claimed, err
}

func (d *Dispatcher) handle(ctx context.Context, ev domain.Event) error {
	handler, ok := d.registry.Lookup(ev.Name)
	if !ok {
		// An unknown name is a deploy-ordering artifact: the producer is
		// newer than this consumer. Rescheduling leaves the event for an
		// instance that knows the name.
		return fmt.Errorf("no handler registered for %q", ev.Name)
	}
	return handler(ctx, ev)
}

func (d *Dispatcher) fail(ctx context.Context, ev domain.Event, cause error) {
	attempts := ev.Attempts + 1
	msg := cause.Error()
	now := d.clock.Now()

	d.log.Warn("event handler failed",
		zap.String("event", ev.Name),
		zap.Int64("event_id", int64(ev.ID)),
		zap.Int("attempt", attempts),
		zap.Error(cause))

	if attempts >= redelivery.MaxAttempts {
		if err := d.db.WithContext(ctx).Exec(
			`UPDATE events SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			domain.EventStatusDead, attempts, msg, now, ev.ID,
		).Error; err != nil {
			d.log.Error("mark event dead failed", zap.Int64("event_id", int64(ev.ID)), zap.Error(err))
		}
		return
	}

	next := now.Add(redelivery.Backoff(attempts))
	if err := d.db.WithContext(ctx).Exec(
		`UPDATE events SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		domain.EventStatusPending, attempts, msg, next, now, ev.ID,
	).Error; err != nil {
		d.log.Error("reschedule event failed", zap.Int64("event_id", int64(ev.ID)), zap.Error(err))
	}
}

func (d *Dispatcher) requeueStuck(ctx context.Context, now time.Time) error {
	return d.db.WithContext(ctx).Exec(
		`UPDATE events SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		domain.EventStatusPending, now, domain.EventStatusProcessing, now.Add(-stuckAfter),
	).Error
}
