package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/events/domain"
	"github.com/adrijusxx/linehaul/internal/events/registry"
)

const companyID = snowflake.ID(7005)

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	registry   domain.Registry
	enqueuer   domain.Enqueuer
	dispatcher *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Event{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	reg := registry.Provide()

	return &fixture{
		db:         db,
		clock:      fc,
		registry:   reg,
		enqueuer:   ProvideEnqueuer(EnqueuerParams{DB: db, Log: log, GenID: node, Clock: fc}),
		dispatcher: ProvideDispatcher(DispatcherParams{DB: db, Log: log, Clock: fc, Registry: reg}),
	}
}

func (f *fixture) countEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&domain.Event{}).Count(&n).Error)
	return n
}

func (f *fixture) loadEvent(t *testing.T, name string) domain.Event {
	t.Helper()
	var ev domain.Event
	require.NoError(t, f.db.Where("name = ?", name).First(&ev).Error)
	return ev
}

func TestDedupeKeyCollapsesDuplicateEnqueues(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	dedupe := "invoice.generated:42"

	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "invoice.generated", map[string]any{"invoice_id": "42"}, &dedupe))
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "invoice.generated", map[string]any{"invoice_id": "42"}, &dedupe))

	assert.Equal(t, int64(1), f.countEvents(t))
}

func TestEnqueueWithoutDedupeKeyKeepsBoth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", nil, nil))
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", nil, nil))

	assert.Equal(t, int64(2), f.countEvents(t))
}

func TestDispatchPendingProcessesEvent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	calls := 0
	f.registry.Register("load.delivered", func(ctx context.Context, ev domain.Event) error {
		calls++
		return nil
	})
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", map[string]any{"load_id": "1"}, nil))

	processed, err := f.dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, calls)

	ev := f.loadEvent(t, "load.delivered")
	assert.Equal(t, domain.EventStatusProcessed, ev.Status)
}

func TestFailedHandlerIsRescheduledWithBackoff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.registry.Register("load.delivered", func(ctx context.Context, ev domain.Event) error {
		return errors.New("handler exploded")
	})
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", nil, nil))

	processed, err := f.dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	ev := f.loadEvent(t, "load.delivered")
	assert.Equal(t, domain.EventStatusPending, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
	require.NotNil(t, ev.LastError)
	assert.Contains(t, *ev.LastError, "handler exploded")
	assert.True(t, ev.NextAttemptAt.After(f.clock.Now()), "retry must be scheduled in the future")
}

func TestEventParkedDeadAfterMaxAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.registry.Register("load.delivered", func(ctx context.Context, ev domain.Event) error {
		return errors.New("still broken")
	})
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", nil, nil))
	require.NoError(t, f.db.Exec(
		`UPDATE events SET attempts = ?`, redelivery.MaxAttempts-1,
	).Error)

	processed, err := f.dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	ev := f.loadEvent(t, "load.delivered")
	assert.Equal(t, domain.EventStatusDead, ev.Status)
	assert.Equal(t, redelivery.MaxAttempts, ev.Attempts)
}

func TestUnknownEventNameIsRescheduledNotProcessed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.renamed", nil, nil))

	processed, err := f.dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	ev := f.loadEvent(t, "load.renamed")
	assert.Equal(t, domain.EventStatusPending, ev.Status)
	require.NotNil(t, ev.LastError)
	assert.Contains(t, *ev.LastError, "no handler registered")
}

func TestStuckProcessingEventIsRequeued(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	calls := 0
	f.registry.Register("load.delivered", func(ctx context.Context, ev domain.Event) error {
		calls++
		return nil
	})
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", nil, nil))
	// simulate a dispatcher that died mid-flight well past the stuck window
	require.NoError(t, f.db.Exec(
		`UPDATE events SET status = ?, updated_at = ?`,
		domain.EventStatusProcessing, f.clock.Now().Add(-stuckAfter-time.Minute),
	).Error)

	processed, err := f.dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, calls)
}

func TestRedeliveryTargetsOnlyDueEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.registry.Register("load.delivered", func(ctx context.Context, ev domain.Event) error {
		return nil
	})
	require.NoError(t, f.enqueuer.Enqueue(ctx, companyID, "load.delivered", nil, nil))
	require.NoError(t, f.db.Exec(
		`UPDATE events SET next_attempt_at = ?`, f.clock.Now().Add(time.Hour),
	).Error)

	processed, err := f.dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	ev := f.loadEvent(t, "load.delivered")
	assert.Equal(t, domain.EventStatusPending, ev.Status)
}
