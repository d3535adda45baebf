package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/accounting/domain"
	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	activitysvc "github.com/adrijusxx/linehaul/internal/activity/service"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/config"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	eventssvc "github.com/adrijusxx/linehaul/internal/events/service"
	ledgerclient "github.com/adrijusxx/linehaul/internal/ledger/client"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	loadrepo "github.com/adrijusxx/linehaul/internal/load/repository"
)

const companyID = snowflake.ID(7003)

type fixture struct {
	db     *gorm.DB
	loads  loaddomain.Repository
	ledger *ledgerclient.Fake
	svc    domain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&loaddomain.Load{},
		&loaddomain.LoadExpense{},
		&activitydomain.ActivityLog{},
		&eventsdomain.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))

	loads := loadrepo.Provide(loadrepo.Params{DB: db, Log: log})
	activity := activitysvc.Provide(activitysvc.Params{DB: db, Log: log, GenID: node, Clock: fc})
	ledger := ledgerclient.NewFake()
	enqueuer := eventssvc.ProvideEnqueuer(eventssvc.EnqueuerParams{DB: db, Log: log, GenID: node, Clock: fc})
	// one attempt and no throttle keeps test sync paths fast
	dispatch := config.NewStaticDispatchConfigHolder(config.DispatchConfig{
		SyncMaxAttempts: 1,
	})

	svc := Provide(Params{
		Log:      log,
		Loads:    loads,
		Ledger:   ledger,
		Events:   enqueuer,
		Activity: activity,
		Dispatch: dispatch,
		Metrics:  nil,
	})
	return &fixture{db: db, loads: loads, ledger: ledger, svc: svc}
}

func (f *fixture) seedLoad(t *testing.T, load loaddomain.Load) loaddomain.Load {
	t.Helper()
	load.CompanyID = companyID
	if load.Metadata == nil {
		load.Metadata = map[string]any{}
	}
	require.NoError(t, f.db.Create(&load).Error)
	return load
}

func deliveredLoad(id int64) loaddomain.Load {
	delivered := time.Date(2025, 6, 8, 16, 0, 0, 0, time.UTC)
	return loaddomain.Load{
		ID:          snowflake.ID(id),
		CustomerID:  snowflake.ID(100),
		LoadNumber:  fmt.Sprintf("L-%d", id),
		Status:      loaddomain.LoadStatusDelivered,
		Revenue:     decimal.RequireFromString("1200"),
		TotalMiles:  decimal.RequireFromString("480"),
		DeliveredAt: &delivered,
	}
}

func TestPendingExpenseBlocksSync(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedLoad(t, deliveredLoad(20))
	require.NoError(t, f.db.Create(&loaddomain.LoadExpense{
		ID:          snowflake.ID(90001),
		CompanyID:   companyID,
		LoadID:      load.ID,
		ExpenseType: loaddomain.ExpenseTypeLumper,
		Amount:      decimal.RequireFromString("75"),
	}).Error)

	result, err := f.svc.SyncLoadToAccounting(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Errors, "1 expense(s) awaiting approval")

	assert.Empty(t, f.ledger.LoadEntries, "validation failures must not reach the ledger")
	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.Equal(t, loaddomain.SyncStatusNotSynced, got.AccountingSyncStatus)
}

func TestSyncSucceedsAfterExpenseApproval(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedLoad(t, deliveredLoad(21))
	expense := loaddomain.LoadExpense{
		ID:          snowflake.ID(90002),
		CompanyID:   companyID,
		LoadID:      load.ID,
		ExpenseType: loaddomain.ExpenseTypeFuel,
		Amount:      decimal.RequireFromString("210"),
	}
	require.NoError(t, f.db.Create(&expense).Error)

	require.NoError(t, f.db.Exec(
		`UPDATE load_expenses SET approval_status = ? WHERE id = ?`,
		loaddomain.ApprovalStatusApproved, expense.ID,
	).Error)

	result, err := f.svc.SyncLoadToAccounting(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.True(t, result.Success, "errors: %v", result.Errors)

	require.Len(t, f.ledger.LoadEntries, 1)
	assert.Equal(t, load.ID.String(), f.ledger.LoadEntries[0].ExternalID)

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.Equal(t, loaddomain.SyncStatusSynced, got.AccountingSyncStatus)
	assert.Nil(t, got.LastSyncError)
}

func TestValidationRejectsBadLoads(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	driverID := snowflake.ID(301)
	load := f.seedLoad(t, loaddomain.Load{
		ID:         snowflake.ID(22),
		CustomerID: snowflake.ID(100),
		LoadNumber: "L-22",
		Status:     loaddomain.LoadStatusInTransit,
		DriverID:   &driverID,
	})

	result, err := f.svc.SyncLoadToAccounting(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Errors, "revenue must be positive")
	assert.Contains(t, result.Errors, "status IN_TRANSIT is not syncable")
	assert.Contains(t, result.Errors, "delivered date is not set")
	assert.Contains(t, result.Errors, "driver assigned but driver pay is not set")
}

func TestTransportFailureMarksSyncFailed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedLoad(t, deliveredLoad(23))
	f.ledger.Err = errors.New("ledger unavailable")

	result, err := f.svc.SyncLoadToAccounting(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.Equal(t, loaddomain.SyncStatusSyncFailed, got.AccountingSyncStatus)
	require.NotNil(t, got.LastSyncError)
	assert.Contains(t, *got.LastSyncError, "ledger unavailable")

	var ev eventsdomain.Event
	require.NoError(t, f.db.Where("name = ?", eventsdomain.EventAccountingSyncFailed).First(&ev).Error)
	assert.Equal(t, load.ID.String(), ev.Payload["load_id"])
	assert.Contains(t, ev.Payload["error"], "ledger unavailable")
}

func TestRetryFailedSyncsRecovers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedLoad(t, deliveredLoad(24))

	f.ledger.Err = errors.New("ledger unavailable")
	_, err := f.svc.SyncLoadToAccounting(ctx, companyID, load.ID)
	require.NoError(t, err)

	f.ledger.Err = nil
	summary, err := f.svc.RetryFailedSyncs(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.Equal(t, loaddomain.SyncStatusSynced, got.AccountingSyncStatus)
}

func TestGetSyncStatistics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedLoad(t, deliveredLoad(25))

	synced := deliveredLoad(26)
	synced.AccountingSyncStatus = loaddomain.SyncStatusSynced
	f.seedLoad(t, synced)

	failed := deliveredLoad(27)
	failed.AccountingSyncStatus = loaddomain.SyncStatusSyncFailed
	f.seedLoad(t, failed)

	stats, err := f.svc.GetSyncStatistics(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Synced)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.NotSynced)
}
