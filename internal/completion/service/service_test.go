package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountingsvc "github.com/adrijusxx/linehaul/internal/accounting/service"
	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	activitysvc "github.com/adrijusxx/linehaul/internal/activity/service"
	billingholdsvc "github.com/adrijusxx/linehaul/internal/billinghold/service"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/completion/domain"
	"github.com/adrijusxx/linehaul/internal/config"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	eventssvc "github.com/adrijusxx/linehaul/internal/events/service"
	invoicedomain "github.com/adrijusxx/linehaul/internal/invoice/domain"
	invoicerepo "github.com/adrijusxx/linehaul/internal/invoice/repository"
	invoicesvc "github.com/adrijusxx/linehaul/internal/invoice/service"
	ledgerclient "github.com/adrijusxx/linehaul/internal/ledger/client"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	loadrepo "github.com/adrijusxx/linehaul/internal/load/repository"
	notifdomain "github.com/adrijusxx/linehaul/internal/notification/domain"
	paycalcengine "github.com/adrijusxx/linehaul/internal/paycalc/engine"
	readinesssvc "github.com/adrijusxx/linehaul/internal/readiness/service"
	rollupdomain "github.com/adrijusxx/linehaul/internal/rollup/domain"
	rollupsvc "github.com/adrijusxx/linehaul/internal/rollup/service"
)

const companyID = snowflake.ID(7008)

type notifierStub struct {
	mu      sync.Mutex
	notices []notifdomain.Department
}

func (n *notifierStub) Notify(ctx context.Context, companyID snowflake.ID, department notifdomain.Department, subject, body string, metadata map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, department)
	return nil
}

type fixture struct {
	db       *gorm.DB
	loads    loaddomain.Repository
	rollups  rollupdomain.Service
	notifier *notifierStub
	svc      domain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&loaddomain.Load{},
		&loaddomain.AccessorialCharge{},
		&loaddomain.LoadExpense{},
		&loaddomain.LoadDocument{},
		&loaddomain.Customer{},
		&loaddomain.Company{},
		&loaddomain.Driver{},
		&invoicedomain.Invoice{},
		&invoicedomain.LoadSnapshot{},
		&rollupdomain.DriverRollup{},
		&rollupdomain.TruckRollup{},
		&rollupdomain.CustomerRollup{},
		&eventsdomain.Event{},
		&activitydomain.ActivityLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))

	loads := loadrepo.Provide(loadrepo.Params{DB: db, Log: log})
	activity := activitysvc.Provide(activitysvc.Params{DB: db, Log: log, GenID: node, Clock: fc})
	enqueuer := eventssvc.ProvideEnqueuer(eventssvc.EnqueuerParams{DB: db, Log: log, GenID: node, Clock: fc})
	notifier := &notifierStub{}
	dispatch := config.NewStaticDispatchConfigHolder(config.DispatchConfig{
		FuelGapMilesThreshold: 300,
		SyncMaxAttempts:       1,
	})

	billingHold := billingholdsvc.Provide(billingholdsvc.Params{
		DB: db, Log: log, GenID: node, Clock: fc,
		Loads: loads, Events: enqueuer, Activity: activity, Metrics: nil,
	})
	readiness := readinesssvc.Provide(readinesssvc.Params{Log: log, Loads: loads, Dispatch: dispatch})
	accounting := accountingsvc.Provide(accountingsvc.Params{
		Log: log, Loads: loads, Ledger: ledgerclient.NewFake(),
		Events: enqueuer, Activity: activity, Dispatch: dispatch, Metrics: nil,
	})
	invoices := invoicesvc.Provide(invoicesvc.Params{
		DB: db, Log: log, GenID: node, Clock: fc,
		Repo:  invoicerepo.Provide(invoicerepo.Params{DB: db, Log: log}),
		Loads: loads, Ledger: ledgerclient.NewFake(),
		Events: enqueuer, Activity: activity, Metrics: nil,
	})
	rollups := rollupsvc.Provide(rollupsvc.Params{DB: db, Log: log, Clock: fc, Loads: loads})

	svc := Provide(Params{
		DB:          db,
		Log:         log,
		Clock:       fc,
		Loads:       loads,
		BillingHold: billingHold,
		Readiness:   readiness,
		Accounting:  accounting,
		Invoices:    invoices,
		Rollups:     rollups,
		Mileage:     paycalcengine.SingleJurisdiction{Base: "IL"},
		Activity:    activity,
		Notifier:    notifier,
		Metrics:     nil,
	})
	return &fixture{db: db, loads: loads, rollups: rollups, notifier: notifier, svc: svc}
}

// seedDeliveredLoad builds a complete load for a brokerage customer: POD on
// file, weight recorded, driver assigned and paid.
func (f *fixture) seedDeliveredLoad(t *testing.T, id int64) loaddomain.Load {
	t.Helper()

	customerID := snowflake.ID(id + 1000)
	driverID := snowflake.ID(id + 2000)
	require.NoError(t, f.db.Create(&loaddomain.Customer{
		ID:           customerID,
		CompanyID:    companyID,
		Name:         "Broker One",
		CustomerType: loaddomain.CustomerTypeBrokerage,
	}).Error)
	require.NoError(t, f.db.Create(&loaddomain.Driver{
		ID:        driverID,
		CompanyID: companyID,
		Name:      "D. River",
		Status:    loaddomain.DriverStatusAvailable,
		PayType:   loaddomain.PayTypePerMile,
		PayRate:   decimal.RequireFromString("0.55"),
	}).Error)

	delivered := time.Date(2025, 6, 9, 18, 0, 0, 0, time.UTC)
	load := loaddomain.Load{
		ID:          snowflake.ID(id),
		CompanyID:   companyID,
		CustomerID:  customerID,
		DriverID:    &driverID,
		LoadNumber:  fmt.Sprintf("L-%d", id),
		Status:      loaddomain.LoadStatusDelivered,
		Revenue:     decimal.RequireFromString("2000"),
		DriverPay:   decimal.RequireFromString("700"),
		TotalMiles:  decimal.RequireFromString("500"),
		Weight:      decimal.RequireFromString("38000"),
		DeliveredAt: &delivered,
		Metadata:    map[string]any{},
	}
	require.NoError(t, f.db.Create(&load).Error)
	require.NoError(t, f.db.Create(&loaddomain.LoadDocument{
		ID:           snowflake.ID(id + 3000),
		CompanyID:    companyID,
		LoadID:       load.ID,
		DocumentType: loaddomain.DocumentTypePOD,
		FileRef:      "s3://docs/pod.pdf",
		Metadata:     map[string]any{},
	}).Error)
	return load
}

func TestCompleteLoadHappyPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedDeliveredLoad(t, 70)
	require.NoError(t, f.db.Create(&loaddomain.LoadExpense{
		ID:             snowflake.ID(90020),
		CompanyID:      companyID,
		LoadID:         load.ID,
		ExpenseType:    loaddomain.ExpenseTypeFuel,
		Amount:         decimal.RequireFromString("300"),
		ApprovalStatus: loaddomain.ApprovalStatusApproved,
	}).Error)

	result, err := f.svc.CompleteLoad(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.True(t, result.Success, "stage errors: %v", result.Errors)

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadyForSettlement)
	assert.Equal(t, loaddomain.SyncStatusSynced, got.AccountingSyncStatus)
	assert.Equal(t, loaddomain.LoadStatusInvoiced, got.Status)
	require.NotNil(t, got.InvoiceID)

	// profit = 2000 revenue - 700 pay - 300 approved expense
	assert.Equal(t, "1000.00", got.Metadata["profit"])

	rollup, err := f.rollups.GetDriverRollup(ctx, companyID, *load.DriverID)
	require.NoError(t, err)
	require.NotNil(t, rollup)
	assert.Equal(t, int64(1), rollup.TotalLoads)

	assert.Empty(t, f.notifier.notices, "clean completion must not page anyone")
}

func TestCompleteLoadMissingPODIsPartial(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedDeliveredLoad(t, 71)
	require.NoError(t, f.db.Exec(`DELETE FROM load_documents WHERE load_id = ?`, load.ID).Error)

	result, err := f.svc.CompleteLoad(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)

	stages := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		stages = append(stages, e.Stage)
	}
	assert.Contains(t, stages, "data_completeness")

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	// the driver is still paid and the ledger still gets the load
	assert.True(t, got.ReadyForSettlement)
	assert.Equal(t, loaddomain.LoadStatusDelivered, got.Status, "no invoice without a POD")
	assert.Nil(t, got.InvoiceID)

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, notifdomain.DepartmentAccounting, f.notifier.notices[0])
}

func TestCompleteLoadOnHoldSkipsInvoiceOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedDeliveredLoad(t, 72)
	require.NoError(t, f.db.Exec(
		`UPDATE loads SET is_billing_hold = ?, billing_hold_reason = ? WHERE id = ?`,
		true, "rate dispute", load.ID,
	).Error)

	result, err := f.svc.CompleteLoad(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.True(t, result.Success, "an ineligible load is not a failure: %v", result.Errors)

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadyForSettlement, "billing hold must not delay the driver's pay")
	assert.Equal(t, loaddomain.LoadStatusDelivered, got.Status)
	assert.Nil(t, got.InvoiceID)
}

func TestCompleteLoadIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := f.seedDeliveredLoad(t, 73)

	first, err := f.svc.CompleteLoad(ctx, companyID, load.ID)
	require.NoError(t, err)
	require.True(t, first.Success, "stage errors: %v", first.Errors)

	second, err := f.svc.CompleteLoad(ctx, companyID, load.ID)
	require.NoError(t, err)
	assert.True(t, second.Success, "stage errors: %v", second.Errors)

	var invoiceCount int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&invoiceCount).Error)
	assert.Equal(t, int64(1), invoiceCount)

	rollup, err := f.rollups.GetDriverRollup(ctx, companyID, *load.DriverID)
	require.NoError(t, err)
	require.NotNil(t, rollup)
	assert.Equal(t, int64(1), rollup.TotalLoads, "rollups must count each load once")
}

func TestCompleteLoadRejectsUndeliveredStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	load := loaddomain.Load{
		ID:         snowflake.ID(74),
		CompanyID:  companyID,
		CustomerID: snowflake.ID(100),
		LoadNumber: "L-74",
		Status:     loaddomain.LoadStatusInTransit,
		Metadata:   map[string]any{},
	}
	require.NoError(t, f.db.Create(&load).Error)

	_, err := f.svc.CompleteLoad(ctx, companyID, load.ID)
	assert.ErrorIs(t, err, domain.ErrNotDelivered)
}

func TestCompleteLoadUnknownLoad(t *testing.T) {
	f := setup(t)

	_, err := f.svc.CompleteLoad(context.Background(), companyID, snowflake.ID(404))
	assert.ErrorIs(t, err, domain.ErrLoadNotFound)
}
