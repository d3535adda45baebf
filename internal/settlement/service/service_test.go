package service

import (
	"context"
	"encoding/json"
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

	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	activitysvc "github.com/adrijusxx/linehaul/internal/activity/service"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/config"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	eventssvc "github.com/adrijusxx/linehaul/internal/events/service"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	loadrepo "github.com/adrijusxx/linehaul/internal/load/repository"
	paycalcdomain "github.com/adrijusxx/linehaul/internal/paycalc/domain"
	paycalcengine "github.com/adrijusxx/linehaul/internal/paycalc/engine"
	"github.com/adrijusxx/linehaul/internal/settlement/domain"
	settlementrepo "github.com/adrijusxx/linehaul/internal/settlement/repository"
)

const companyID = snowflake.ID(7007)

type sentMail struct {
	To      []string
	Subject string
}

type senderStub struct {
	mu   sync.Mutex
	sent []sentMail
}

func (s *senderStub) Send(ctx context.Context, to []string, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMail{To: to, Subject: subject})
	return nil
}

type fixture struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	loads  loaddomain.Repository
	repo   domain.Repository
	sender *senderStub
	svc    domain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&loaddomain.Load{},
		&loaddomain.Company{},
		&loaddomain.Driver{},
		&loaddomain.Customer{},
		&domain.Settlement{},
		&domain.DriverAdjustment{},
		&eventsdomain.Event{},
		&activitydomain.ActivityLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	// Wednesday; the prior weekly period is Mon Jun 2 .. Mon Jun 9
	fc := clock.NewFakeClock(time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC))

	loads := loadrepo.Provide(loadrepo.Params{DB: db, Log: log})
	repo := settlementrepo.Provide(settlementrepo.Params{DB: db, Log: log})
	engine := paycalcengine.Provide(paycalcengine.Params{Log: log})
	enqueuer := eventssvc.ProvideEnqueuer(eventssvc.EnqueuerParams{DB: db, Log: log, GenID: node, Clock: fc})
	activity := activitysvc.Provide(activitysvc.Params{DB: db, Log: log, GenID: node, Clock: fc})
	sender := &senderStub{}
	dispatch := config.NewStaticDispatchConfigHolder(config.DispatchConfig{SettlementWeekday: 1})

	svc := Provide(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Repo:     repo,
		Loads:    loads,
		Engine:   engine,
		Events:   enqueuer,
		Activity: activity,
		Sender:   sender,
		Dispatch: dispatch,
		Metrics:  nil,
	})
	return &fixture{db: db, clock: fc, loads: loads, repo: repo, sender: sender, svc: svc}
}

func (f *fixture) seedCompany(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.Create(&loaddomain.Company{
		ID:     companyID,
		Name:   "Linehaul Logistics LLC",
		Status: loaddomain.CompanyStatusActive,
	}).Error)
}

func (f *fixture) seedDriver(t *testing.T, d loaddomain.Driver) loaddomain.Driver {
	t.Helper()
	d.CompanyID = companyID
	if d.Status == "" {
		d.Status = loaddomain.DriverStatusAvailable
	}
	require.NoError(t, f.db.Create(&d).Error)
	return d
}

func (f *fixture) seedSettleableLoad(t *testing.T, id int64, driverID snowflake.ID, deliveredAt time.Time, miles string) loaddomain.Load {
	t.Helper()
	load := loaddomain.Load{
		ID:                 snowflake.ID(id),
		CompanyID:          companyID,
		CustomerID:         snowflake.ID(100),
		DriverID:           &driverID,
		LoadNumber:         fmt.Sprintf("L-%d", id),
		Status:             loaddomain.LoadStatusInvoiced,
		Revenue:            decimal.RequireFromString("1500"),
		TotalMiles:         decimal.RequireFromString(miles),
		ReadyForSettlement: true,
		DeliveredAt:        &deliveredAt,
		Metadata:           map[string]any{},
	}
	require.NoError(t, f.db.Create(&load).Error)
	return load
}

func TestGenerateWeeklySettlementsIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(301),
		Name:    "J. Doe",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.60"),
	})
	delivered := time.Date(2025, 6, 4, 16, 0, 0, 0, time.UTC)
	f.seedSettleableLoad(t, 60, driver.ID, delivered, "1000")

	first, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Skipped)
	assert.Empty(t, first.Failures)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), first.PeriodStart)
	assert.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), first.PeriodEnd)

	second, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	var count int64
	require.NoError(t, f.db.Model(&domain.Settlement{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	settlement, err := f.repo.FindByDriverPeriod(ctx, companyID, driver.ID, first.PeriodStart, first.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, settlement)
	assert.True(t, settlement.GrossPay.Equal(decimal.RequireFromString("600")), "gross = %s", settlement.GrossPay)
	assert.Equal(t, domain.SettlementStatusDraft, settlement.Status)

	attached, err := f.loads.ListLoadsBySettlement(ctx, companyID, settlement.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 1)

	var ev eventsdomain.Event
	require.NoError(t, f.db.Where("name = ?", eventsdomain.EventSettlementGenerated).First(&ev).Error)
	assert.Equal(t, eventsdomain.EventStatusPending, ev.Status)
}

func TestWeeklyBatchSkipsDriverWithoutLoads(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(302),
		Name:    "No Loads",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.55"),
	})

	summary, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, summary.Failures)
}

func TestAdjustmentsAbsorbedIntoSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(303),
		Name:    "With Advance",
		PayType: loaddomain.PayTypeFlat,
		PayRate: decimal.RequireFromString("500"),
	})
	delivered := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	f.seedSettleableLoad(t, 61, driver.ID, delivered, "400")
	require.NoError(t, f.db.Create(&domain.DriverAdjustment{
		ID:          snowflake.ID(70001),
		CompanyID:   companyID,
		DriverID:    driver.ID,
		Kind:        paycalcdomain.AdjustmentAdvance,
		Type:        "CASH_ADVANCE",
		Description: "fuel advance week 23",
		Amount:      decimal.RequireFromString("200"),
		EffectiveAt: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
	}).Error)

	summary, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)

	settlement, err := f.repo.FindByDriverPeriod(ctx, companyID, driver.ID, summary.PeriodStart, summary.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, settlement)
	assert.True(t, settlement.GrossPay.Equal(decimal.RequireFromString("500")))
	assert.True(t, settlement.TotalDeductions.Equal(decimal.RequireFromString("200")))
	assert.True(t, settlement.NetPay.Equal(decimal.RequireFromString("300")))

	adjustments, err := f.repo.ListAdjustmentsBySettlement(ctx, companyID, settlement.ID)
	require.NoError(t, err)
	assert.Len(t, adjustments, 1)
}

func TestGenerateSettlementOnDemandNotifiesDriver(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(304),
		Name:    "Reachable",
		Email:   "driver@linehaul.test",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.50"),
	})
	delivered := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	f.seedSettleableLoad(t, 62, driver.ID, delivered, "800")

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	settlement, err := f.svc.GenerateSettlement(ctx, companyID, driver.ID, start, end)
	require.NoError(t, err)
	assert.True(t, settlement.GrossPay.Equal(decimal.RequireFromString("400")))

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, []string{"driver@linehaul.test"}, f.sender.sent[0].To)
	assert.Equal(t, "Settlement statement ready", f.sender.sent[0].Subject)
}

func TestGenerateSettlementRegeneratesExisting(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(305),
		Name:    "Regen",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.50"),
	})
	delivered := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	f.seedSettleableLoad(t, 63, driver.ID, delivered, "600")

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

	first, err := f.svc.GenerateSettlement(ctx, companyID, driver.ID, start, end)
	require.NoError(t, err)

	second, err := f.svc.GenerateSettlement(ctx, companyID, driver.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "regeneration must recalculate, not duplicate")

	var count int64
	require.NoError(t, f.db.Model(&domain.Settlement{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var history []domain.Revision
	require.NoError(t, json.Unmarshal(second.CalculationHistory, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "on-demand regeneration", history[0].Reason)
}

func TestGenerateSettlementErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(306),
		Name:    "Empty",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.50"),
	})

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.GenerateSettlement(ctx, companyID, driver.ID, start, end)
	assert.ErrorIs(t, err, domain.ErrNoLoads)

	_, err = f.svc.GenerateSettlement(ctx, companyID, snowflake.ID(404), start, end)
	assert.ErrorIs(t, err, domain.ErrDriverNotFound)
}

func TestRecalculateAppendsRevisionHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(307),
		Name:    "Revised",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.50"),
	})
	delivered := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	load := f.seedSettleableLoad(t, 64, driver.ID, delivered, "1000")

	summary, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)
	settlement, err := f.repo.FindByDriverPeriod(ctx, companyID, driver.ID, summary.PeriodStart, summary.PeriodEnd)
	require.NoError(t, err)
	require.True(t, settlement.GrossPay.Equal(decimal.RequireFromString("500")))

	// dispatch corrected the mileage after the statement went out
	require.NoError(t, f.db.Exec(
		`UPDATE loads SET total_miles = ? WHERE id = ?`,
		decimal.RequireFromString("1200"), load.ID,
	).Error)

	recalced, err := f.svc.RecalculateSettlement(ctx, companyID, settlement.ID, "mileage correction")
	require.NoError(t, err)
	assert.True(t, recalced.GrossPay.Equal(decimal.RequireFromString("600")), "gross = %s", recalced.GrossPay)

	var history []domain.Revision
	require.NoError(t, json.Unmarshal(recalced.CalculationHistory, &history))
	require.Len(t, history, 1)
	assert.True(t, history[0].PreviousGross.Equal(decimal.RequireFromString("500")))
	assert.Equal(t, "mileage correction", history[0].Reason)
	assert.Equal(t, paycalcengine.Version, history[0].CalculatorVersion)

	diffs, err := f.svc.RevisionDiffs(recalced)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, 1, diffs[0].Revision)
	assert.Equal(t, domain.ChangeIncreased, diffs[0].Gross)
	assert.Equal(t, domain.ChangeUnchanged, diffs[0].Deductions)

	// a second recalculation keeps the first revision intact
	recalced, err = f.svc.RecalculateSettlement(ctx, companyID, settlement.ID, "audit pass")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(recalced.CalculationHistory, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "mileage correction", history[0].Reason)
	assert.Equal(t, "audit pass", history[1].Reason)
}

func TestRevisionDiffsEmptyHistory(t *testing.T) {
	f := setup(t)

	diffs, err := f.svc.RevisionDiffs(&domain.Settlement{})
	require.NoError(t, err)
	assert.Nil(t, diffs)
}

func TestHeldLoadStillPaidByWeeklyBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(308),
		Name:    "Held But Paid",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.50"),
	})
	delivered := time.Date(2025, 6, 4, 16, 0, 0, 0, time.UTC)
	reason := "LUMPER charge of 150.00 pending rate correction"
	load := loaddomain.Load{
		ID:                 snowflake.ID(65),
		CompanyID:          companyID,
		CustomerID:         snowflake.ID(100),
		DriverID:           &driver.ID,
		LoadNumber:         "L-65",
		Status:             loaddomain.LoadStatusDelivered,
		Revenue:            decimal.RequireFromString("1500"),
		TotalMiles:         decimal.RequireFromString("1000"),
		IsBillingHold:      true,
		BillingHoldReason:  &reason,
		ReadyForSettlement: true,
		DeliveredAt:        &delivered,
		Metadata:           map[string]any{},
	}
	require.NoError(t, f.db.Create(&load).Error)

	// a billing hold freezes receivables only; the driver is paid on time
	summary, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)

	settlement, err := f.repo.FindByDriverPeriod(ctx, companyID, driver.ID, summary.PeriodStart, summary.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, settlement)
	assert.True(t, settlement.GrossPay.Equal(decimal.RequireFromString("500")), "gross = %s", settlement.GrossPay)

	got, err := f.loads.FindLoadByID(ctx, companyID, load.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SettlementID)
	assert.Equal(t, settlement.ID, *got.SettlementID)
	assert.True(t, got.IsBillingHold, "settlement must not release the hold")
	assert.Nil(t, got.InvoiceID)
}

func TestLateReadyLoadFoldedIntoExistingSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driver := f.seedDriver(t, loaddomain.Driver{
		ID:      snowflake.ID(309),
		Name:    "Late POD",
		PayType: loaddomain.PayTypePerMile,
		PayRate: decimal.RequireFromString("0.50"),
	})
	delivered := time.Date(2025, 6, 4, 16, 0, 0, 0, time.UTC)
	f.seedSettleableLoad(t, 66, driver.ID, delivered, "1000")

	first, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)
	settlement, err := f.repo.FindByDriverPeriod(ctx, companyID, driver.ID, first.PeriodStart, first.PeriodEnd)
	require.NoError(t, err)
	require.True(t, settlement.GrossPay.Equal(decimal.RequireFromString("500")))

	// the POD for a second load in the same week arrives after the batch
	lateDelivered := time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC)
	late := f.seedSettleableLoad(t, 67, driver.ID, lateDelivered, "400")

	second, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Empty(t, second.Failures)

	got, err := f.loads.FindLoadByID(ctx, companyID, late.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SettlementID, "late load must not strand outside every batch")
	assert.Equal(t, settlement.ID, *got.SettlementID)

	updated, err := f.repo.FindByID(ctx, companyID, settlement.ID)
	require.NoError(t, err)
	assert.True(t, updated.GrossPay.Equal(decimal.RequireFromString("700")), "gross = %s", updated.GrossPay)

	var history []domain.Revision
	require.NoError(t, json.Unmarshal(updated.CalculationHistory, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "late settlement-ready loads", history[0].Reason)
	assert.True(t, history[0].PreviousGross.Equal(decimal.RequireFromString("500")))

	// nothing left to fold in; a third run leaves the revision history alone
	third, err := f.svc.GenerateWeeklySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, third.Created)
	again, err := f.repo.FindByID(ctx, companyID, settlement.ID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(again.CalculationHistory, &history))
	assert.Len(t, history, 1)
}

func TestListSettlementsPaginates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompany(t)
	driverID := snowflake.ID(310)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		start := base.AddDate(0, 0, 7*i)
		require.NoError(t, f.db.Create(&domain.Settlement{
			ID:               snowflake.ID(9000 + i),
			CompanyID:        companyID,
			DriverID:         driverID,
			SettlementNumber: fmt.Sprintf("SET-%d", 9000+i),
			PeriodStart:      start,
			PeriodEnd:        start.AddDate(0, 0, 7),
			Status:           domain.SettlementStatusDraft,
			CreatedAt:        base.Add(time.Duration(i) * time.Hour),
			UpdatedAt:        base.Add(time.Duration(i) * time.Hour),
		}).Error)
	}

	page, err := f.svc.ListSettlements(ctx, companyID, domain.ListRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Settlements, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)
	assert.Equal(t, snowflake.ID(9002), page.Settlements[0].ID, "newest first")
	assert.Equal(t, snowflake.ID(9001), page.Settlements[1].ID)

	rest, err := f.svc.ListSettlements(ctx, companyID, domain.ListRequest{
		PageSize:  2,
		PageToken: page.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, rest.Settlements, 1)
	assert.False(t, rest.HasMore)
	assert.Equal(t, snowflake.ID(9000), rest.Settlements[0].ID)

	_, err = f.svc.ListSettlements(ctx, companyID, domain.ListRequest{PageToken: "not-a-cursor"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
