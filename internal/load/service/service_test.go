package service

import (
	"context"
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

	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	activitysvc "github.com/adrijusxx/linehaul/internal/activity/service"
	"github.com/adrijusxx/linehaul/internal/clock"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	eventssvc "github.com/adrijusxx/linehaul/internal/events/service"
	"github.com/adrijusxx/linehaul/internal/load/domain"
	loadrepo "github.com/adrijusxx/linehaul/internal/load/repository"
)

const companyID = snowflake.ID(7009)

type fixture struct {
	db    *gorm.DB
	loads domain.Repository
	svc   domain.Service
	clock *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Load{},
		&domain.Customer{},
		&domain.Driver{},
		&eventsdomain.Event{},
		&activitydomain.ActivityLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))

	loads := loadrepo.Provide(loadrepo.Params{DB: db, Log: log})
	enqueuer := eventssvc.ProvideEnqueuer(eventssvc.EnqueuerParams{DB: db, Log: log, GenID: node, Clock: fc})
	activity := activitysvc.Provide(activitysvc.Params{DB: db, Log: log, GenID: node, Clock: fc})

	svc := Provide(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Repo:     loads,
		Events:   enqueuer,
		Activity: activity,
	})
	return &fixture{db: db, loads: loads, svc: svc, clock: fc}
}

func (f *fixture) seedCustomer(t *testing.T, id int64) domain.Customer {
	t.Helper()
	customer := domain.Customer{
		ID:        snowflake.ID(id),
		CompanyID: companyID,
		Name:      fmt.Sprintf("Shipper %d", id),
	}
	require.NoError(t, f.db.Create(&customer).Error)
	return customer
}

func TestCreateLoadBooksLoad(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.seedCustomer(t, 100)
	driver := domain.Driver{
		ID:        snowflake.ID(301),
		CompanyID: companyID,
		Name:      "J. Doe",
		PayRate:   decimal.RequireFromString("0.60"),
	}
	require.NoError(t, f.db.Create(&driver).Error)

	created, err := f.svc.CreateLoad(ctx, companyID, domain.CreateLoadInput{
		CustomerID: customer.ID,
		DriverID:   &driver.ID,
		LoadNumber: "L-2001",
		Revenue:    decimal.RequireFromString("1800"),
		DriverPay:  decimal.RequireFromString("650"),
		TotalMiles: decimal.RequireFromString("720"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LoadStatusBooked, created.Status)
	assert.Equal(t, domain.SyncStatusNotSynced, created.AccountingSyncStatus)
	assert.False(t, created.IsBillingHold)

	got, err := f.loads.FindLoadByID(ctx, companyID, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "L-2001", got.LoadNumber)
	assert.True(t, got.Revenue.Equal(decimal.RequireFromString("1800")))
	require.NotNil(t, got.DriverID)
	assert.Equal(t, driver.ID, *got.DriverID)

	var entry activitydomain.ActivityLog
	require.NoError(t, f.db.Where("action = ?", "load.created").First(&entry).Error)
	require.NotNil(t, entry.EntityID)
	assert.Equal(t, created.ID.String(), *entry.EntityID)
}

func TestCreateLoadRejectsUnknownCustomer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateLoad(ctx, companyID, domain.CreateLoadInput{
		CustomerID: snowflake.ID(404),
		LoadNumber: "L-2002",
		Revenue:    decimal.RequireFromString("900"),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateLoadRejectsUnknownDriver(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.seedCustomer(t, 101)
	missing := snowflake.ID(404)

	_, err := f.svc.CreateLoad(ctx, companyID, domain.CreateLoadInput{
		CustomerID: customer.ID,
		DriverID:   &missing,
		LoadNumber: "L-2003",
		Revenue:    decimal.RequireFromString("900"),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkDeliveredEnqueuesCompletionEvent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.seedCustomer(t, 102)

	created, err := f.svc.CreateLoad(ctx, companyID, domain.CreateLoadInput{
		CustomerID: customer.ID,
		LoadNumber: "L-2004",
		Revenue:    decimal.RequireFromString("1200"),
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(
		`UPDATE loads SET status = ? WHERE id = ?`,
		domain.LoadStatusInTransit, created.ID,
	).Error)

	got, err := f.svc.MarkDelivered(ctx, companyID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoadStatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)

	var ev eventsdomain.Event
	require.NoError(t, f.db.Where("name = ?", eventsdomain.EventLoadDelivered).First(&ev).Error)
	assert.Equal(t, created.ID.String(), ev.Payload["load_id"])
}
