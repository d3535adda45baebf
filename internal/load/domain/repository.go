package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("not_found")
	ErrStaleStatus  = errors.New("stale_status")
	ErrCrossCompany = errors.New("cross_company")
)

// Repository is the data access surface for loads and their related rows.
// Finders return (nil, nil) when no row matches.
type Repository interface {
	FindLoadByID(ctx context.Context, companyID, id snowflake.ID) (*Load, error)
	FindLoadByIDForUpdate(tx *gorm.DB, companyID, id snowflake.ID) (*Load, error)
	FindLoadsByIDs(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) ([]Load, error)
	CreateLoad(ctx context.Context, load *Load) error

	// SetBillingHold and ClearBillingHold are guarded on the current hold
	// flag and return false without error when another writer got there
	// first. Clearing also moves the load to READY_TO_BILL with the
	// corrected revenue and queues it for re-sync.
	SetBillingHold(tx *gorm.DB, companyID, id snowflake.ID, reason string, now time.Time) (bool, error)
	ClearBillingHold(tx *gorm.DB, companyID, id snowflake.ID, revenue decimal.Decimal, now time.Time) (bool, error)

	MarkReadyForSettlement(ctx context.Context, companyID, id snowflake.ID) error
	MarkMetricsApplied(tx *gorm.DB, companyID, id snowflake.ID) (bool, error)

	SetAccountingSyncStatus(ctx context.Context, companyID, id snowflake.ID, status AccountingSyncStatus, syncErr *string) error

	ListAccessorialCharges(ctx context.Context, companyID, loadID snowflake.ID) ([]AccessorialCharge, error)
	ListExpenses(ctx context.Context, companyID, loadID snowflake.ID) ([]LoadExpense, error)
	ListDocuments(ctx context.Context, companyID, loadID snowflake.ID) ([]LoadDocument, error)

	FindCustomerByID(ctx context.Context, companyID, id snowflake.ID) (*Customer, error)
	FindDriverByID(ctx context.Context, companyID, id snowflake.ID) (*Driver, error)
	FindCompanyByID(ctx context.Context, id snowflake.ID) (*Company, error)

	ListActiveCompanies(ctx context.Context) ([]Company, error)
	ListActiveDrivers(ctx context.Context, companyID snowflake.ID) ([]Driver, error)

	// ListSettleableLoads returns delivered-or-later loads for a driver that
	// are flagged ready for settlement, unattached to a settlement, and
	// delivered inside the period.
	ListSettleableLoads(ctx context.Context, companyID, driverID snowflake.ID, periodStart, periodEnd time.Time) ([]Load, error)
	ListLoadsBySettlement(ctx context.Context, companyID, settlementID snowflake.ID) ([]Load, error)

	AttachLoadsToSettlement(tx *gorm.DB, companyID, settlementID snowflake.ID, loadIDs []snowflake.ID) error
	AttachLoadsToInvoice(tx *gorm.DB, companyID, invoiceID snowflake.ID, loadIDs []snowflake.ID, invoicedAt time.Time) error

	ListLoadsWithFailedSync(ctx context.Context, companyID snowflake.ID, limit int) ([]Load, error)
	CountLoadsBySyncStatus(ctx context.Context, companyID snowflake.ID) (map[AccountingSyncStatus]int64, error)
}

// CreateLoadInput is the booking payload. Status always starts at BOOKED.
type CreateLoadInput struct {
	CustomerID snowflake.ID
	DriverID   *snowflake.ID
	TruckID    *snowflake.ID
	LoadNumber string
	Revenue    decimal.Decimal
	DriverPay  decimal.Decimal
	TotalMiles decimal.Decimal
	Weight     decimal.Decimal
}

// Service covers load lifecycle operations exposed to callers.
type Service interface {
	CreateLoad(ctx context.Context, companyID snowflake.ID, in CreateLoadInput) (*Load, error)

	// MarkDelivered moves the load into DELIVERED, stamps delivered_at
	// once, and emits the delivery event that drives completion.
	MarkDelivered(ctx context.Context, companyID, loadID snowflake.ID) (*Load, error)

	AddDocument(ctx context.Context, companyID, loadID snowflake.ID, docType DocumentType, fileRef string) (*LoadDocument, error)
	AddExpense(ctx context.Context, companyID, loadID snowflake.ID, expenseType ExpenseType, amount decimal.Decimal) (*LoadExpense, error)
	ApproveExpense(ctx context.Context, companyID, expenseID snowflake.ID) error
}
