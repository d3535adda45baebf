// Package repository implements load data access with raw SQL over gorm.
package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/load/domain"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type repo struct {
	db  *gorm.DB
	log *zap.Logger
}

func Provide(p Params) domain.Repository {
	return &repo{db: p.DB, log: p.Log.Named("load.repository")}
}

func (r *repo) FindLoadByID(ctx context.Context, companyID, id snowflake.ID) (*domain.Load, error) {
	var m domain.Load
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM loads WHERE id = ? AND company_id = ?`, id, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) FindLoadByIDForUpdate(tx *gorm.DB, companyID, id snowflake.ID) (*domain.Load, error) {
	q := `SELECT * FROM loads WHERE id = ? AND company_id = ?`
	if tx.Dialector.Name() != "sqlite" {
		q += ` FOR UPDATE`
	}
	var m domain.Load
	res := tx.Raw(q, id, companyID).Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) FindLoadsByIDs(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) ([]domain.Load, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Load
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM loads WHERE company_id = ? AND id IN ? ORDER BY id`, companyID, ids).
		Scan(&out).Error
	return out, err
}

func (r *repo) CreateLoad(ctx context.Context, load *domain.Load) error {
	return r.db.WithContext(ctx).Create(load).Error
}

// SetBillingHold places the hold and flags the load for accounting review
// in one statement. Returns false when the load is already held.
func (r *repo) SetBillingHold(tx *gorm.DB, companyID, id snowflake.ID, reason string, now time.Time) (bool, error) {
	res := tx.Exec(
		`UPDATE loads SET is_billing_hold = ?, billing_hold_reason = ?, accounting_sync_status = ?, updated_at = ?
		 WHERE id = ? AND company_id = ? AND is_billing_hold = ?`,
		true, reason, domain.SyncStatusRequiresReview, now, id, companyID, false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClearBillingHold releases the hold, applies the corrected revenue, and
// queues the load for billing and re-sync in one guarded statement.
// Returns false when the load was not held.
func (r *repo) ClearBillingHold(tx *gorm.DB, companyID, id snowflake.ID, revenue decimal.Decimal, now time.Time) (bool, error) {
	res := tx.Exec(
		`UPDATE loads SET is_billing_hold = ?, billing_hold_reason = NULL, status = ?,
		        accounting_sync_status = ?, revenue = ?, updated_at = ?
		 WHERE id = ? AND company_id = ? AND is_billing_hold = ?`,
		false, domain.LoadStatusReadyToBill, domain.SyncStatusPendingSync,
		revenue, now, id, companyID, true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkReadyForSettlement(ctx context.Context, companyID, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE loads SET ready_for_settlement = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND company_id = ?`,
		true, id, companyID,
	).Error
}

func (r *repo) MarkMetricsApplied(tx *gorm.DB, companyID, id snowflake.ID) (bool, error) {
	res := tx.Exec(
		`UPDATE loads SET metrics_applied = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ? AND metrics_applied = ?`,
		true, id, companyID, false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetAccountingSyncStatus(ctx context.Context, companyID, id snowflake.ID, status domain.AccountingSyncStatus, syncErr *string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE loads SET accounting_sync_status = ?, last_sync_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ?`,
		status, syncErr, id, companyID,
	).Error
}

func (r *repo) ListAccessorialCharges(ctx context.Context, companyID, loadID snowflake.ID) ([]domain.AccessorialCharge, error) {
	var out []domain.AccessorialCharge
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM accessorial_charges WHERE company_id = ? AND load_id = ? ORDER BY id`, companyID, loadID).
		Scan(&out).Error
	return out, err
}

func (r *repo) ListExpenses(ctx context.Context, companyID, loadID snowflake.ID) ([]domain.LoadExpense, error) {
	var out []domain.LoadExpense
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM load_expenses WHERE company_id = ? AND load_id = ? ORDER BY id`, companyID, loadID).
		Scan(&out).Error
	return out, err
}

func (r *repo) ListDocuments(ctx context.Context, companyID, loadID snowflake.ID) ([]domain.LoadDocument, error) {
	var out []domain.LoadDocument
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM load_documents WHERE company_id = ? AND load_id = ? ORDER BY id`, companyID, loadID).
		Scan(&out).Error
	return out, err
}

func (r *repo) FindCustomerByID(ctx context.Context, companyID, id snowflake.ID) (*domain.Customer, error) {
	var m domain.Customer
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM customers WHERE id = ? AND company_id = ?`, id, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) FindDriverByID(ctx context.Context, companyID, id snowflake.ID) (*domain.Driver, error) {
	var m domain.Driver
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM drivers WHERE id = ? AND company_id = ?`, id, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) FindCompanyByID(ctx context.Context, id snowflake.ID) (*domain.Company, error) {
	var m domain.Company
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM companies WHERE id = ?`, id).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) ListActiveCompanies(ctx context.Context) ([]domain.Company, error) {
	var out []domain.Company
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM companies WHERE status = ? ORDER BY id`, domain.CompanyStatusActive).
		Scan(&out).Error
	return out, err
}

func (r *repo) ListActiveDrivers(ctx context.Context, companyID snowflake.ID) ([]domain.Driver, error) {
	var out []domain.Driver
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM drivers WHERE company_id = ? AND status = ? ORDER BY id`,
			companyID, domain.DriverStatusAvailable).
		Scan(&out).Error
	return out, err
}

func (r *repo) ListSettleableLoads(ctx context.Context, companyID, driverID snowflake.ID, periodStart, periodEnd time.Time) ([]domain.Load, error) {
	var out []domain.Load
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM loads
		     WHERE company_id = ?
		       AND driver_id = ?
		       AND ready_for_settlement = ?
		       AND settlement_id IS NULL
		       AND delivered_at >= ? AND delivered_at < ?
		     ORDER BY delivered_at, id`,
			companyID, driverID, true, periodStart, periodEnd).
		Scan(&out).Error
	return out, err
}

func (r *repo) ListLoadsBySettlement(ctx context.Context, companyID, settlementID snowflake.ID) ([]domain.Load, error) {
	var out []domain.Load
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM loads WHERE company_id = ? AND settlement_id = ? ORDER BY delivered_at, id`,
			companyID, settlementID).
		Scan(&out).Error
	return out, err
}

func (r *repo) AttachLoadsToSettlement(tx *gorm.DB, companyID, settlementID snowflake.ID, loadIDs []snowflake.ID) error {
	if len(loadIDs) == 0 {
		return nil
	}
	return tx.Exec(
		`UPDATE loads SET settlement_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE company_id = ? AND id IN ? AND settlement_id IS NULL`,
		settlementID, companyID, loadIDs,
	).Error
}

func (r *repo) AttachLoadsToInvoice(tx *gorm.DB, companyID, invoiceID snowflake.ID, loadIDs []snowflake.ID, invoicedAt time.Time) error {
	if len(loadIDs) == 0 {
		return nil
	}
	return tx.Exec(
		`UPDATE loads SET invoice_id = ?, status = ?, invoiced_at = ?, updated_at = ?
		 WHERE company_id = ? AND id IN ?`,
		invoiceID, domain.LoadStatusInvoiced, invoicedAt, invoicedAt, companyID, loadIDs,
	).Error
}

func (r *repo) ListLoadsWithFailedSync(ctx context.Context, companyID snowflake.ID, limit int) ([]domain.Load, error) {
	var out []domain.Load
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM loads WHERE company_id = ? AND accounting_sync_status = ? ORDER BY updated_at LIMIT ?`,
			companyID, domain.SyncStatusSyncFailed, limit).
		Scan(&out).Error
	return out, err
}

func (r *repo) CountLoadsBySyncStatus(ctx context.Context, companyID snowflake.ID) (map[domain.AccountingSyncStatus]int64, error) {
	type row struct {
		AccountingSyncStatus domain.AccountingSyncStatus
		N                    int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Raw(`SELECT accounting_sync_status, COUNT(*) AS n FROM loads WHERE company_id = ? GROUP BY accounting_sync_status`,
			companyID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.AccountingSyncStatus]int64, len(rows))
	for _, r := range rows {
		out[r.AccountingSyncStatus] = r.N
	}
	return out, nil
}
