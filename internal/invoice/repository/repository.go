// Package repository implements invoice data access.
package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/invoice/domain"
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
	return &repo{db: p.DB, log: p.Log.Named("invoice.repository")}
}

func (r *repo) Create(tx *gorm.DB, inv *domain.Invoice) error {
	return tx.Create(inv).Error
}

func (r *repo) FindByID(ctx context.Context, companyID, id snowflake.ID) (*domain.Invoice, error) {
	var m domain.Invoice
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM invoices WHERE id = ? AND company_id = ?`, id, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) UpdateStatus(ctx context.Context, companyID, id snowflake.ID, from, to domain.InvoiceStatus) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ? AND status = ?`,
		to, id, companyID, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetLedgerRef(ctx context.Context, companyID, id snowflake.ID, ref string, status domain.LedgerSyncStatus) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE invoices SET ledger_ref = ?, ledger_sync_status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ?`,
		ref, status, id, companyID,
	).Error
}

func (r *repo) SetLedgerSyncStatus(ctx context.Context, companyID, id snowflake.ID, status domain.LedgerSyncStatus) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE invoices SET ledger_sync_status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ?`,
		status, id, companyID,
	).Error
}

func (r *repo) CreateSnapshots(tx *gorm.DB, snaps []domain.LoadSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return tx.Create(&snaps).Error
}

func (r *repo) FindSnapshotsByInvoice(ctx context.Context, companyID, invoiceID snowflake.ID) ([]domain.LoadSnapshot, error) {
	var out []domain.LoadSnapshot
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM load_snapshots WHERE company_id = ? AND invoice_id = ? ORDER BY id`, companyID, invoiceID).
		Scan(&out).Error
	return out, err
}

func (r *repo) FindSnapshotByLoad(ctx context.Context, companyID, loadID snowflake.ID) (*domain.LoadSnapshot, error) {
	var m domain.LoadSnapshot
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM load_snapshots WHERE company_id = ? AND load_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
			companyID, loadID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}
