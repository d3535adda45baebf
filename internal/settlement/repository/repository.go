// Package repository implements settlement data access.
package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/settlement/domain"
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
	return &repo{db: p.DB, log: p.Log.Named("settlement.repository")}
}

func (r *repo) Create(tx *gorm.DB, s *domain.Settlement) error {
	return tx.Create(s).Error
}

func (r *repo) FindByID(ctx context.Context, companyID, id snowflake.ID) (*domain.Settlement, error) {
	var m domain.Settlement
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM settlements WHERE id = ? AND company_id = ?`, id, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) FindByDriverPeriod(ctx context.Context, companyID, driverID snowflake.ID, periodStart, periodEnd time.Time) (*domain.Settlement, error) {
	var m domain.Settlement
	res := r.db.WithContext(ctx).
		Raw(`SELECT * FROM settlements
		     WHERE company_id = ? AND driver_id = ? AND period_start = ? AND period_end = ?`,
			companyID, driverID, periodStart, periodEnd).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

// List returns settlements newest first. The cursor is a (created_at, id)
// keyset position; callers pass limit+1 detection through the limit itself.
func (r *repo) List(ctx context.Context, companyID snowflake.ID, driverID *snowflake.ID, cursor *domain.ListCursor, limit int) ([]*domain.Settlement, error) {
	q := `SELECT * FROM settlements WHERE company_id = ?`
	args := []any{companyID}
	if driverID != nil {
		q += ` AND driver_id = ?`
		args = append(args, *driverID)
	}
	if cursor != nil {
		q += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var out []*domain.Settlement
	err := r.db.WithContext(ctx).Raw(q, args...).Scan(&out).Error
	return out, err
}

func (r *repo) UpdateCalculation(ctx context.Context, s *domain.Settlement) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE settlements
		 SET gross_pay = ?, net_pay = ?, total_deductions = ?,
		     calculation_log = ?, calculation_history = ?, updated_at = ?
		 WHERE id = ? AND company_id = ?`,
		s.GrossPay, s.NetPay, s.TotalDeductions,
		s.CalculationLog, s.CalculationHistory, s.UpdatedAt,
		s.ID, s.CompanyID,
	).Error
}

func (r *repo) ListUnattachedAdjustments(ctx context.Context, companyID, driverID snowflake.ID, before time.Time) ([]domain.DriverAdjustment, error) {
	var out []domain.DriverAdjustment
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM driver_adjustments
		     WHERE company_id = ? AND driver_id = ? AND settlement_id IS NULL AND effective_at < ?
		     ORDER BY effective_at, id`,
			companyID, driverID, before).
		Scan(&out).Error
	return out, err
}

func (r *repo) ListAdjustmentsBySettlement(ctx context.Context, companyID, settlementID snowflake.ID) ([]domain.DriverAdjustment, error) {
	var out []domain.DriverAdjustment
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM driver_adjustments
		     WHERE company_id = ? AND settlement_id = ? ORDER BY effective_at, id`,
			companyID, settlementID).
		Scan(&out).Error
	return out, err
}

func (r *repo) AttachAdjustments(tx *gorm.DB, companyID, settlementID snowflake.ID, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Exec(
		`UPDATE driver_adjustments SET settlement_id = ?
		 WHERE company_id = ? AND id IN ? AND settlement_id IS NULL`,
		settlementID, companyID, ids,
	).Error
}
