// Package domain contains settlement models and the batch generation
// contract. A settlement is one driver's pay statement for one weekly
// period; at most one exists per (driver, period).
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	paycalcdomain "github.com/adrijusxx/linehaul/internal/paycalc/domain"
	"github.com/adrijusxx/linehaul/pkg/db/pagination"
)

var (
	ErrNotFound         = errors.New("settlement_not_found")
	ErrDriverNotFound   = errors.New("driver_not_found")
	ErrNoLoads          = errors.New("no_settleable_loads")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)

// SettlementStatus is the AP lifecycle.
type SettlementStatus string

const (
	SettlementStatusDraft    SettlementStatus = "DRAFT"
	SettlementStatusApproved SettlementStatus = "APPROVED"
	SettlementStatusPaid     SettlementStatus = "PAID"
)

// Settlement is one driver's pay statement for one period. CalculationLog
// holds the current computation's audit snapshot; CalculationHistory is an
// append-only list of superseded revisions.
type Settlement struct {
	ID               snowflake.ID     `gorm:"primaryKey"`
	CompanyID        snowflake.ID     `gorm:"not null;index"`
	DriverID         snowflake.ID     `gorm:"not null;uniqueIndex:idx_settlements_driver_period,priority:1"`
	SettlementNumber string           `gorm:"not null"`
	PeriodStart      time.Time        `gorm:"not null;uniqueIndex:idx_settlements_driver_period,priority:2"`
	PeriodEnd        time.Time        `gorm:"not null;uniqueIndex:idx_settlements_driver_period,priority:3"`
	Status           SettlementStatus `gorm:"type:text;not null;default:'DRAFT'"`

	GrossPay        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	NetPay          decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TotalDeductions decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`

	CalculationLog     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	CalculationHistory datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Settlement) TableName() string { return "settlements" }

// DriverAdjustment is a pending bonus, deduction, or advance recovery that
// the next settlement for the driver absorbs.
type DriverAdjustment struct {
	ID           snowflake.ID                 `gorm:"primaryKey"`
	CompanyID    snowflake.ID                 `gorm:"not null;index"`
	DriverID     snowflake.ID                 `gorm:"not null;index"`
	Kind         paycalcdomain.AdjustmentKind `gorm:"type:text;not null"`
	Type         string                       `gorm:"not null"`
	Description  string                       `gorm:"type:text;not null"`
	SourceRef    string                       `gorm:"type:text"`
	Amount       decimal.Decimal              `gorm:"type:numeric(12,2);not null"`
	SettlementID *snowflake.ID                `gorm:"index"`
	EffectiveAt  time.Time                    `gorm:"not null"`
	CreatedAt    time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DriverAdjustment) TableName() string { return "driver_adjustments" }

// Revision is one superseded calculation, kept verbatim in the history
// list when a settlement is recalculated.
type Revision struct {
	PreviousGross      decimal.Decimal `json:"previous_gross"`
	PreviousNet        decimal.Decimal `json:"previous_net"`
	PreviousDeductions decimal.Decimal `json:"previous_deductions"`
	Reason             string          `json:"reason"`
	ReplacedAt         time.Time       `json:"replaced_at"`
	CalculatorVersion  string          `json:"calculator_version,omitempty"`
}

// DriverFailure records one driver whose settlement failed during a batch.
type DriverFailure struct {
	DriverID snowflake.ID `json:"driver_id"`
	Message  string       `json:"message"`
}

// BatchSummary reports one weekly batch run.
type BatchSummary struct {
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Companies   int             `json:"companies"`
	Created     int             `json:"created"`
	Skipped     int             `json:"skipped"`
	Failures    []DriverFailure `json:"failures,omitempty"`
}

// ListCursor is the keyset position for settlement listings, newest first.
type ListCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListRequest pages a company's settlements, optionally for one driver.
type ListRequest struct {
	DriverID  *snowflake.ID
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Settlements []Settlement `json:"settlements"`
}

type Repository interface {
	Create(tx *gorm.DB, s *Settlement) error
	FindByID(ctx context.Context, companyID, id snowflake.ID) (*Settlement, error)
	FindByDriverPeriod(ctx context.Context, companyID, driverID snowflake.ID, periodStart, periodEnd time.Time) (*Settlement, error)
	List(ctx context.Context, companyID snowflake.ID, driverID *snowflake.ID, cursor *ListCursor, limit int) ([]*Settlement, error)
	UpdateCalculation(ctx context.Context, s *Settlement) error

	ListUnattachedAdjustments(ctx context.Context, companyID, driverID snowflake.ID, before time.Time) ([]DriverAdjustment, error)
	ListAdjustmentsBySettlement(ctx context.Context, companyID, settlementID snowflake.ID) ([]DriverAdjustment, error)
	AttachAdjustments(tx *gorm.DB, companyID, settlementID snowflake.ID, ids []snowflake.ID) error
}

type Service interface {
	// GenerateWeeklySettlements runs the scheduled batch over the prior
	// weekly period for every active company.
	GenerateWeeklySettlements(ctx context.Context) (BatchSummary, error)

	// GenerateSettlement is the on-demand single-driver path. It computes
	// unconditionally: an existing settlement for the period is
	// recalculated, not skipped.
	GenerateSettlement(ctx context.Context, companyID, driverID snowflake.ID, periodStart, periodEnd time.Time) (*Settlement, error)

	RecalculateSettlement(ctx context.Context, companyID, settlementID snowflake.ID, reason string) (*Settlement, error)

	ListSettlements(ctx context.Context, companyID snowflake.ID, req ListRequest) (ListResponse, error)

	// RevisionDiffs classifies gross/net/deductions movement between
	// consecutive revisions.
	RevisionDiffs(s *Settlement) ([]RevisionDiff, error)
}
