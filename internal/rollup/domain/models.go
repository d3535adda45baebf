// Package domain contains the running aggregates kept per driver, truck,
// and customer. The counters are additive, so applying one load twice
// corrupts them; the loads table carries a marker that makes application
// once-only.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type DriverRollup struct {
	DriverID     snowflake.ID    `gorm:"primaryKey"`
	CompanyID    snowflake.ID    `gorm:"not null;index"`
	TotalLoads   int64           `gorm:"not null;default:0"`
	TotalRevenue decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0"`
	TotalMiles   decimal.Decimal `gorm:"type:numeric(12,1);not null;default:0"`
	TotalPay     decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DriverRollup) TableName() string { return "driver_rollups" }

type TruckRollup struct {
	TruckID      snowflake.ID    `gorm:"primaryKey"`
	CompanyID    snowflake.ID    `gorm:"not null;index"`
	TotalLoads   int64           `gorm:"not null;default:0"`
	TotalRevenue decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0"`
	TotalMiles   decimal.Decimal `gorm:"type:numeric(12,1);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TruckRollup) TableName() string { return "truck_rollups" }

type CustomerRollup struct {
	CustomerID   snowflake.ID    `gorm:"primaryKey"`
	CompanyID    snowflake.ID    `gorm:"not null;index"`
	TotalLoads   int64           `gorm:"not null;default:0"`
	TotalRevenue decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CustomerRollup) TableName() string { return "customer_rollups" }

// Service applies one load's figures to the aggregates.
type Service interface {
	// ApplyLoadMetrics increments the rollups for the load's driver,
	// truck, and customer exactly once. Calling it again for the same
	// load is a no-op.
	ApplyLoadMetrics(ctx context.Context, companyID, loadID snowflake.ID) (bool, error)

	GetDriverRollup(ctx context.Context, companyID, driverID snowflake.ID) (*DriverRollup, error)
	GetCustomerRollup(ctx context.Context, companyID, customerID snowflake.ID) (*CustomerRollup, error)
}
