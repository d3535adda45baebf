// Package service applies load figures to the per-entity aggregates.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/clock"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/rollup/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Loads loaddomain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	loads loaddomain.Repository
}

func Provide(p Params) domain.Service {
	return &service{db: p.DB, log: p.Log.Named("rollup"), clock: p.Clock, loads: p.Loads}
}

// ApplyLoadMetrics runs in one transaction: flip the load's marker
// conditionally, then increment. When the marker was already set the
// transaction changes nothing, so redelivered completion events cannot
// double-count. Returns whether this call applied the increments.
func (s *service) ApplyLoadMetrics(ctx context.Context, companyID, loadID snowflake.ID) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		load, err := s.loads.FindLoadByIDForUpdate(tx, companyID, loadID)
		if err != nil {
			return err
		}
		if load == nil {
			return loaddomain.ErrNotFound
		}

		flipped, err := s.loads.MarkMetricsApplied(tx, companyID, loadID)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}

		now := s.clock.Now()
		if load.DriverID != nil {
			if err := tx.Exec(
				`INSERT INTO driver_rollups (driver_id, company_id, total_loads, total_revenue, total_miles, total_pay, updated_at)
				 VALUES (?, ?, 1, ?, ?, ?, ?)
				 ON CONFLICT (driver_id) DO UPDATE SET
				   total_loads = driver_rollups.total_loads + 1,
				   total_revenue = driver_rollups.total_revenue + excluded.total_revenue,
				   total_miles = driver_rollups.total_miles + excluded.total_miles,
				   total_pay = driver_rollups.total_pay + excluded.total_pay,
				   updated_at = excluded.updated_at`,
				*load.DriverID, companyID, load.Revenue, load.TotalMiles, load.DriverPay, now,
			).Error; err != nil {
				return err
			}
		}
		if load.TruckID != nil {
			if err := tx.Exec(
				`INSERT INTO truck_rollups (truck_id, company_id, total_loads, total_revenue, total_miles, updated_at)
				 VALUES (?, ?, 1, ?, ?, ?)
				 ON CONFLICT (truck_id) DO UPDATE SET
				   total_loads = truck_rollups.total_loads + 1,
				   total_revenue = truck_rollups.total_revenue + excluded.total_revenue,
				   total_miles = truck_rollups.total_miles + excluded.total_miles,
				   updated_at = excluded.updated_at`,
				*load.TruckID, companyID, load.Revenue, load.TotalMiles, now,
			).Error; err != nil {
				return err
			}
		}
		if err := tx.Exec(
			`INSERT INTO customer_rollups (customer_id, company_id, total_loads, total_revenue, updated_at)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT (customer_id) DO UPDATE SET
			   total_loads = customer_rollups.total_loads + 1,
			   total_revenue = customer_rollups.total_revenue + excluded.total_revenue,
			   updated_at = excluded.updated_at`,
			load.CustomerID, companyID, load.Revenue, now,
		).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}

func (s *service) GetDriverRollup(ctx context.Context, companyID, driverID snowflake.ID) (*domain.DriverRollup, error) {
	var m domain.DriverRollup
	res := s.db.WithContext(ctx).
		Raw(`SELECT * FROM driver_rollups WHERE driver_id = ? AND company_id = ?`, driverID, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

func (s *service) GetCustomerRollup(ctx context.Context, companyID, customerID snowflake.ID) (*domain.CustomerRollup, error) {
	var m domain.CustomerRollup
	res := s.db.WithContext(ctx).
		Raw(`SELECT * FROM customer_rollups WHERE customer_id = ? AND company_id = ?`, customerID, companyID).
		Scan(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}
