package engine

import (
	"context"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/paycalc/domain"
)

// SingleJurisdiction attributes all of a load's miles to the jurisdiction
// recorded on the load, falling back to the carrier's base jurisdiction.
// Route-level apportionment needs a map provider and lives outside this
// service.
type SingleJurisdiction struct {
	Base string
}

func (c SingleJurisdiction) Apportion(ctx context.Context, load loaddomain.Load) ([]domain.JurisdictionMiles, error) {
	jurisdiction := c.Base
	if v, ok := load.Metadata["jurisdiction"].(string); ok && v != "" {
		jurisdiction = v
	}
	return []domain.JurisdictionMiles{{Jurisdiction: jurisdiction, Miles: load.TotalMiles}}, nil
}

var _ domain.MileageTaxCalculator = SingleJurisdiction{}
