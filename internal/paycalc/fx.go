package paycalc

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/paycalc/domain"
	"github.com/adrijusxx/linehaul/internal/paycalc/engine"
)

var Module = fx.Module("paycalc",
	fx.Provide(engine.Provide),
	fx.Provide(func() domain.MileageTaxCalculator {
		return engine.SingleJurisdiction{Base: "IL"}
	}),
)
