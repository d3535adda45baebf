// Package engine is the reference pay calculator.
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/paycalc/domain"
)

// Version tags every calculation log so historical settlements can be
// traced to the rules that produced them.
const Version = "linehaul-paycalc/1"

type Params struct {
	fx.In

	Log *zap.Logger
}

type engine struct {
	log *zap.Logger
}

func Provide(p Params) domain.Engine {
	return &engine{log: p.Log.Named("paycalc")}
}

func (e *engine) Calculate(ctx context.Context, in domain.Input) (domain.Result, error) {
	log := domain.CalculationLog{
		CalculatedAt:      in.Now,
		CalculatorVersion: Version,
		PayType:           string(in.Driver.PayType),
		PayRate:           in.Driver.PayRate,
	}

	gross := decimal.Zero
	for _, l := range in.Loads {
		item, err := lineItemFor(in.Driver, l)
		if err != nil {
			return domain.Result{}, err
		}
		log.LineItems = append(log.LineItems, item)
		gross = gross.Add(item.Pay)
	}

	deductions := decimal.Zero
	for _, a := range in.Adjustments {
		switch a.Kind {
		case domain.AdjustmentAddition:
			log.Additions = append(log.Additions, a)
			gross = gross.Add(a.Amount)
		case domain.AdjustmentDeduction:
			log.Deductions = append(log.Deductions, a)
			deductions = deductions.Add(a.Amount)
		case domain.AdjustmentAdvance:
			log.Advances = append(log.Advances, a)
			deductions = deductions.Add(a.Amount)
		default:
			return domain.Result{}, fmt.Errorf("unknown adjustment kind %q", a.Kind)
		}
	}

	gross = gross.Round(2)
	deductions = deductions.Round(2)
	net := gross.Sub(deductions)

	log.Gross = gross
	log.TotalDeductions = deductions
	log.Net = net

	return domain.Result{Gross: gross, Net: net, TotalDeductions: deductions, Log: log}, nil
}

// lineItemFor derives one load's pay. A non-zero stored driver pay wins
// over the scheme: dispatch negotiates flat amounts per load often enough
// that the stored figure is authoritative when present.
func lineItemFor(driver loaddomain.Driver, l loaddomain.Load) (domain.LoadLineItem, error) {
	item := domain.LoadLineItem{
		LoadID:     l.ID,
		LoadNumber: l.LoadNumber,
		Miles:      l.TotalMiles,
	}

	if l.DriverPay.IsPositive() {
		item.RuleApplied = "load_override"
		item.RateBasis = "stored driver pay"
		item.Pay = l.DriverPay.Round(2)
		return item, nil
	}

	switch driver.PayType {
	case loaddomain.PayTypePerMile:
		item.RuleApplied = "per_mile"
		item.RateBasis = fmt.Sprintf("%s/mile x %s miles", driver.PayRate.String(), l.TotalMiles.StringFixed(1))
		item.Pay = l.TotalMiles.Mul(driver.PayRate).Round(2)
	case loaddomain.PayTypePercentage:
		item.RuleApplied = "percentage_of_revenue"
		item.RateBasis = fmt.Sprintf("%s%% of %s revenue", driver.PayRate.Mul(decimal.NewFromInt(100)).String(), l.Revenue.StringFixed(2))
		item.Pay = l.Revenue.Mul(driver.PayRate).Round(2)
	case loaddomain.PayTypeFlat:
		item.RuleApplied = "flat_per_load"
		item.RateBasis = "flat rate"
		item.Pay = driver.PayRate.Round(2)
	default:
		return item, fmt.Errorf("driver %s: unknown pay type %q", driver.ID, driver.PayType)
	}
	return item, nil
}
