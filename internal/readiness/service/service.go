// Package service implements the clean-load readiness checks.
package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adrijusxx/linehaul/internal/config"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/readiness/domain"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Loads    loaddomain.Repository
	Dispatch *config.DispatchConfigHolder
}

type service struct {
	log      *zap.Logger
	loads    loaddomain.Repository
	dispatch *config.DispatchConfigHolder
}

func Provide(p Params) domain.Service {
	return &service{log: p.Log.Named("readiness"), loads: p.Loads, dispatch: p.Dispatch}
}

func (s *service) IsReadyToBill(ctx context.Context, companyID, loadID snowflake.ID, opts domain.Options) (domain.Result, error) {
	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return domain.Result{}, err
	}
	if load == nil {
		return domain.Result{LoadID: loadID, Reasons: []string{"load not found"}}, nil
	}

	result := domain.Result{LoadID: loadID}

	docs, err := s.loads.ListDocuments(ctx, companyID, loadID)
	if err != nil {
		return domain.Result{}, err
	}
	if !hasPOD(docs) {
		result.MissingPOD = true
		result.Reasons = append(result.Reasons, "no proof of delivery document on file")
	}

	if !rateMatchWaived(ctx, s.loads, companyID, load, opts) && !load.DriverPay.Equal(load.Revenue) {
		result.RateMismatch = true
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("driver pay %s does not match revenue %s",
				load.DriverPay.StringFixed(2), load.Revenue.StringFixed(2)))
	}

	if !load.Weight.IsPositive() {
		result.MissingBOLWeight = true
		result.Reasons = append(result.Reasons, "bill of lading weight is missing or zero")
	}

	result.Ready = len(result.Reasons) == 0
	return result, nil
}

func hasPOD(docs []loaddomain.LoadDocument) bool {
	for _, d := range docs {
		if d.DocumentType == loaddomain.DocumentTypePOD && d.FileRef != "" {
			return true
		}
	}
	return false
}

// rateMatchWaived reports whether the pay/revenue comparison is skipped:
// brokerage accounts routinely split revenue, and a caller may allow an
// explicit split.
func rateMatchWaived(ctx context.Context, loads loaddomain.Repository, companyID snowflake.ID, load *loaddomain.Load, opts domain.Options) bool {
	if opts.AllowBrokerageSplit {
		return true
	}
	customer, err := loads.FindCustomerByID(ctx, companyID, load.CustomerID)
	if err != nil || customer == nil {
		return false
	}
	return customer.CustomerType == loaddomain.CustomerTypeBrokerage
}

func (s *service) AreLoadsReadyToBill(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID, opts domain.Options) (domain.BatchResult, error) {
	out := domain.BatchResult{AllReady: true, Results: make([]domain.Result, 0, len(loadIDs))}
	for _, id := range loadIDs {
		r, err := s.IsReadyToBill(ctx, companyID, id, opts)
		if err != nil {
			return domain.BatchResult{}, err
		}
		if !r.Ready {
			out.AllReady = false
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

func (s *service) ValidateLoadsForInvoicing(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID) ([]domain.ValidationResult, error) {
	loads, err := s.loads.FindLoadsByIDs(ctx, companyID, loadIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*loaddomain.Load, len(loads))
	for i := range loads {
		byID[loads[i].ID] = &loads[i]
	}

	out := make([]domain.ValidationResult, 0, len(loadIDs))
	for _, id := range loadIDs {
		v := domain.ValidationResult{LoadID: id}
		load, ok := byID[id]
		if !ok {
			v.Errors = append(v.Errors, "load not found")
			out = append(out, v)
			continue
		}
		if load.CustomerID == 0 {
			v.Errors = append(v.Errors, "no customer assigned")
		}
		if !load.Revenue.IsPositive() {
			v.Errors = append(v.Errors, "revenue is not set")
		}
		if !load.Weight.IsPositive() {
			v.Warnings = append(v.Warnings, "weight is not set")
		}
		if !load.TotalMiles.IsPositive() {
			v.Warnings = append(v.Warnings, "total miles is not set")
		}
		if load.DriverID != nil && load.DriverPay.IsZero() {
			v.Warnings = append(v.Warnings, "driver assigned but driver pay is zero")
		}
		v.CanInvoice = len(v.Errors) == 0
		out = append(out, v)
	}
	return out, nil
}

func (s *service) DetectExpenseGaps(ctx context.Context, companyID, loadID snowflake.ID) (domain.GapReport, error) {
	report := domain.GapReport{LoadID: loadID}

	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return report, err
	}
	if load == nil {
		return report, nil
	}

	if load.Status == loaddomain.LoadStatusDelivered {
		docs, err := s.loads.ListDocuments(ctx, companyID, loadID)
		if err != nil {
			return report, err
		}
		if !hasPOD(docs) {
			report.Gaps = append(report.Gaps, "delivered load has no proof of delivery")
		}
	}

	threshold := decimal.NewFromFloat(s.dispatch.Get().FuelGapMilesThreshold)
	if load.TotalMiles.GreaterThan(threshold) {
		expenses, err := s.loads.ListExpenses(ctx, companyID, loadID)
		if err != nil {
			return report, err
		}
		fuel := 0
		for _, e := range expenses {
			if e.ExpenseType == loaddomain.ExpenseTypeFuel {
				fuel++
			}
		}
		if fuel == 0 {
			report.Gaps = append(report.Gaps,
				fmt.Sprintf("%s miles driven with no fuel expense recorded", load.TotalMiles.StringFixed(0)))
		}
	}

	if load.ReadyForSettlement && !load.Revenue.IsPositive() {
		report.Gaps = append(report.Gaps, "settlement-ready load has non-positive revenue")
	}
	return report, nil
}
