// Package service implements the load completion orchestrator.
package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountingdomain "github.com/adrijusxx/linehaul/internal/accounting/domain"
	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	billingholddomain "github.com/adrijusxx/linehaul/internal/billinghold/domain"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/completion/domain"
	invoicedomain "github.com/adrijusxx/linehaul/internal/invoice/domain"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	notifdomain "github.com/adrijusxx/linehaul/internal/notification/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
	paycalcdomain "github.com/adrijusxx/linehaul/internal/paycalc/domain"
	readinessdomain "github.com/adrijusxx/linehaul/internal/readiness/domain"
	rollupdomain "github.com/adrijusxx/linehaul/internal/rollup/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Loads       loaddomain.Repository
	BillingHold billingholddomain.Service
	Readiness   readinessdomain.Service
	Accounting  accountingdomain.Service
	Invoices    invoicedomain.Service
	Rollups     rollupdomain.Service
	Mileage     paycalcdomain.MileageTaxCalculator
	Activity    activitydomain.Service
	Notifier    notifdomain.Notifier
	Metrics     *metrics.Metrics
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	loads       loaddomain.Repository
	billingHold billingholddomain.Service
	readiness   readinessdomain.Service
	accounting  accountingdomain.Service
	invoices    invoicedomain.Service
	rollups     rollupdomain.Service
	mileage     paycalcdomain.MileageTaxCalculator
	activity    activitydomain.Service
	notifier    notifdomain.Notifier
	metrics     *metrics.Metrics
}

func Provide(p Params) domain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("completion"),
		clock:       p.Clock,
		loads:       p.Loads,
		billingHold: p.BillingHold,
		readiness:   p.Readiness,
		accounting:  p.Accounting,
		invoices:    p.Invoices,
		rollups:     p.Rollups,
		mileage:     p.Mileage,
		activity:    p.Activity,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

// CompleteLoad runs the post-delivery sequence. Stages fail independently:
// a failure is recorded and the next stage still runs, because a missing
// document must not delay the driver's pay and a ledger outage must not
// block profitability bookkeeping.
func (s *service) CompleteLoad(ctx context.Context, companyID, loadID snowflake.ID) (domain.Result, error) {
	result := domain.Result{LoadID: loadID}

	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return result, err
	}
	if load == nil {
		return result, domain.ErrLoadNotFound
	}
	switch load.Status {
	case loaddomain.LoadStatusDelivered, loaddomain.LoadStatusReadyToBill,
		loaddomain.LoadStatusInvoiced, loaddomain.LoadStatusPaid:
	default:
		return result, fmt.Errorf("%w: status %s", domain.ErrNotDelivered, load.Status)
	}

	fail := func(stage string, err error) {
		s.log.Warn("completion stage failed",
			zap.Int64("load_id", int64(loadID)),
			zap.String("stage", stage),
			zap.Error(err))
		result.Errors = append(result.Errors, domain.StageError{Stage: stage, Message: err.Error()})
	}

	// (a) settlement readiness
	if load.DriverID != nil && !load.ReadyForSettlement {
		if err := s.loads.MarkReadyForSettlement(ctx, companyID, loadID); err != nil {
			fail("settlement_readiness", err)
		} else {
			load.ReadyForSettlement = true
		}
	}

	// (b) data completeness; gaps flag the load for review but do not halt
	if err := s.checkCompleteness(ctx, companyID, load); err != nil {
		fail("data_completeness", err)
	}

	// (c) profitability
	if err := s.computeProfitability(ctx, companyID, load); err != nil {
		fail("profitability", err)
	}

	// (d) accounting sync
	if res, err := s.accounting.SyncLoadToAccounting(ctx, companyID, loadID); err != nil {
		fail("accounting_sync", err)
	} else if !res.Success {
		fail("accounting_sync", fmt.Errorf("sync rejected: %v", res.Errors))
	}

	// (e) auto-invoice when both gates pass; an ineligible load is not an
	// error, billing simply waits for the operator
	if err := s.tryAutoInvoice(ctx, companyID, load); err != nil {
		fail("auto_invoice", err)
	}

	// (f) rollup counters
	if _, err := s.rollups.ApplyLoadMetrics(ctx, companyID, loadID); err != nil {
		fail("rollup_metrics", err)
	}

	// (g) activity and notifications
	s.recordCompletion(ctx, companyID, load, result.Errors)

	result.Success = len(result.Errors) == 0
	outcome := "success"
	if !result.Success {
		outcome = "partial"
	}
	s.metrics.IncLoadCompleted(ctx, outcome)
	return result, nil
}

func (s *service) checkCompleteness(ctx context.Context, companyID snowflake.ID, load *loaddomain.Load) error {
	docs, err := s.loads.ListDocuments(ctx, companyID, load.ID)
	if err != nil {
		return err
	}
	var missing []string
	hasPOD := false
	for _, d := range docs {
		if d.DocumentType == loaddomain.DocumentTypePOD && d.FileRef != "" {
			hasPOD = true
		}
	}
	if !hasPOD {
		missing = append(missing, "proof of delivery")
	}
	if !load.Weight.IsPositive() {
		missing = append(missing, "bill of lading weight")
	}
	if len(missing) == 0 {
		return nil
	}

	if load.AccountingSyncStatus != loaddomain.SyncStatusSynced {
		if err := s.loads.SetAccountingSyncStatus(ctx, companyID, load.ID, loaddomain.SyncStatusRequiresReview, nil); err != nil {
			return err
		}
		load.AccountingSyncStatus = loaddomain.SyncStatusRequiresReview
	}
	return fmt.Errorf("incomplete data: %v", missing)
}

// computeProfitability stores the load's margin and jurisdiction mileage in
// its metadata. Approved expenses count against the margin.
func (s *service) computeProfitability(ctx context.Context, companyID snowflake.ID, load *loaddomain.Load) error {
	expenses, err := s.loads.ListExpenses(ctx, companyID, load.ID)
	if err != nil {
		return err
	}
	expenseTotal := decimal.Zero
	for _, e := range expenses {
		if e.ApprovalStatus == loaddomain.ApprovalStatusApproved {
			expenseTotal = expenseTotal.Add(e.Amount)
		}
	}
	profit := load.Revenue.Sub(load.DriverPay).Sub(expenseTotal)

	apportioned, err := s.mileage.Apportion(ctx, *load)
	if err != nil {
		return fmt.Errorf("mileage apportionment: %w", err)
	}
	jurisdictions := make([]map[string]any, 0, len(apportioned))
	for _, j := range apportioned {
		jurisdictions = append(jurisdictions, map[string]any{
			"jurisdiction": j.Jurisdiction,
			"miles":        j.Miles.StringFixed(1),
		})
	}

	if load.Metadata == nil {
		load.Metadata = map[string]any{}
	}
	load.Metadata["profit"] = profit.StringFixed(2)
	load.Metadata["expense_total"] = expenseTotal.StringFixed(2)
	load.Metadata["jurisdiction_miles"] = jurisdictions
	load.UpdatedAt = s.clock.Now()

	return s.db.WithContext(ctx).Exec(
		`UPDATE loads SET metadata = ?, updated_at = ? WHERE id = ? AND company_id = ?`,
		load.Metadata, load.UpdatedAt, load.ID, companyID,
	).Error
}

func (s *service) tryAutoInvoice(ctx context.Context, companyID snowflake.ID, load *loaddomain.Load) error {
	if load.Status == loaddomain.LoadStatusInvoiced || load.Status == loaddomain.LoadStatusPaid {
		return nil
	}

	eligibility, err := s.billingHold.CheckInvoicingEligibility(ctx, companyID, load.ID)
	if err != nil {
		return err
	}
	if !eligibility.Eligible {
		s.log.Info("auto-invoice skipped",
			zap.Int64("load_id", int64(load.ID)),
			zap.String("reason", eligibility.Reason))
		return nil
	}

	ready, err := s.readiness.IsReadyToBill(ctx, companyID, load.ID, readinessdomain.Options{})
	if err != nil {
		return err
	}
	if !ready.Ready {
		s.log.Info("auto-invoice skipped",
			zap.Int64("load_id", int64(load.ID)),
			zap.Strings("reasons", ready.Reasons))
		return nil
	}

	_, err = s.invoices.GenerateInvoice(ctx, companyID, []snowflake.ID{load.ID}, invoicedomain.GenerateOptions{})
	return err
}

func (s *service) recordCompletion(ctx context.Context, companyID snowflake.ID, load *loaddomain.Load, stageErrors []domain.StageError) {
	meta := map[string]any{"load_number": load.LoadNumber}
	if len(stageErrors) > 0 {
		errs := make([]map[string]any, 0, len(stageErrors))
		for _, e := range stageErrors {
			errs = append(errs, map[string]any{"stage": e.Stage, "message": e.Message})
		}
		meta["stage_errors"] = errs
	}
	entityID := load.ID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil,
		"load.completed", "load", &entityID, meta); err != nil {
		s.log.Warn("activity record failed", zap.Error(err))
	}

	if len(stageErrors) > 0 {
		body := fmt.Sprintf("Load %s finished its completion pass with %d issue(s) needing review.", load.LoadNumber, len(stageErrors))
		if err := s.notifier.Notify(ctx, companyID, notifdomain.DepartmentAccounting,
			fmt.Sprintf("Load %s completed with issues", load.LoadNumber), body, meta); err != nil {
			s.log.Warn("accounting notification failed", zap.Error(err))
		}
	}
}
