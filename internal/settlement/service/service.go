// Package service implements weekly and on-demand settlement generation.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/config"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	notifdomain "github.com/adrijusxx/linehaul/internal/notification/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
	paycalcdomain "github.com/adrijusxx/linehaul/internal/paycalc/domain"
	"github.com/adrijusxx/linehaul/internal/settlement/domain"
	"github.com/adrijusxx/linehaul/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Loads    loaddomain.Repository
	Engine   paycalcdomain.Engine
	Events   eventsdomain.Enqueuer
	Activity activitydomain.Service
	Sender   notifdomain.Sender
	Dispatch *config.DispatchConfigHolder
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	loads    loaddomain.Repository
	engine   paycalcdomain.Engine
	events   eventsdomain.Enqueuer
	activity activitydomain.Service
	sender   notifdomain.Sender
	dispatch *config.DispatchConfigHolder
	metrics  *metrics.Metrics
}

func Provide(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("settlement"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		loads:    p.Loads,
		engine:   p.Engine,
		events:   p.Events,
		activity: p.Activity,
		sender:   p.Sender,
		dispatch: p.Dispatch,
		metrics:  p.Metrics,
	}
}

// GenerateWeeklySettlements walks every active company's available drivers
// for the prior weekly period. The per-(driver, period) existence check is
// the sole idempotency mechanism: overlapping runs converge on one
// settlement per driver because the second writer either sees the row or
// loses the unique index race. One driver's failure never aborts the rest.
func (s *service) GenerateWeeklySettlements(ctx context.Context) (domain.BatchSummary, error) {
	now := s.clock.Now()
	periodStart, periodEnd := domain.PriorWeekPeriod(now, s.dispatch.Get().SettlementWeekday)

	summary := domain.BatchSummary{PeriodStart: periodStart, PeriodEnd: periodEnd}

	companies, err := s.loads.ListActiveCompanies(ctx)
	if err != nil {
		return summary, err
	}
	summary.Companies = len(companies)

	for _, company := range companies {
		drivers, err := s.loads.ListActiveDrivers(ctx, company.ID)
		if err != nil {
			s.log.Error("list drivers failed",
				zap.Int64("company_id", int64(company.ID)), zap.Error(err))
			continue
		}
		for _, driver := range drivers {
			created, err := s.generateForDriver(ctx, company.ID, driver, periodStart, periodEnd)
			if err != nil {
				s.log.Warn("driver settlement failed",
					zap.Int64("company_id", int64(company.ID)),
					zap.Int64("driver_id", int64(driver.ID)),
					zap.Error(err))
				summary.Failures = append(summary.Failures, domain.DriverFailure{
					DriverID: driver.ID,
					Message:  err.Error(),
				})
				continue
			}
			if created {
				summary.Created++
				s.metrics.IncSettlementGenerated(ctx, "scheduled")
			} else {
				summary.Skipped++
			}
		}
	}
	return summary, nil
}

// generateForDriver returns (false, nil) when no settlement was created:
// either no settleable loads exist, or one already covers the period. An
// existing settlement with new settleable loads is recalculated in place.
func (s *service) generateForDriver(ctx context.Context, companyID snowflake.ID, driver loaddomain.Driver, periodStart, periodEnd time.Time) (bool, error) {
	loads, err := s.loads.ListSettleableLoads(ctx, companyID, driver.ID, periodStart, periodEnd)
	if err != nil {
		return false, err
	}
	if len(loads) == 0 {
		return false, nil
	}

	existing, err := s.repo.FindByDriverPeriod(ctx, companyID, driver.ID, periodStart, periodEnd)
	if err != nil {
		return false, err
	}
	if existing != nil {
		// The loads here are settleable and unattached, so they became
		// ready after the settlement was cut. No future period covers
		// their delivery date; fold them in as a revision instead.
		_, err := s.RecalculateSettlement(ctx, companyID, existing.ID, "late settlement-ready loads")
		return false, err
	}

	_, err = s.createSettlement(ctx, companyID, driver, loads, periodStart, periodEnd)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) GenerateSettlement(ctx context.Context, companyID, driverID snowflake.ID, periodStart, periodEnd time.Time) (*domain.Settlement, error) {
	driver, err := s.loads.FindDriverByID(ctx, companyID, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, domain.ErrDriverNotFound
	}

	// The caller asked explicitly, so an existing settlement is
	// recalculated rather than skipped.
	existing, err := s.repo.FindByDriverPeriod(ctx, companyID, driverID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	var result *domain.Settlement
	if existing != nil {
		result, err = s.RecalculateSettlement(ctx, companyID, existing.ID, "on-demand regeneration")
	} else {
		loads, lerr := s.loads.ListSettleableLoads(ctx, companyID, driverID, periodStart, periodEnd)
		if lerr != nil {
			return nil, lerr
		}
		if len(loads) == 0 {
			return nil, domain.ErrNoLoads
		}
		result, err = s.createSettlement(ctx, companyID, *driver, loads, periodStart, periodEnd)
		if err == nil {
			s.metrics.IncSettlementGenerated(ctx, "manual")
		}
	}
	if err != nil {
		return nil, err
	}

	if driver.Email != "" {
		body := fmt.Sprintf("Your settlement %s for %s through %s is ready. Gross $%s, net $%s.",
			result.SettlementNumber,
			periodStart.Format("Jan 2"), periodEnd.AddDate(0, 0, -1).Format("Jan 2, 2006"),
			result.GrossPay.StringFixed(2), result.NetPay.StringFixed(2))
		if err := s.sender.Send(ctx, []string{driver.Email}, "Settlement statement ready", body); err != nil {
			s.log.Warn("driver notification failed",
				zap.Int64("driver_id", int64(driverID)), zap.Error(err))
		}
	}
	return result, nil
}

func (s *service) createSettlement(ctx context.Context, companyID snowflake.ID, driver loaddomain.Driver, loads []loaddomain.Load, periodStart, periodEnd time.Time) (*domain.Settlement, error) {
	now := s.clock.Now()

	adjustments, err := s.repo.ListUnattachedAdjustments(ctx, companyID, driver.ID, periodEnd)
	if err != nil {
		return nil, err
	}

	calc, err := s.engine.Calculate(ctx, paycalcdomain.Input{
		CompanyID:   companyID,
		Driver:      driver,
		Loads:       loads,
		Adjustments: toEngineAdjustments(adjustments),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Now:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("pay calculation: %w", err)
	}

	logJSON, err := json.Marshal(calc.Log)
	if err != nil {
		return nil, err
	}

	settlement := &domain.Settlement{
		ID:                 s.genID.Generate(),
		CompanyID:          companyID,
		DriverID:           driver.ID,
		SettlementNumber:   fmt.Sprintf("SET-%s", s.genID.Generate()),
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
		Status:             domain.SettlementStatusDraft,
		GrossPay:           calc.Gross,
		NetPay:             calc.Net,
		TotalDeductions:    calc.TotalDeductions,
		CalculationLog:     datatypes.JSON(logJSON),
		CalculationHistory: datatypes.JSON([]byte("[]")),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	loadIDs := make([]snowflake.ID, 0, len(loads))
	for _, l := range loads {
		loadIDs = append(loadIDs, l.ID)
	}
	adjIDs := make([]snowflake.ID, 0, len(adjustments))
	for _, a := range adjustments {
		adjIDs = append(adjIDs, a.ID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(tx, settlement); err != nil {
			return err
		}
		if err := s.loads.AttachLoadsToSettlement(tx, companyID, settlement.ID, loadIDs); err != nil {
			return err
		}
		if err := s.repo.AttachAdjustments(tx, companyID, settlement.ID, adjIDs); err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%s", eventsdomain.EventSettlementGenerated, settlement.ID)
		return s.events.EnqueueTx(tx, companyID, eventsdomain.EventSettlementGenerated, map[string]any{
			"settlement_id": settlement.ID.String(),
			"driver_id":     driver.ID.String(),
			"net_pay":       settlement.NetPay.StringFixed(2),
		}, &dedupe)
	})
	if err != nil {
		return nil, err
	}

	entityID := settlement.ID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil,
		"settlement.generated", "settlement", &entityID, map[string]any{
			"driver_id":  driver.ID.String(),
			"load_count": len(loads),
			"gross":      settlement.GrossPay.StringFixed(2),
			"net":        settlement.NetPay.StringFixed(2),
		}); err != nil {
		s.log.Warn("activity record failed", zap.Error(err))
	}
	return settlement, nil
}

// RecalculateSettlement attaches any loads that became settlement-ready for
// the period since the last calculation, then recomputes pay from the
// attached loads and adjustments. The superseded figures are appended to
// the history list with the reason; nothing is overwritten.
func (s *service) RecalculateSettlement(ctx context.Context, companyID, settlementID snowflake.ID, reason string) (*domain.Settlement, error) {
	settlement, err := s.repo.FindByID(ctx, companyID, settlementID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, domain.ErrNotFound
	}

	driver, err := s.loads.FindDriverByID(ctx, companyID, settlement.DriverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, domain.ErrDriverNotFound
	}

	// Sweep in loads that became settlement-ready after the settlement was
	// first cut. Their period is this one; leaving them unattached would
	// strand them outside every future batch.
	late, err := s.loads.ListSettleableLoads(ctx, companyID, settlement.DriverID, settlement.PeriodStart, settlement.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if len(late) > 0 {
		lateIDs := make([]snowflake.ID, 0, len(late))
		for _, l := range late {
			lateIDs = append(lateIDs, l.ID)
		}
		if err := s.loads.AttachLoadsToSettlement(s.db.WithContext(ctx), companyID, settlementID, lateIDs); err != nil {
			return nil, err
		}
	}

	loads, err := s.loads.ListLoadsBySettlement(ctx, companyID, settlementID)
	if err != nil {
		return nil, err
	}
	adjustments, err := s.repo.ListAdjustmentsBySettlement(ctx, companyID, settlementID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	calc, err := s.engine.Calculate(ctx, paycalcdomain.Input{
		CompanyID:   companyID,
		Driver:      *driver,
		Loads:       loads,
		Adjustments: toEngineAdjustments(adjustments),
		PeriodStart: settlement.PeriodStart,
		PeriodEnd:   settlement.PeriodEnd,
		Now:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("pay recalculation: %w", err)
	}

	var history []domain.Revision
	if len(settlement.CalculationHistory) > 0 {
		if err := json.Unmarshal(settlement.CalculationHistory, &history); err != nil {
			return nil, fmt.Errorf("decode calculation history: %w", err)
		}
	}
	var priorLog paycalcdomain.CalculationLog
	_ = json.Unmarshal(settlement.CalculationLog, &priorLog)

	history = append(history, domain.Revision{
		PreviousGross:      settlement.GrossPay,
		PreviousNet:        settlement.NetPay,
		PreviousDeductions: settlement.TotalDeductions,
		Reason:             reason,
		ReplacedAt:         now,
		CalculatorVersion:  priorLog.CalculatorVersion,
	})

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, err
	}
	logJSON, err := json.Marshal(calc.Log)
	if err != nil {
		return nil, err
	}

	settlement.GrossPay = calc.Gross
	settlement.NetPay = calc.Net
	settlement.TotalDeductions = calc.TotalDeductions
	settlement.CalculationLog = datatypes.JSON(logJSON)
	settlement.CalculationHistory = datatypes.JSON(historyJSON)
	settlement.UpdatedAt = now

	if err := s.repo.UpdateCalculation(ctx, settlement); err != nil {
		return nil, err
	}

	entityID := settlement.ID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil,
		"settlement.recalculated", "settlement", &entityID, map[string]any{
			"reason":   reason,
			"revision": len(history),
			"gross":    settlement.GrossPay.StringFixed(2),
			"net":      settlement.NetPay.StringFixed(2),
		}); err != nil {
		s.log.Warn("activity record failed", zap.Error(err))
	}
	return settlement, nil
}

func (s *service) ListSettlements(ctx context.Context, companyID snowflake.ID, req domain.ListRequest) (domain.ListResponse, error) {
	var cursor *domain.ListCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.ListCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, companyID, req.DriverID, cursor, pageSize+1)
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Settlement) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	settlements := make([]domain.Settlement, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		settlements = append(settlements, *item)
	}
	return domain.ListResponse{PageInfo: *pageInfo, Settlements: settlements}, nil
}

// RevisionDiffs walks the history oldest-first, comparing each revision to
// its successor and the newest revision to the current figures.
func (s *service) RevisionDiffs(settlement *domain.Settlement) ([]domain.RevisionDiff, error) {
	var history []domain.Revision
	if len(settlement.CalculationHistory) > 0 {
		if err := json.Unmarshal(settlement.CalculationHistory, &history); err != nil {
			return nil, fmt.Errorf("decode calculation history: %w", err)
		}
	}
	if len(history) == 0 {
		return nil, nil
	}

	diffs := make([]domain.RevisionDiff, 0, len(history))
	for i, rev := range history {
		nextGross, nextNet, nextDeductions := settlement.GrossPay, settlement.NetPay, settlement.TotalDeductions
		if i+1 < len(history) {
			next := history[i+1]
			nextGross, nextNet, nextDeductions = next.PreviousGross, next.PreviousNet, next.PreviousDeductions
		}
		diffs = append(diffs, domain.RevisionDiff{
			Revision:   i + 1,
			Gross:      domain.Classify(rev.PreviousGross, nextGross),
			Net:        domain.Classify(rev.PreviousNet, nextNet),
			Deductions: domain.Classify(rev.PreviousDeductions, nextDeductions),
		})
	}
	return diffs, nil
}

func toEngineAdjustments(in []domain.DriverAdjustment) []paycalcdomain.Adjustment {
	out := make([]paycalcdomain.Adjustment, 0, len(in))
	for _, a := range in {
		out = append(out, paycalcdomain.Adjustment{
			Kind:        a.Kind,
			Type:        a.Type,
			Description: a.Description,
			SourceRef:   a.SourceRef,
			Amount:      a.Amount,
		})
	}
	return out
}
