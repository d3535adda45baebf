// Package service implements the accounting sync coordinator.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adrijusxx/linehaul/internal/accounting/domain"
	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/config"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	ledgerdomain "github.com/adrijusxx/linehaul/internal/ledger/domain"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
	"github.com/adrijusxx/linehaul/pkg/retry"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Loads    loaddomain.Repository
	Ledger   ledgerdomain.Client
	Events   eventsdomain.Enqueuer
	Activity activitydomain.Service
	Dispatch *config.DispatchConfigHolder
	Metrics  *metrics.Metrics
}

type service struct {
	log      *zap.Logger
	loads    loaddomain.Repository
	ledger   ledgerdomain.Client
	events   eventsdomain.Enqueuer
	activity activitydomain.Service
	dispatch *config.DispatchConfigHolder
	metrics  *metrics.Metrics
}

func Provide(p Params) domain.Service {
	return &service{
		log:      p.Log.Named("accounting"),
		loads:    p.Loads,
		ledger:   p.Ledger,
		events:   p.Events,
		activity: p.Activity,
		dispatch: p.Dispatch,
		metrics:  p.Metrics,
	}
}

func (s *service) SyncLoadToAccounting(ctx context.Context, companyID, loadID snowflake.ID) (domain.SyncResult, error) {
	result := domain.SyncResult{LoadID: loadID}

	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return result, err
	}
	if load == nil {
		result.Errors = append(result.Errors, "load not found")
		return result, nil
	}

	// Validation failures are caller errors, not transport ones. They are
	// reported without retrying.
	if errs, err := s.validate(ctx, companyID, load); err != nil {
		return result, err
	} else if len(errs) > 0 {
		result.Errors = errs
		s.metrics.IncAccountingSync(ctx, "validation_failed")
		return result, nil
	}

	entry := ledgerdomain.LoadEntry{
		ExternalID: load.ID.String(),
		LoadNumber: load.LoadNumber,
		Revenue:    load.Revenue,
		DriverPay:  load.DriverPay,
		Miles:      load.TotalMiles,
	}

	cfg := retry.Config{
		MaxAttempts: s.dispatch.Get().SyncMaxAttempts,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  2 * time.Second,
	}
	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		return s.ledger.PostLoadEntry(ctx, entry)
	})
	if err != nil {
		msg := err.Error()
		if uerr := s.loads.SetAccountingSyncStatus(ctx, companyID, loadID, loaddomain.SyncStatusSyncFailed, &msg); uerr != nil {
			s.log.Error("mark sync failed", zap.Int64("load_id", int64(loadID)), zap.Error(uerr))
		}
		s.recordActivity(ctx, companyID, "accounting_sync.failed", load, map[string]any{"error": msg})
		s.metrics.IncAccountingSync(ctx, "failed")
		// Each failed attempt is a separate fact, so no dedupe key.
		if eerr := s.events.Enqueue(ctx, companyID, eventsdomain.EventAccountingSyncFailed, map[string]any{
			"load_id":     loadID.String(),
			"load_number": load.LoadNumber,
			"error":       msg,
		}, nil); eerr != nil {
			s.log.Warn("enqueue sync failure event", zap.Int64("load_id", int64(loadID)), zap.Error(eerr))
		}
		result.Errors = append(result.Errors, msg)
		return result, nil
	}

	if err := s.loads.SetAccountingSyncStatus(ctx, companyID, loadID, loaddomain.SyncStatusSynced, nil); err != nil {
		return result, err
	}
	s.recordActivity(ctx, companyID, "accounting_sync.succeeded", load, nil)
	s.metrics.IncAccountingSync(ctx, "synced")
	result.Success = true
	return result, nil
}

func (s *service) validate(ctx context.Context, companyID snowflake.ID, load *loaddomain.Load) ([]string, error) {
	var errs []string

	if !load.Revenue.IsPositive() {
		errs = append(errs, "revenue must be positive")
	}
	switch load.Status {
	case loaddomain.LoadStatusDelivered, loaddomain.LoadStatusReadyToBill,
		loaddomain.LoadStatusInvoiced, loaddomain.LoadStatusPaid:
	default:
		errs = append(errs, fmt.Sprintf("status %s is not syncable", load.Status))
	}
	if load.DeliveredAt == nil {
		errs = append(errs, "delivered date is not set")
	}
	if load.DriverID != nil && load.DriverPay.IsZero() {
		errs = append(errs, "driver assigned but driver pay is not set")
	}

	expenses, err := s.loads.ListExpenses(ctx, companyID, load.ID)
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, e := range expenses {
		if e.ApprovalStatus == loaddomain.ApprovalStatusPending {
			pending++
		}
	}
	if pending > 0 {
		errs = append(errs, fmt.Sprintf("%d expense(s) awaiting approval", pending))
	}
	return errs, nil
}

// SyncBatchLoads processes sequentially with a small delay between items.
// The ledger rate-limits aggressively; the throttle keeps bulk syncs from
// tripping it.
func (s *service) SyncBatchLoads(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID) ([]domain.SyncResult, error) {
	delay := time.Duration(s.dispatch.Get().SyncBatchDelayMillis) * time.Millisecond

	out := make([]domain.SyncResult, 0, len(loadIDs))
	for i, id := range loadIDs {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(delay):
			}
		}
		r, err := s.SyncLoadToAccounting(ctx, companyID, id)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *service) RetryFailedSyncs(ctx context.Context, companyID snowflake.ID) (domain.RetrySummary, error) {
	loads, err := s.loads.ListLoadsWithFailedSync(ctx, companyID, 100)
	if err != nil {
		return domain.RetrySummary{}, err
	}
	ids := make([]snowflake.ID, 0, len(loads))
	for _, l := range loads {
		ids = append(ids, l.ID)
	}

	results, err := s.SyncBatchLoads(ctx, companyID, ids)
	summary := domain.RetrySummary{Attempted: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		}
	}
	return summary, err
}

func (s *service) GetSyncStatistics(ctx context.Context, companyID snowflake.ID) (domain.Stats, error) {
	counts, err := s.loads.CountLoadsBySyncStatus(ctx, companyID)
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{
		Synced:         counts[loaddomain.SyncStatusSynced],
		Pending:        counts[loaddomain.SyncStatusPendingSync],
		Failed:         counts[loaddomain.SyncStatusSyncFailed],
		RequiresReview: counts[loaddomain.SyncStatusRequiresReview],
		NotSynced:      counts[loaddomain.SyncStatusNotSynced],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

func (s *service) recordActivity(ctx context.Context, companyID snowflake.ID, action string, load *loaddomain.Load, meta map[string]any) {
	entityID := load.ID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil, action, "load", &entityID, meta); err != nil {
		s.log.Warn("activity record failed", zap.String("action", action), zap.Error(err))
	}
}
