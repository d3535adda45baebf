// Package scheduler drives the recurring back-office jobs: outbox
// dispatch, pending and failed accounting syncs, the expense gap sweep,
// and the weekly settlement batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountingdomain "github.com/adrijusxx/linehaul/internal/accounting/domain"
	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/auditctx"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/config"
	eventssvc "github.com/adrijusxx/linehaul/internal/events/service"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	notifdomain "github.com/adrijusxx/linehaul/internal/notification/domain"
	obsmetrics "github.com/adrijusxx/linehaul/internal/observability/metrics"
	readinessdomain "github.com/adrijusxx/linehaul/internal/readiness/domain"
	settlementdomain "github.com/adrijusxx/linehaul/internal/settlement/domain"
)

const weeklySettlementLockKey = "linehaul:scheduler:weekly_settlements"

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	Dispatcher    *eventssvc.Dispatcher
	SettlementSvc settlementdomain.Service
	AccountingSvc accountingdomain.Service
	ReadinessSvc  readinessdomain.Service
	Loads         loaddomain.Repository
	Notifier      notifdomain.Notifier
	Dispatch      *config.DispatchConfigHolder
	Locker        *Locker `optional:"true"`
	Config        Config  `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	genID         *snowflake.Node
	dispatcher    *eventssvc.Dispatcher
	settlementSvc settlementdomain.Service
	accountingSvc accountingdomain.Service
	readinessSvc  readinessdomain.Service
	loads         loaddomain.Repository
	notifier      notifdomain.Notifier
	dispatch      *config.DispatchConfigHolder
	locker        *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Dispatcher == nil ||
		p.SettlementSvc == nil || p.AccountingSvc == nil || p.ReadinessSvc == nil ||
		p.Loads == nil || p.Notifier == nil || p.Dispatch == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		genID:         p.GenID,
		dispatcher:    p.Dispatcher,
		settlementSvc: p.SettlementSvc,
		accountingSvc: p.AccountingSvc,
		readinessSvc:  p.ReadinessSvc,
		loads:         p.Loads,
		notifier:      p.Notifier,
		dispatch:      p.Dispatch,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditctx.WithActor(ctx, activitydomain.ActorTypeSystem, "scheduler")

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// A deadline here means the batch did not finish, not that work was
	// lost; the next tick picks up where this one stopped.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err))
		return nil
	}

	schedMetrics.IncJobError(name, err)
	s.log.Error("job failed", zap.String("job", name), zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"dispatch_events", s.isJobEnabled("dispatch_events"), func(ctx context.Context) error {
			return s.runJob(ctx, "dispatch_events", 30*time.Second, s.DispatchEventsJob)
		}},
		{"sync_pending", s.isJobEnabled("sync_pending"), func(ctx context.Context) error {
			return s.runJob(ctx, "sync_pending", 2*time.Minute, s.SyncPendingJob)
		}},
		{"retry_failed_syncs", s.isJobEnabled("retry_failed_syncs"), func(ctx context.Context) error {
			return s.runJob(ctx, "retry_failed_syncs", 5*time.Minute, s.RetryFailedSyncsJob)
		}},
		{"expense_gap_sweep", s.isJobEnabled("expense_gap_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "expense_gap_sweep", 30*time.Second, s.ExpenseGapSweepJob)
		}},
		{"weekly_settlements", s.isJobEnabled("weekly_settlements"), func(ctx context.Context) error {
			return s.runJob(ctx, "weekly_settlements", 10*time.Minute, s.WeeklySettlementsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) DispatchEventsJob(ctx context.Context) error {
	_, err := s.dispatcher.DispatchPending(ctx, s.cfg.BatchSize)
	return err
}

// SyncPendingJob picks up loads marked PENDING_SYNC, typically after a
// billing hold was cleared.
func (s *Scheduler) SyncPendingJob(ctx context.Context) error {
	loads, err := s.fetchLoadsPendingSync(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	byCompany := groupByCompany(loads)
	for companyID, ids := range byCompany {
		if _, err := s.accountingSvc.SyncBatchLoads(ctx, companyID, ids); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	obsmetrics.Scheduler().AddBatchProcessed("sync_pending", "loads", len(loads))
	return errs
}

func (s *Scheduler) RetryFailedSyncsJob(ctx context.Context) error {
	companies, err := s.loads.ListActiveCompanies(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, company := range companies {
		summary, err := s.accountingSvc.RetryFailedSyncs(ctx, company.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if summary.Attempted > 0 {
			s.log.Info("retried failed syncs",
				zap.Int64("company_id", int64(company.ID)),
				zap.Int("attempted", summary.Attempted),
				zap.Int("succeeded", summary.Succeeded))
		}
	}
	return errs
}

// ExpenseGapSweepJob runs the advisory anomaly detector over freshly
// delivered loads and tells dispatch about anything odd. Purely
// informational: nothing here blocks billing or pay.
func (s *Scheduler) ExpenseGapSweepJob(ctx context.Context) error {
	loads, err := s.fetchLoadsForGapSweep(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(loads) == 0 {
		obsmetrics.Scheduler().IncBatchDeferred("expense_gap_sweep", obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
		return nil
	}

	var errs error
	for _, wl := range loads {
		report, err := s.readinessSvc.DetectExpenseGaps(ctx, wl.CompanyID, wl.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if len(report.Gaps) == 0 {
			continue
		}
		if err := s.notifier.Notify(ctx, wl.CompanyID, notifdomain.DepartmentDispatch,
			fmt.Sprintf("Data gaps on load %s", wl.ID),
			strings.Join(report.Gaps, "\n"),
			map[string]any{"load_id": wl.ID.String(), "gaps": report.Gaps},
		); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	obsmetrics.Scheduler().AddBatchProcessed("expense_gap_sweep", "loads", len(loads))
	return errs
}

// WeeklySettlementsJob runs the batch on the settlement anchor day. The
// redis lock keeps concurrent scheduler processes from running the batch
// simultaneously; re-runs on the same day are no-ops thanks to the
// per-(driver, period) existence check.
func (s *Scheduler) WeeklySettlementsJob(ctx context.Context) error {
	now := s.clock.Now()
	anchor := time.Weekday(s.dispatch.Get().SettlementWeekday % 7)
	if now.Weekday() != anchor {
		return nil
	}

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, weeklySettlementLockKey, s.cfg.SettlementLockTTL)
		if err != nil {
			return fmt.Errorf("settlement lock: %w", err)
		}
		if !ok {
			obsmetrics.Scheduler().IncSettlementSkip("lock_held")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), weeklySettlementLockKey, token); err != nil {
				s.log.Warn("settlement lock release failed", zap.Error(err))
			}
		}()
	}

	summary, err := s.settlementSvc.GenerateWeeklySettlements(ctx)
	if err != nil {
		return err
	}
	if summary.Created > 0 || len(summary.Failures) > 0 {
		s.log.Info("weekly settlement batch finished",
			zap.Time("period_start", summary.PeriodStart),
			zap.Time("period_end", summary.PeriodEnd),
			zap.Int("created", summary.Created),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failures", len(summary.Failures)))
	}
	for _, f := range summary.Failures {
		obsmetrics.Scheduler().IncSettlementSkip("driver_error")
		s.log.Warn("settlement failure",
			zap.Int64("driver_id", int64(f.DriverID)),
			zap.String("message", f.Message))
	}
	return nil
}

func groupByCompany(loads []WorkLoad) map[snowflake.ID][]snowflake.ID {
	out := make(map[snowflake.ID][]snowflake.ID)
	for _, l := range loads {
		out[l.CompanyID] = append(out[l.CompanyID], l.ID)
	}
	return out
}
