// Package service implements the billing hold gate.
package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/auditctx"
	"github.com/adrijusxx/linehaul/internal/billinghold/domain"
	"github.com/adrijusxx/linehaul/internal/clock"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Loads    loaddomain.Repository
	Events   eventsdomain.Enqueuer
	Activity activitydomain.Service
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	loads    loaddomain.Repository
	events   eventsdomain.Enqueuer
	activity activitydomain.Service
	metrics  *metrics.Metrics
}

func Provide(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("billinghold"),
		genID:    p.GenID,
		clock:    p.Clock,
		loads:    p.Loads,
		events:   p.Events,
		activity: p.Activity,
		metrics:  p.Metrics,
	}
}

func (s *service) Apply(ctx context.Context, companyID, loadID snowflake.ID, reason string) error {
	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return err
	}
	if load == nil {
		return domain.ErrLoadNotFound
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		held, err := s.loads.SetBillingHold(tx, companyID, loadID, reason, s.clock.Now())
		if err != nil {
			return err
		}
		if !held {
			return domain.ErrAlreadyHeld
		}
		// The hold concerns receivables only. The applied event tells AR;
		// dispatch and settlement continue untouched.
		return s.events.EnqueueTx(tx, companyID, eventsdomain.EventBillingHoldApplied, map[string]any{
			"load_id":     loadID.String(),
			"load_number": load.LoadNumber,
			"reason":      reason,
		}, nil)
	})
	if err != nil {
		return err
	}

	s.recordActivity(ctx, companyID, "billing_hold.applied", loadID, map[string]any{
		"reason": reason,
	})
	s.metrics.IncBillingHold(ctx, reason)
	return nil
}

func (s *service) Clear(ctx context.Context, companyID, loadID snowflake.ID, in domain.ClearInput) (*loaddomain.Load, error) {
	var cleared *loaddomain.Load

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		load, err := s.loads.FindLoadByIDForUpdate(tx, companyID, loadID)
		if err != nil {
			return err
		}
		if load == nil {
			return domain.ErrLoadNotFound
		}

		now := s.clock.Now()
		revenue := load.Revenue
		if in.NewTotal != nil {
			revenue = *in.NewTotal
		}

		released, err := s.loads.ClearBillingHold(tx, companyID, loadID, revenue, now)
		if err != nil {
			return err
		}
		if !released {
			return domain.ErrNotOnHold
		}

		// The corrected rate document covers the charges that forced the
		// hold, so their review is complete.
		if err := tx.Exec(
			`UPDATE accessorial_charges SET status = ?, updated_at = ?
			 WHERE company_id = ? AND load_id = ? AND status = ? AND charge_type IN ?`,
			loaddomain.ChargeStatusApproved, now, companyID, loadID,
			loaddomain.ChargeStatusPending,
			[]loaddomain.ChargeType{loaddomain.ChargeTypeLumper, loaddomain.ChargeTypeDetention},
		).Error; err != nil {
			return err
		}

		if in.RateDocumentRef != "" {
			doc := loaddomain.LoadDocument{
				ID:           s.genID.Generate(),
				CompanyID:    companyID,
				LoadID:       loadID,
				DocumentType: loaddomain.DocumentTypeRateCon,
				FileRef:      in.RateDocumentRef,
				CreatedAt:    now,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
		}

		if err := s.events.EnqueueTx(tx, companyID, eventsdomain.EventBillingHoldCleared, map[string]any{
			"load_id":     loadID.String(),
			"load_number": load.LoadNumber,
			"revenue":     revenue.StringFixed(2),
		}, nil); err != nil {
			return err
		}

		load.IsBillingHold = false
		load.BillingHoldReason = nil
		load.Status = loaddomain.LoadStatusReadyToBill
		load.AccountingSyncStatus = loaddomain.SyncStatusPendingSync
		load.Revenue = revenue
		load.UpdatedAt = now
		cleared = load
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"rate_document_ref": in.RateDocumentRef}
	if in.NewTotal != nil {
		meta["new_total"] = in.NewTotal.String()
	}
	s.recordActivity(ctx, companyID, "billing_hold.cleared", loadID, meta)
	return cleared, nil
}

func (s *service) CheckInvoicingEligibility(ctx context.Context, companyID, loadID snowflake.ID) (domain.Eligibility, error) {
	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return domain.Eligibility{}, err
	}
	if load == nil {
		return domain.Eligibility{}, domain.ErrLoadNotFound
	}
	return eligibilityOf(load), nil
}

func (s *service) CheckInvoicingEligibilityBatch(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID) ([]domain.Eligibility, error) {
	loads, err := s.loads.FindLoadsByIDs(ctx, companyID, loadIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*loaddomain.Load, len(loads))
	for i := range loads {
		byID[loads[i].ID] = &loads[i]
	}
	out := make([]domain.Eligibility, 0, len(loadIDs))
	for _, id := range loadIDs {
		load, ok := byID[id]
		if !ok {
			out = append(out, domain.Eligibility{LoadID: id, Eligible: false, Reason: "load not found"})
			continue
		}
		out = append(out, eligibilityOf(load))
	}
	return out, nil
}

// eligibilityOf never consults settlement state. Receivables and driver pay
// are gated independently.
func eligibilityOf(load *loaddomain.Load) domain.Eligibility {
	e := domain.Eligibility{LoadID: load.ID}
	switch {
	case load.IsBillingHold:
		e.Reason = "load is on billing hold"
		if load.BillingHoldReason != nil {
			e.Reason = fmt.Sprintf("load is on billing hold: %s", *load.BillingHoldReason)
		}
	case load.Status != loaddomain.LoadStatusDelivered && load.Status != loaddomain.LoadStatusReadyToBill:
		e.Reason = fmt.Sprintf("load status %s is not billable", load.Status)
	default:
		e.Eligible = true
	}
	return e
}

func (s *service) AddAccessorialCharge(ctx context.Context, companyID, loadID snowflake.ID, chargeType loaddomain.ChargeType, amount decimal.Decimal) (*loaddomain.AccessorialCharge, error) {
	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return nil, err
	}
	if load == nil {
		return nil, domain.ErrLoadNotFound
	}

	now := s.clock.Now()
	charge := loaddomain.AccessorialCharge{
		ID:         s.genID.Generate(),
		CompanyID:  companyID,
		LoadID:     loadID,
		ChargeType: chargeType,
		Amount:     amount,
		Status:     loaddomain.ChargeStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&charge).Error; err != nil {
		return nil, err
	}

	if domain.RequiresBillingHold(chargeType) && !load.IsBillingHold {
		reason := fmt.Sprintf("%s charge of %s pending rate correction", chargeType, amount.StringFixed(2))
		if err := s.Apply(ctx, companyID, loadID, reason); err != nil {
			return nil, fmt.Errorf("apply hold for %s charge: %w", chargeType, err)
		}
	}
	return &charge, nil
}

func (s *service) recordActivity(ctx context.Context, companyID snowflake.ID, action string, loadID snowflake.ID, meta map[string]any) {
	actorType, actorID := auditctx.ActorFromContext(ctx)
	if actorType == "" {
		actorType = activitydomain.ActorTypeSystem
	}
	var actorRef *string
	if actorID != "" {
		actorRef = &actorID
	}
	entityID := loadID.String()
	if err := s.activity.Record(ctx, &companyID, actorType, actorRef, action, "load", &entityID, meta); err != nil {
		s.log.Warn("activity record failed", zap.String("action", action), zap.Error(err))
	}
}
