// Package service implements load lifecycle operations.
package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/clock"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	"github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Events   eventsdomain.Enqueuer
	Activity activitydomain.Service
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	events   eventsdomain.Enqueuer
	activity activitydomain.Service
}

func Provide(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("load"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		events:   p.Events,
		activity: p.Activity,
	}
}

func (s *service) CreateLoad(ctx context.Context, companyID snowflake.ID, in domain.CreateLoadInput) (*domain.Load, error) {
	customer, err := s.repo.FindCustomerByID(ctx, companyID, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: customer %s", domain.ErrNotFound, in.CustomerID)
	}
	if in.DriverID != nil {
		driver, err := s.repo.FindDriverByID(ctx, companyID, *in.DriverID)
		if err != nil {
			return nil, err
		}
		if driver == nil {
			return nil, fmt.Errorf("%w: driver %s", domain.ErrNotFound, *in.DriverID)
		}
	}

	now := s.clock.Now()
	load := &domain.Load{
		ID:         s.genID.Generate(),
		CompanyID:  companyID,
		CustomerID: in.CustomerID,
		DriverID:   in.DriverID,
		TruckID:    in.TruckID,
		LoadNumber: in.LoadNumber,
		Status:     domain.LoadStatusBooked,

		AccountingSyncStatus: domain.SyncStatusNotSynced,

		Revenue:    in.Revenue,
		DriverPay:  in.DriverPay,
		TotalMiles: in.TotalMiles,
		Weight:     in.Weight,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateLoad(ctx, load); err != nil {
		return nil, err
	}

	entityID := load.ID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil,
		"load.created", "load", &entityID, map[string]any{"load_number": load.LoadNumber}); err != nil {
		s.log.Warn("activity record failed", zap.Error(err))
	}
	return load, nil
}

func (s *service) MarkDelivered(ctx context.Context, companyID, loadID snowflake.ID) (*domain.Load, error) {
	load, err := s.repo.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return nil, err
	}
	if load == nil {
		return nil, domain.ErrNotFound
	}

	switch load.Status {
	case domain.LoadStatusDelivered, domain.LoadStatusReadyToBill,
		domain.LoadStatusInvoiced, domain.LoadStatusPaid:
		// Re-delivering a delivered load is a no-op, not an error.
		return load, nil
	case domain.LoadStatusBooked, domain.LoadStatusDispatched, domain.LoadStatusInTransit:
	default:
		return nil, fmt.Errorf("%w: cannot deliver from %s", domain.ErrStaleStatus, load.Status)
	}

	now := s.clock.Now()
	from := load.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// delivered_at is set once; a lost race on status means another
		// writer delivered it first, which is fine.
		res := tx.Exec(
			`UPDATE loads SET status = ?, delivered_at = COALESCE(delivered_at, ?), updated_at = ?
			 WHERE id = ? AND company_id = ? AND status = ?`,
			domain.LoadStatusDelivered, now, now, loadID, companyID, from,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		dedupe := fmt.Sprintf("%s:%s", eventsdomain.EventLoadDelivered, loadID)
		return s.events.EnqueueTx(tx, companyID, eventsdomain.EventLoadDelivered, map[string]any{
			"load_id":     loadID.String(),
			"load_number": load.LoadNumber,
		}, &dedupe)
	})
	if err != nil {
		return nil, err
	}

	metrics.Scheduler().IncLoadTransition(string(from), string(domain.LoadStatusDelivered))
	entityID := loadID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil,
		"load.delivered", "load", &entityID, map[string]any{"from": string(from)}); err != nil {
		s.log.Warn("activity record failed", zap.Error(err))
	}
	return s.repo.FindLoadByID(ctx, companyID, loadID)
}

func (s *service) AddDocument(ctx context.Context, companyID, loadID snowflake.ID, docType domain.DocumentType, fileRef string) (*domain.LoadDocument, error) {
	load, err := s.repo.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return nil, err
	}
	if load == nil {
		return nil, domain.ErrNotFound
	}

	doc := domain.LoadDocument{
		ID:           s.genID.Generate(),
		CompanyID:    companyID,
		LoadID:       loadID,
		DocumentType: docType,
		FileRef:      fileRef,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *service) AddExpense(ctx context.Context, companyID, loadID snowflake.ID, expenseType domain.ExpenseType, amount decimal.Decimal) (*domain.LoadExpense, error) {
	load, err := s.repo.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return nil, err
	}
	if load == nil {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	expense := domain.LoadExpense{
		ID:             s.genID.Generate(),
		CompanyID:      companyID,
		LoadID:         loadID,
		ExpenseType:    expenseType,
		Amount:         amount,
		ApprovalStatus: domain.ApprovalStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *service) ApproveExpense(ctx context.Context, companyID, expenseID snowflake.ID) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE load_expenses SET approval_status = ?, updated_at = ?
		 WHERE id = ? AND company_id = ? AND approval_status = ?`,
		domain.ApprovalStatusApproved, s.clock.Now(), expenseID, companyID, domain.ApprovalStatusPending,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
