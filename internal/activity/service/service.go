// Package service persists activity log entries.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/clock"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func Provide(p Params) domain.Service {
	return &service{db: p.DB, log: p.Log.Named("activity"), genID: p.GenID, clock: p.Clock}
}

func (s *service) Record(ctx context.Context, companyID *snowflake.ID, actorType string, actorID *string, action, entityType string, entityID *string, metadata map[string]any) error {
	entry := domain.ActivityLog{
		ID:         s.genID.Generate(),
		CompanyID:  companyID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  s.clock.Now(),
	}
	if entry.Metadata == nil {
		entry.Metadata = datatypes.JSONMap{}
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.Warn("record activity failed",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *service) ListByEntity(ctx context.Context, companyID snowflake.ID, entityType, entityID string, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.ActivityLog
	err := s.db.WithContext(ctx).
		Raw(`SELECT * FROM activity_logs
		     WHERE company_id = ? AND entity_type = ? AND entity_id = ?
		     ORDER BY created_at DESC, id DESC LIMIT ?`,
			companyID, entityType, entityID, limit).
		Scan(&out).Error
	return out, err
}
