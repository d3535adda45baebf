// Package domain contains the activity log model.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActivityLog is an append-only record of a state change an operator or the
// system performed against an entity.
type ActivityLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	CompanyID  *snowflake.ID     `gorm:"index"`
	ActorType  string            `gorm:"not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"not null;index"`
	EntityType string            `gorm:"not null"`
	EntityID   *string           `gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ActivityLog) TableName() string { return "activity_logs" }

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Service records activity entries. Recording is best effort; callers must
// not fail their own operation when logging fails.
type Service interface {
	Record(ctx context.Context, companyID *snowflake.ID, actorType string, actorID *string, action, entityType string, entityID *string, metadata map[string]any) error
	ListByEntity(ctx context.Context, companyID snowflake.ID, entityType, entityID string, limit int) ([]ActivityLog, error)
}
