// Package service implements the transactional outbox: enqueue and
// dispatch of workflow events.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/events/domain"
	pkgdb "github.com/adrijusxx/linehaul/pkg/db"
)

type EnqueuerParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type enqueuer struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func ProvideEnqueuer(p EnqueuerParams) domain.Enqueuer {
	return &enqueuer{db: p.DB, log: p.Log.Named("events.enqueue"), genID: p.GenID, clock: p.Clock}
}

func (e *enqueuer) Enqueue(ctx context.Context, companyID snowflake.ID, name string, payload map[string]any, dedupeKey *string) error {
	return e.EnqueueTx(e.db.WithContext(ctx), companyID, name, payload, dedupeKey)
}

// EnqueueTx inserts the event in the caller's transaction. A dedupe-key
// collision means the event already exists, which is exactly the intended
// outcome for an idempotent producer, so it is swallowed.
func (e *enqueuer) EnqueueTx(tx *gorm.DB, companyID snowflake.ID, name string, payload map[string]any, dedupeKey *string) error {
	now := e.clock.Now()
	ev := domain.Event{
		ID:            e.genID.Generate(),
		CompanyID:     companyID,
		Name:          name,
		Payload:       datatypes.JSONMap(payload),
		Status:        domain.EventStatusPending,
		NextAttemptAt: now,
		DedupeKey:     dedupeKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ev.Payload == nil {
		ev.Payload = datatypes.JSONMap{}
	}
	if err := tx.Create(&ev).Error; err != nil {
		if dedupeKey != nil && pkgdb.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}
