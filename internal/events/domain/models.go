// Package domain contains the transactional outbox model for workflow
// events. Events are written in the same transaction as the state change
// they describe and dispatched asynchronously by the scheduler.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event names.
const (
	EventLoadDelivered        = "load.delivered"
	EventBillingHoldApplied   = "load.billing_hold.applied"
	EventBillingHoldCleared   = "load.billing_hold.cleared"
	EventInvoiceGenerated     = "invoice.generated"
	EventInvoiceApproved      = "invoice.approved"
	EventSettlementGenerated  = "settlement.generated"
	EventAccountingSyncFailed = "accounting.sync_failed"
)

// EventStatus is the outbox delivery lifecycle.
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusProcessed  EventStatus = "PROCESSED"
	EventStatusDead       EventStatus = "DEAD"
)

// Event is one outbox row. DedupeKey, when set, is unique so the same
// logical event enqueued twice collapses to one row.
type Event struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	CompanyID     snowflake.ID      `gorm:"not null;index"`
	Name          string            `gorm:"not null;index"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	Status        EventStatus       `gorm:"type:text;not null;default:'PENDING';index"`
	Attempts      int               `gorm:"not null;default:0"`
	NextAttemptAt time.Time         `gorm:"not null;index"`
	LastError     *string           `gorm:"type:text"`
	DedupeKey     *string           `gorm:"uniqueIndex"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Event) TableName() string { return "events" }

// Enqueuer writes events. EnqueueTx participates in the caller's
// transaction so the event commits atomically with the state change.
type Enqueuer interface {
	Enqueue(ctx context.Context, companyID snowflake.ID, name string, payload map[string]any, dedupeKey *string) error
	EnqueueTx(tx *gorm.DB, companyID snowflake.ID, name string, payload map[string]any, dedupeKey *string) error
}

// Handler consumes one event. Returning an error schedules a retry;
// handlers must therefore tolerate redelivery.
type Handler func(ctx context.Context, ev Event) error

// Registry maps event names to handlers.
type Registry interface {
	Register(name string, h Handler)
	Lookup(name string) (Handler, bool)
}
