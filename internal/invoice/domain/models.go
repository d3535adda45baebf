// Package domain contains invoice models and the invoice generation
// contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("invoice_not_found")
	ErrNoLoads           = errors.New("no_loads")
	ErrMixedCustomers    = errors.New("mixed_customers")
	ErrInvalidTransition = errors.New("invalid_status_transition")
)

// InvoiceStatus is the AR lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "DRAFT"
	InvoiceStatusApproved InvoiceStatus = "APPROVED"
	InvoiceStatusSent     InvoiceStatus = "SENT"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusVoid     InvoiceStatus = "VOID"
)

// LedgerSyncStatus tracks the invoice's copy in the external ledger.
type LedgerSyncStatus string

const (
	LedgerSyncNotSynced  LedgerSyncStatus = "NOT_SYNCED"
	LedgerSyncSynced     LedgerSyncStatus = "SYNCED"
	LedgerSyncSyncFailed LedgerSyncStatus = "SYNC_FAILED"
)

// Invoice bills one customer for one or more loads.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	CompanyID     snowflake.ID  `gorm:"not null;index"`
	CustomerID    snowflake.ID  `gorm:"not null;index"`
	InvoiceNumber string        `gorm:"not null;uniqueIndex"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`

	Subtotal  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TaxAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Total     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Balance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`

	LedgerRef        *string          `gorm:"type:text"`
	LedgerSyncStatus LedgerSyncStatus `gorm:"type:text;not null;default:'NOT_SYNCED'"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Invoice) TableName() string { return "invoices" }

// LoadSnapshot freezes the billable fields of a load at invoicing time so
// silent edits after the fact can be detected.
type LoadSnapshot struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	CompanyID  snowflake.ID    `gorm:"not null;index"`
	InvoiceID  snowflake.ID    `gorm:"not null;index"`
	LoadID     snowflake.ID    `gorm:"not null;index"`
	CustomerID snowflake.ID    `gorm:"not null"`
	Revenue    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Weight     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TotalMiles decimal.Decimal `gorm:"type:numeric(10,1);not null"`
	DriverPay  decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LoadSnapshot) TableName() string { return "load_snapshots" }

// GenerateOptions tunes invoice generation.
type GenerateOptions struct {
	// InvoiceNumber overrides the generated number when set.
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

// RemitTo is the computed payment routing block for a rendered invoice.
// When receivables are factored, payments go to the factor and the notice
// of assignment must appear on the document.
type RemitTo struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	NoticeOfAssignment string `json:"notice_of_assignment,omitempty"`
	Factored           bool   `json:"factored"`
}

type Repository interface {
	Create(tx *gorm.DB, inv *Invoice) error
	FindByID(ctx context.Context, companyID, id snowflake.ID) (*Invoice, error)
	UpdateStatus(ctx context.Context, companyID, id snowflake.ID, from, to InvoiceStatus) (bool, error)
	SetLedgerRef(ctx context.Context, companyID, id snowflake.ID, ref string, status LedgerSyncStatus) error
	SetLedgerSyncStatus(ctx context.Context, companyID, id snowflake.ID, status LedgerSyncStatus) error

	CreateSnapshots(tx *gorm.DB, snaps []LoadSnapshot) error
	FindSnapshotsByInvoice(ctx context.Context, companyID, invoiceID snowflake.ID) ([]LoadSnapshot, error)
	FindSnapshotByLoad(ctx context.Context, companyID, loadID snowflake.ID) (*LoadSnapshot, error)
}

type Service interface {
	GenerateInvoice(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID, opts GenerateOptions) (*Invoice, error)
	ApproveInvoice(ctx context.Context, companyID, invoiceID snowflake.ID) (*Invoice, error)
	FinalizeInvoice(ctx context.Context, companyID, invoiceID snowflake.ID) (*RemitTo, error)
	CheckDataConsistency(ctx context.Context, companyID, loadID snowflake.ID) ([]string, error)
	SyncInvoiceToLedger(ctx context.Context, companyID, invoiceID snowflake.ID) error
}
