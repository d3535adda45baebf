// Package domain contains persistence models for loads and their money flows.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LoadStatus represents load lifecycle states.
type LoadStatus string

const (
	LoadStatusBooked      LoadStatus = "BOOKED"
	LoadStatusDispatched  LoadStatus = "DISPATCHED"
	LoadStatusInTransit   LoadStatus = "IN_TRANSIT"
	LoadStatusDelivered   LoadStatus = "DELIVERED"
	LoadStatusReadyToBill LoadStatus = "READY_TO_BILL"
	LoadStatusInvoiced    LoadStatus = "INVOICED"
	LoadStatusPaid        LoadStatus = "PAID"
)

// AccountingSyncStatus tracks the load's journey into the accounting system.
type AccountingSyncStatus string

const (
	SyncStatusNotSynced      AccountingSyncStatus = "NOT_SYNCED"
	SyncStatusPendingSync    AccountingSyncStatus = "PENDING_SYNC"
	SyncStatusSynced         AccountingSyncStatus = "SYNCED"
	SyncStatusSyncFailed     AccountingSyncStatus = "SYNC_FAILED"
	SyncStatusRequiresReview AccountingSyncStatus = "REQUIRES_REVIEW"
)

// Load is a single shipment tracked from booking through delivery and billing.
type Load struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CompanyID  snowflake.ID `gorm:"not null;index"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	DriverID   *snowflake.ID
	TruckID    *snowflake.ID
	LoadNumber string     `gorm:"not null"`
	Status     LoadStatus `gorm:"type:text;not null;default:'BOOKED'"`

	Revenue    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	DriverPay  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TotalMiles decimal.Decimal `gorm:"type:numeric(10,1);not null;default:0"`
	Weight     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`

	IsBillingHold     bool    `gorm:"not null;default:false"`
	BillingHoldReason *string `gorm:"type:text"`

	AccountingSyncStatus AccountingSyncStatus `gorm:"type:text;not null;default:'NOT_SYNCED'"`
	LastSyncError        *string              `gorm:"type:text"`

	ReadyForSettlement bool `gorm:"not null;default:false"`
	SettlementID       *snowflake.ID
	InvoiceID          *snowflake.ID

	// MetricsApplied marks rollup counters as already incremented for this
	// load so a re-invoked completion pipeline never double-counts.
	MetricsApplied bool `gorm:"not null;default:false"`

	DeliveredAt *time.Time
	InvoicedAt  *time.Time

	// GapCheckedAt marks the advisory expense-gap sweep as done for this
	// load so the sweep never re-notifies.
	GapCheckedAt *time.Time

	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Load) TableName() string { return "loads" }

// ChargeType classifies accessorial charges beyond the base linehaul rate.
type ChargeType string

const (
	ChargeTypeLumper    ChargeType = "LUMPER"
	ChargeTypeDetention ChargeType = "DETENTION"
	ChargeTypeLayover   ChargeType = "LAYOVER"
	ChargeTypeStopPay   ChargeType = "STOP_PAY"
	ChargeTypeTONU      ChargeType = "TONU"
)

// ChargeStatus is the accessorial billing lifecycle.
type ChargeStatus string

const (
	ChargeStatusPending  ChargeStatus = "PENDING"
	ChargeStatusApproved ChargeStatus = "APPROVED"
	ChargeStatusBilled   ChargeStatus = "BILLED"
)

// AccessorialCharge is a billable extra on a load (detention, lumper, ...).
type AccessorialCharge struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	CompanyID  snowflake.ID    `gorm:"not null;index"`
	LoadID     snowflake.ID    `gorm:"not null;index"`
	ChargeType ChargeType      `gorm:"type:text;not null"`
	Amount     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status     ChargeStatus    `gorm:"type:text;not null;default:'PENDING'"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AccessorialCharge) TableName() string { return "accessorial_charges" }

// ExpenseType classifies out-of-pocket load expenses.
type ExpenseType string

const (
	ExpenseTypeFuel   ExpenseType = "FUEL"
	ExpenseTypeToll   ExpenseType = "TOLL"
	ExpenseTypeRepair ExpenseType = "REPAIR"
	ExpenseTypeLumper ExpenseType = "LUMPER"
	ExpenseTypeOther  ExpenseType = "OTHER"
)

// ApprovalStatus is the expense review lifecycle.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// LoadExpense is a cost entry against a load awaiting accounting review.
type LoadExpense struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	CompanyID      snowflake.ID    `gorm:"not null;index"`
	LoadID         snowflake.ID    `gorm:"not null;index"`
	ExpenseType    ExpenseType     `gorm:"type:text;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ApprovalStatus ApprovalStatus  `gorm:"type:text;not null;default:'PENDING'"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LoadExpense) TableName() string { return "load_expenses" }

// DocumentType classifies paperwork attached to a load.
type DocumentType string

const (
	DocumentTypePOD     DocumentType = "PROOF_OF_DELIVERY"
	DocumentTypeBOL     DocumentType = "BILL_OF_LADING"
	DocumentTypeRateCon DocumentType = "RATE_CONFIRMATION"
	DocumentTypeScale   DocumentType = "SCALE_TICKET"
	DocumentTypeReceipt DocumentType = "RECEIPT"
)

// LoadDocument is a stored file reference for a load's paperwork.
type LoadDocument struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	CompanyID    snowflake.ID      `gorm:"not null;index"`
	LoadID       snowflake.ID      `gorm:"not null;index"`
	DocumentType DocumentType      `gorm:"type:text;not null"`
	FileRef      string            `gorm:"type:text;not null"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LoadDocument) TableName() string { return "load_documents" }

// CustomerType distinguishes direct shippers from brokerage accounts.
type CustomerType string

const (
	CustomerTypeStandard  CustomerType = "STANDARD"
	CustomerTypeBrokerage CustomerType = "BROKERAGE"
)

// Customer is a billed party.
type Customer struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	CompanyID    snowflake.ID    `gorm:"not null;index"`
	Name         string          `gorm:"not null"`
	Email        string          `gorm:"type:text"`
	CustomerType CustomerType    `gorm:"type:text;not null;default:'STANDARD'"`
	TaxExempt    bool            `gorm:"not null;default:false"`
	TaxRate      decimal.Decimal `gorm:"type:numeric(6,4);not null;default:0"`

	// Factoring: when receivables are sold, invoices remit to the factor.
	FactoringCompany *string `gorm:"type:text"`
	FactoringAddress *string `gorm:"type:text"`

	LedgerRef *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Customer) TableName() string { return "customers" }

// DriverStatus gates settlement batch inclusion.
type DriverStatus string

const (
	DriverStatusAvailable DriverStatus = "AVAILABLE"
	DriverStatusOnLeave   DriverStatus = "ON_LEAVE"
	DriverStatusInactive  DriverStatus = "INACTIVE"
)

// PayType is the driver compensation scheme.
type PayType string

const (
	PayTypePerMile    PayType = "PER_MILE"
	PayTypePercentage PayType = "PERCENTAGE"
	PayTypeFlat       PayType = "FLAT"
)

// Driver is a payee in the AP flow.
type Driver struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	CompanyID snowflake.ID    `gorm:"not null;index"`
	Name      string          `gorm:"not null"`
	Email     string          `gorm:"type:text"`
	Status    DriverStatus    `gorm:"type:text;not null;default:'AVAILABLE'"`
	PayType   PayType         `gorm:"type:text;not null;default:'PER_MILE'"`
	PayRate   decimal.Decimal `gorm:"type:numeric(8,4);not null;default:0"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Driver) TableName() string { return "drivers" }

// Truck is a power unit, tracked for rollup aggregates.
type Truck struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	CompanyID snowflake.ID `gorm:"not null;index"`
	Unit      string       `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Truck) TableName() string { return "trucks" }

// CompanyStatus gates scheduled processing.
type CompanyStatus string

const (
	CompanyStatusActive   CompanyStatus = "ACTIVE"
	CompanyStatusInactive CompanyStatus = "INACTIVE"
)

// Company is a carrier operating entity; all rows are scoped to one.
type Company struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	Name           string        `gorm:"not null"`
	Status         CompanyStatus `gorm:"type:text;not null;default:'ACTIVE'"`
	RemitToName    string        `gorm:"type:text"`
	RemitToAddress string        `gorm:"type:text"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Company) TableName() string { return "companies" }
