// Package domain defines the settlement pay-calculation engine contract.
// The engine is a black box to its callers: driver plus period loads in,
// gross/net/deductions plus an itemized audit log out.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
)

// AdjustmentKind classifies non-load settlement line items.
type AdjustmentKind string

const (
	AdjustmentAddition  AdjustmentKind = "ADDITION"
	AdjustmentDeduction AdjustmentKind = "DEDUCTION"
	AdjustmentAdvance   AdjustmentKind = "ADVANCE"
)

// Adjustment is one non-load line item: a bonus, an escrow deduction, a
// cash advance recovery.
type Adjustment struct {
	Kind        AdjustmentKind  `json:"kind"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	SourceRef   string          `json:"source_ref,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// LoadLineItem records how one load's pay was derived.
type LoadLineItem struct {
	LoadID      snowflake.ID    `json:"load_id"`
	LoadNumber  string          `json:"load_number"`
	RuleApplied string          `json:"rule_applied"`
	Miles       decimal.Decimal `json:"miles"`
	RateBasis   string          `json:"rate_basis"`
	Pay         decimal.Decimal `json:"pay"`
}

// CalculationLog is the immutable audit snapshot persisted with every
// settlement computation.
type CalculationLog struct {
	CalculatedAt      time.Time       `json:"calculated_at"`
	CalculatorVersion string          `json:"calculator_version"`
	PayType           string          `json:"pay_type"`
	PayRate           decimal.Decimal `json:"pay_rate"`
	LineItems         []LoadLineItem  `json:"line_items"`
	Additions         []Adjustment    `json:"additions,omitempty"`
	Deductions        []Adjustment    `json:"deductions,omitempty"`
	Advances          []Adjustment    `json:"advances,omitempty"`
	Gross             decimal.Decimal `json:"gross"`
	TotalDeductions   decimal.Decimal `json:"total_deductions"`
	Net               decimal.Decimal `json:"net"`
}

// Input is one driver's settlement computation request.
type Input struct {
	CompanyID   snowflake.ID
	Driver      loaddomain.Driver
	Loads       []loaddomain.Load
	Adjustments []Adjustment
	PeriodStart time.Time
	PeriodEnd   time.Time
	Now         time.Time
}

// Result is the computed pay plus its audit log.
type Result struct {
	Gross           decimal.Decimal
	Net             decimal.Decimal
	TotalDeductions decimal.Decimal
	Log             CalculationLog
}

type Engine interface {
	Calculate(ctx context.Context, in Input) (Result, error)
}

// JurisdictionMiles is one state's share of a load's mileage, used for
// fuel-tax apportionment downstream.
type JurisdictionMiles struct {
	Jurisdiction string          `json:"jurisdiction"`
	Miles        decimal.Decimal `json:"miles"`
}

// MileageTaxCalculator apportions a load's miles across tax jurisdictions.
type MileageTaxCalculator interface {
	Apportion(ctx context.Context, load loaddomain.Load) ([]JurisdictionMiles, error)
}
