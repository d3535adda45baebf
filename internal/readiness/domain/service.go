// Package domain defines the clean-load gate: the checks a delivered load
// must pass before an invoice may be cut from it.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Options tunes the readiness checks for one call.
type Options struct {
	// AllowBrokerageSplit suppresses the driver-pay/revenue match check,
	// as does a brokerage-type customer.
	AllowBrokerageSplit bool `json:"allow_brokerage_split"`
}

// Result is the readiness verdict for one load, with per-check flags for
// automation and UI consumers.
type Result struct {
	LoadID           snowflake.ID `json:"load_id"`
	Ready            bool         `json:"ready"`
	Reasons          []string     `json:"reasons,omitempty"`
	MissingPOD       bool         `json:"missing_pod"`
	RateMismatch     bool         `json:"rate_mismatch"`
	MissingBOLWeight bool         `json:"missing_bol_weight"`
}

// BatchResult aggregates per-load readiness.
type BatchResult struct {
	AllReady bool     `json:"all_ready"`
	Results  []Result `json:"results"`
}

// ValidationResult is the structural pre-flight check for bulk invoicing,
// independent of document presence.
type ValidationResult struct {
	LoadID     snowflake.ID `json:"load_id"`
	CanInvoice bool         `json:"can_invoice"`
	Errors     []string     `json:"errors,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
}

// GapReport lists advisory anomalies on a load. Gaps never block billing
// or settlement.
type GapReport struct {
	LoadID snowflake.ID `json:"load_id"`
	Gaps   []string     `json:"gaps,omitempty"`
}

type Service interface {
	IsReadyToBill(ctx context.Context, companyID, loadID snowflake.ID, opts Options) (Result, error)
	AreLoadsReadyToBill(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID, opts Options) (BatchResult, error)
	ValidateLoadsForInvoicing(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID) ([]ValidationResult, error)
	DetectExpenseGaps(ctx context.Context, companyID, loadID snowflake.ID) (GapReport, error)
}
