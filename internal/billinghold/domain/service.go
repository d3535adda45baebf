// Package domain defines the billing hold gate. A hold blocks accounts
// receivable progress on a load until a corrected rate document arrives; it
// never blocks the driver's pay.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
)

var (
	ErrLoadNotFound = errors.New("load_not_found")
	ErrNotOnHold    = errors.New("not_on_hold")
	ErrAlreadyHeld  = errors.New("already_on_hold")
)

// Eligibility is the read-only invoicing verdict for one load.
type Eligibility struct {
	LoadID   snowflake.ID `json:"load_id"`
	Eligible bool         `json:"eligible"`
	Reason   string       `json:"reason,omitempty"`
}

// ClearInput carries the corrected rate document that releases a hold.
type ClearInput struct {
	NewTotal        *decimal.Decimal `json:"new_total,omitempty"`
	RateDocumentRef string           `json:"rate_document_ref"`
}

type Service interface {
	Apply(ctx context.Context, companyID, loadID snowflake.ID, reason string) error
	Clear(ctx context.Context, companyID, loadID snowflake.ID, in ClearInput) (*loaddomain.Load, error)
	CheckInvoicingEligibility(ctx context.Context, companyID, loadID snowflake.ID) (Eligibility, error)
	CheckInvoicingEligibilityBatch(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID) ([]Eligibility, error)

	// AddAccessorialCharge records a charge and applies a hold when the
	// charge type requires a rate document correction.
	AddAccessorialCharge(ctx context.Context, companyID, loadID snowflake.ID, chargeType loaddomain.ChargeType, amount decimal.Decimal) (*loaddomain.AccessorialCharge, error)
}

// RequiresBillingHold reports whether a charge type needs a corrected rate
// document before the customer can be billed.
func RequiresBillingHold(chargeType loaddomain.ChargeType) bool {
	switch chargeType {
	case loaddomain.ChargeTypeLumper, loaddomain.ChargeTypeDetention:
		return true
	default:
		return false
	}
}
