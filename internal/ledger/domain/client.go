// Package domain defines the external accounting ledger client. The ledger
// holds the books of record; this service pushes customers, invoices, and
// delivered-load entries into it.
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConfigured = errors.New("ledger_not_configured")
	// ErrRejected marks a response the ledger refused on validation
	// grounds. Retrying without changing the payload is pointless.
	ErrRejected = errors.New("ledger_rejected")
)

// CustomerRecord is the customer payload pushed to the ledger.
type CustomerRecord struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
}

// InvoiceRecord is the invoice payload pushed to the ledger.
type InvoiceRecord struct {
	ExternalID        string          `json:"external_id"`
	CustomerLedgerRef string          `json:"customer_ref"`
	InvoiceNumber     string          `json:"invoice_number"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
}

// LoadEntry is the revenue/cost journal entry for one delivered load.
type LoadEntry struct {
	ExternalID string          `json:"external_id"`
	LoadNumber string          `json:"load_number"`
	Revenue    decimal.Decimal `json:"revenue"`
	DriverPay  decimal.Decimal `json:"driver_pay"`
	Miles      decimal.Decimal `json:"miles"`
}

// Client talks to the external ledger. Sync methods return the ledger's
// reference for the created or updated record.
type Client interface {
	SyncCustomer(ctx context.Context, rec CustomerRecord) (string, error)
	SyncInvoice(ctx context.Context, rec InvoiceRecord) (string, error)
	PostLoadEntry(ctx context.Context, rec LoadEntry) error
}
