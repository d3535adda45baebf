package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/adrijusxx/linehaul/internal/ledger/domain"
)

// Fake is an in-memory ledger for tests and local development. Each call
// can be forced to fail by setting Err.
type Fake struct {
	mu sync.Mutex

	Err error

	Customers   []domain.CustomerRecord
	Invoices    []domain.InvoiceRecord
	LoadEntries []domain.LoadEntry
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) SyncCustomer(ctx context.Context, rec domain.CustomerRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.Customers = append(f.Customers, rec)
	return fmt.Sprintf("cus_%s", rec.ExternalID), nil
}

func (f *Fake) SyncInvoice(ctx context.Context, rec domain.InvoiceRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.Invoices = append(f.Invoices, rec)
	return fmt.Sprintf("inv_%s", rec.ExternalID), nil
}

func (f *Fake) PostLoadEntry(ctx context.Context, rec domain.LoadEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.LoadEntries = append(f.LoadEntries, rec)
	return nil
}

var _ domain.Client = (*Fake)(nil)
