// Package service implements invoice generation and the ledger sync flow.
package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/clock"
	eventsdomain "github.com/adrijusxx/linehaul/internal/events/domain"
	"github.com/adrijusxx/linehaul/internal/invoice/domain"
	ledgerdomain "github.com/adrijusxx/linehaul/internal/ledger/domain"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Loads    loaddomain.Repository
	Ledger   ledgerdomain.Client
	Events   eventsdomain.Enqueuer
	Activity activitydomain.Service
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	loads    loaddomain.Repository
	ledger   ledgerdomain.Client
	events   eventsdomain.Enqueuer
	activity activitydomain.Service
	metrics  *metrics.Metrics
}

func Provide(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("invoice"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		loads:    p.Loads,
		ledger:   p.Ledger,
		events:   p.Events,
		activity: p.Activity,
		metrics:  p.Metrics,
	}
}

// GenerateInvoice bills the given loads as one invoice. Callers are
// expected to have run the eligibility and readiness gates first; the
// generator only enforces structural correctness. Accounts payable state is
// left alone: invoicing a load says nothing about when its driver is paid.
func (s *service) GenerateInvoice(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID, opts domain.GenerateOptions) (*domain.Invoice, error) {
	if len(loadIDs) == 0 {
		return nil, domain.ErrNoLoads
	}

	loads, err := s.loads.FindLoadsByIDs(ctx, companyID, loadIDs)
	if err != nil {
		return nil, err
	}
	if len(loads) != len(loadIDs) {
		return nil, fmt.Errorf("%w: %d of %d loads found", loaddomain.ErrNotFound, len(loads), len(loadIDs))
	}

	customerID := loads[0].CustomerID
	for _, l := range loads {
		if l.CustomerID != customerID {
			return nil, domain.ErrMixedCustomers
		}
	}
	customer, err := s.loads.FindCustomerByID(ctx, companyID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, loaddomain.ErrNotFound)
	}

	now := s.clock.Now()
	subtotal := decimal.Zero
	snaps := make([]domain.LoadSnapshot, 0, len(loads))
	invoiceID := s.genID.Generate()
	for _, l := range loads {
		subtotal = subtotal.Add(l.Revenue)
		snaps = append(snaps, domain.LoadSnapshot{
			ID:         s.genID.Generate(),
			CompanyID:  companyID,
			InvoiceID:  invoiceID,
			LoadID:     l.ID,
			CustomerID: l.CustomerID,
			Revenue:    l.Revenue,
			Weight:     l.Weight,
			TotalMiles: l.TotalMiles,
			DriverPay:  l.DriverPay,
			CreatedAt:  now,
		})
	}

	// Approved accessorials ride along on the invoice and are marked billed
	// inside the same transaction.
	var chargeTotal decimal.Decimal
	for _, l := range loads {
		charges, err := s.loads.ListAccessorialCharges(ctx, companyID, l.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range charges {
			if c.Status == loaddomain.ChargeStatusApproved {
				chargeTotal = chargeTotal.Add(c.Amount)
			}
		}
	}
	subtotal = subtotal.Add(chargeTotal)

	tax := decimal.Zero
	if !customer.TaxExempt && customer.TaxRate.IsPositive() {
		tax = subtotal.Mul(customer.TaxRate).Round(2)
	}
	total := subtotal.Add(tax)

	number := opts.InvoiceNumber
	if number == "" {
		number = fmt.Sprintf("INV-%s", invoiceID)
	}

	inv := domain.Invoice{
		ID:               invoiceID,
		CompanyID:        companyID,
		CustomerID:       customerID,
		InvoiceNumber:    number,
		Status:           domain.InvoiceStatusDraft,
		Subtotal:         subtotal,
		TaxAmount:        tax,
		Total:            total,
		Balance:          total,
		LedgerSyncStatus: domain.LedgerSyncNotSynced,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(tx, &inv); err != nil {
			return err
		}
		if err := s.repo.CreateSnapshots(tx, snaps); err != nil {
			return err
		}
		if err := s.loads.AttachLoadsToInvoice(tx, companyID, inv.ID, loadIDs, now); err != nil {
			return err
		}
		if err := tx.Exec(
			`UPDATE accessorial_charges SET status = ?, updated_at = ?
			 WHERE company_id = ? AND load_id IN ? AND status = ?`,
			loaddomain.ChargeStatusBilled, now, companyID, loadIDs, loaddomain.ChargeStatusApproved,
		).Error; err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%s", eventsdomain.EventInvoiceGenerated, inv.ID)
		return s.events.EnqueueTx(tx, companyID, eventsdomain.EventInvoiceGenerated, map[string]any{
			"invoice_id":     inv.ID.String(),
			"invoice_number": inv.InvoiceNumber,
			"total":          inv.Total.StringFixed(2),
		}, &dedupe)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceGenerated(ctx)
	entityID := inv.ID.String()
	if err := s.activity.Record(ctx, &companyID, activitydomain.ActorTypeSystem, nil,
		"invoice.generated", "invoice", &entityID, map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"load_count":     len(loadIDs),
			"total":          inv.Total.StringFixed(2),
		}); err != nil {
		s.log.Warn("activity record failed", zap.Error(err))
	}
	return &inv, nil
}

func (s *service) ApproveInvoice(ctx context.Context, companyID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	ok, err := s.repo.UpdateStatus(ctx, companyID, invoiceID, domain.InvoiceStatusDraft, domain.InvoiceStatusApproved)
	if err != nil {
		return nil, err
	}
	if !ok {
		inv, err := s.repo.FindByID(ctx, companyID, invoiceID)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			return nil, domain.ErrNotFound
		}
		if inv.Status == domain.InvoiceStatusApproved {
			return inv, nil
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, inv.Status)
	}

	dedupe := fmt.Sprintf("%s:%s", eventsdomain.EventInvoiceApproved, invoiceID)
	if err := s.events.Enqueue(ctx, companyID, eventsdomain.EventInvoiceApproved, map[string]any{
		"invoice_id": invoiceID.String(),
	}, &dedupe); err != nil {
		s.log.Warn("enqueue invoice.approved failed", zap.Error(err))
	}
	return s.repo.FindByID(ctx, companyID, invoiceID)
}

// FinalizeInvoice computes the remit-to block for rendering. When the
// customer's receivables are factored, payment routes to the factor and the
// notice of assignment must be printed; otherwise payment comes home.
func (s *service) FinalizeInvoice(ctx context.Context, companyID, invoiceID snowflake.ID) (*domain.RemitTo, error) {
	inv, err := s.repo.FindByID(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	customer, err := s.loads.FindCustomerByID(ctx, companyID, inv.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("customer %s: %w", inv.CustomerID, loaddomain.ErrNotFound)
	}

	if customer.FactoringCompany != nil && *customer.FactoringCompany != "" {
		addr := ""
		if customer.FactoringAddress != nil {
			addr = *customer.FactoringAddress
		}
		return &domain.RemitTo{
			Name:     *customer.FactoringCompany,
			Address:  addr,
			Factored: true,
			NoticeOfAssignment: fmt.Sprintf(
				"This invoice has been assigned to and must be paid directly to %s. Payment to any other party does not discharge this obligation.",
				*customer.FactoringCompany),
		}, nil
	}

	company, err := s.loads.FindCompanyByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("company %s: %w", companyID, loaddomain.ErrNotFound)
	}
	name := company.RemitToName
	if name == "" {
		name = company.Name
	}
	return &domain.RemitTo{Name: name, Address: company.RemitToAddress}, nil
}

// CheckDataConsistency diffs the latest invoicing snapshot of a load
// against its current state and describes every drift in plain language.
func (s *service) CheckDataConsistency(ctx context.Context, companyID, loadID snowflake.ID) ([]string, error) {
	snap, err := s.repo.FindSnapshotByLoad(ctx, companyID, loadID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	load, err := s.loads.FindLoadByID(ctx, companyID, loadID)
	if err != nil {
		return nil, err
	}
	if load == nil {
		return []string{"load no longer exists"}, nil
	}

	var diffs []string
	if !load.Revenue.Equal(snap.Revenue) {
		diffs = append(diffs, fmt.Sprintf("Revenue changed from $%s to $%s",
			snap.Revenue.StringFixed(2), load.Revenue.StringFixed(2)))
	}
	if !load.Weight.Equal(snap.Weight) {
		diffs = append(diffs, fmt.Sprintf("Weight changed from %s to %s",
			snap.Weight.StringFixed(2), load.Weight.StringFixed(2)))
	}
	if !load.TotalMiles.Equal(snap.TotalMiles) {
		diffs = append(diffs, fmt.Sprintf("Total miles changed from %s to %s",
			snap.TotalMiles.StringFixed(1), load.TotalMiles.StringFixed(1)))
	}
	if !load.DriverPay.Equal(snap.DriverPay) {
		diffs = append(diffs, fmt.Sprintf("Driver pay changed from $%s to $%s",
			snap.DriverPay.StringFixed(2), load.DriverPay.StringFixed(2)))
	}
	if load.CustomerID != snap.CustomerID {
		diffs = append(diffs, fmt.Sprintf("Customer changed from %s to %s", snap.CustomerID, load.CustomerID))
	}
	return diffs, nil
}

// SyncInvoiceToLedger pushes the customer first when it has no ledger
// reference yet, then the invoice itself.
func (s *service) SyncInvoiceToLedger(ctx context.Context, companyID, invoiceID snowflake.ID) error {
	inv, err := s.repo.FindByID(ctx, companyID, invoiceID)
	if err != nil {
		return err
	}
	if inv == nil {
		return domain.ErrNotFound
	}
	customer, err := s.loads.FindCustomerByID(ctx, companyID, inv.CustomerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return fmt.Errorf("customer %s: %w", inv.CustomerID, loaddomain.ErrNotFound)
	}

	if customer.LedgerRef == nil || *customer.LedgerRef == "" {
		ref, err := s.ledger.SyncCustomer(ctx, ledgerdomain.CustomerRecord{
			ExternalID: customer.ID.String(),
			Name:       customer.Name,
			Email:      customer.Email,
		})
		if err != nil {
			return fmt.Errorf("sync customer: %w", err)
		}
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE customers SET ledger_ref = ?, updated_at = ? WHERE id = ? AND company_id = ?`,
			ref, s.clock.Now(), customer.ID, companyID,
		).Error; err != nil {
			return err
		}
		customer.LedgerRef = &ref
	}

	ref, err := s.ledger.SyncInvoice(ctx, ledgerdomain.InvoiceRecord{
		ExternalID:        inv.ID.String(),
		CustomerLedgerRef: *customer.LedgerRef,
		InvoiceNumber:     inv.InvoiceNumber,
		Subtotal:          inv.Subtotal,
		Tax:               inv.TaxAmount,
		Total:             inv.Total,
	})
	if err != nil {
		if serr := s.repo.SetLedgerSyncStatus(ctx, companyID, inv.ID, domain.LedgerSyncSyncFailed); serr != nil {
			s.log.Error("mark invoice sync failed", zap.Error(serr))
		}
		return fmt.Errorf("sync invoice: %w", err)
	}
	return s.repo.SetLedgerRef(ctx, companyID, inv.ID, ref, domain.LedgerSyncSynced)
}
