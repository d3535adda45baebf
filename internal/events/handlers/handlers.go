// Package handlers wires the canonical workflow event handlers. Every
// handler is idempotent: events are delivered at least once.
package handlers

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	completiondomain "github.com/adrijusxx/linehaul/internal/completion/domain"
	"github.com/adrijusxx/linehaul/internal/events/domain"
	invoicedomain "github.com/adrijusxx/linehaul/internal/invoice/domain"
	notifdomain "github.com/adrijusxx/linehaul/internal/notification/domain"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Registry   domain.Registry
	Completion completiondomain.Service
	Invoices   invoicedomain.Service
	Notifier   notifdomain.Notifier
}

func Register(p Params) {
	log := p.Log.Named("events.handlers")

	p.Registry.Register(domain.EventLoadDelivered, func(ctx context.Context, ev domain.Event) error {
		loadID, err := idFromPayload(ev, "load_id")
		if err != nil {
			return err
		}
		result, err := p.Completion.CompleteLoad(ctx, ev.CompanyID, loadID)
		if err != nil {
			return err
		}
		if !result.Success {
			// Stage issues are recorded on the load itself; redelivering
			// the event would just repeat them.
			log.Info("completion finished with issues",
				zap.Int64("load_id", int64(loadID)),
				zap.Int("issues", len(result.Errors)))
		}
		return nil
	})

	p.Registry.Register(domain.EventInvoiceApproved, func(ctx context.Context, ev domain.Event) error {
		invoiceID, err := idFromPayload(ev, "invoice_id")
		if err != nil {
			return err
		}
		return p.Invoices.SyncInvoiceToLedger(ctx, ev.CompanyID, invoiceID)
	})

	p.Registry.Register(domain.EventInvoiceGenerated, func(ctx context.Context, ev domain.Event) error {
		number, _ := ev.Payload["invoice_number"].(string)
		total, _ := ev.Payload["total"].(string)
		return p.Notifier.Notify(ctx, ev.CompanyID, notifdomain.DepartmentAR,
			fmt.Sprintf("Invoice %s generated", number),
			fmt.Sprintf("Invoice %s for $%s is ready for review and approval.", number, total),
			map[string]any(ev.Payload))
	})

	// Hold notifications go to AR only. Dispatch and settlement never gate
	// on receivables state.
	p.Registry.Register(domain.EventBillingHoldApplied, func(ctx context.Context, ev domain.Event) error {
		number, _ := ev.Payload["load_number"].(string)
		reason, _ := ev.Payload["reason"].(string)
		return p.Notifier.Notify(ctx, ev.CompanyID, notifdomain.DepartmentAR,
			fmt.Sprintf("Billing hold on load %s", number),
			fmt.Sprintf("Load %s is on billing hold: %s. A corrected rate confirmation is required before invoicing.", number, reason),
			map[string]any(ev.Payload))
	})

	p.Registry.Register(domain.EventBillingHoldCleared, func(ctx context.Context, ev domain.Event) error {
		number, _ := ev.Payload["load_number"].(string)
		revenue, _ := ev.Payload["revenue"].(string)
		return p.Notifier.Notify(ctx, ev.CompanyID, notifdomain.DepartmentAR,
			fmt.Sprintf("Billing hold cleared on load %s", number),
			fmt.Sprintf("Load %s is released for invoicing at a corrected total of $%s.", number, revenue),
			map[string]any(ev.Payload))
	})

	p.Registry.Register(domain.EventAccountingSyncFailed, func(ctx context.Context, ev domain.Event) error {
		number, _ := ev.Payload["load_number"].(string)
		msg, _ := ev.Payload["error"].(string)
		return p.Notifier.Notify(ctx, ev.CompanyID, notifdomain.DepartmentAccounting,
			fmt.Sprintf("Accounting sync failed for load %s", number),
			fmt.Sprintf("Load %s could not be posted to the ledger: %s. The load is marked SYNC_FAILED for manual retry.", number, msg),
			map[string]any(ev.Payload))
	})

	p.Registry.Register(domain.EventSettlementGenerated, func(ctx context.Context, ev domain.Event) error {
		driverID, _ := ev.Payload["driver_id"].(string)
		netPay, _ := ev.Payload["net_pay"].(string)
		return p.Notifier.Notify(ctx, ev.CompanyID, notifdomain.DepartmentAccounting,
			"Settlement generated",
			fmt.Sprintf("A settlement for driver %s with net pay $%s is awaiting approval.", driverID, netPay),
			map[string]any(ev.Payload))
	})
}

func idFromPayload(ev domain.Event, key string) (snowflake.ID, error) {
	raw, ok := ev.Payload[key].(string)
	if !ok || raw == "" {
		return 0, fmt.Errorf("event %s payload missing %s", ev.Name, key)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("event %s payload %s: %w", ev.Name, key, err)
	}
	return id, nil
}
