package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	loadsCompleted        metric.Int64Counter
	invoicesGenerated     metric.Int64Counter
	settlementsGenerated  metric.Int64Counter
	accountingSyncResults metric.Int64Counter
	billingHoldsApplied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "linehaul"
	}
	meter := provider.Meter(name)

	loadsCompleted, err := meter.Int64Counter("linehaul_loads_completed_total",
		metric.WithDescription("Loads processed by the completion pipeline."))
	if err != nil {
		return nil, err
	}
	invoicesGenerated, err := meter.Int64Counter("linehaul_invoices_generated_total",
		metric.WithDescription("Invoices created from delivered loads."))
	if err != nil {
		return nil, err
	}
	settlementsGenerated, err := meter.Int64Counter("linehaul_settlements_generated_total",
		metric.WithDescription("Driver settlements created."))
	if err != nil {
		return nil, err
	}
	accountingSyncResults, err := meter.Int64Counter("linehaul_accounting_sync_total",
		metric.WithDescription("Accounting sync attempts by outcome."))
	if err != nil {
		return nil, err
	}
	billingHoldsApplied, err := meter.Int64Counter("linehaul_billing_holds_total",
		metric.WithDescription("Billing holds applied by charge type."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		loadsCompleted:        loadsCompleted,
		invoicesGenerated:     invoicesGenerated,
		settlementsGenerated:  settlementsGenerated,
		accountingSyncResults: accountingSyncResults,
		billingHoldsApplied:   billingHoldsApplied,
	}, nil
}

func (m *Metrics) IncLoadCompleted(ctx context.Context, outcome string) {
	if m == nil || m.loadsCompleted == nil {
		return
	}
	m.loadsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) IncInvoiceGenerated(ctx context.Context) {
	if m == nil || m.invoicesGenerated == nil {
		return
	}
	m.invoicesGenerated.Add(ctx, 1)
}

func (m *Metrics) IncSettlementGenerated(ctx context.Context, trigger string) {
	if m == nil || m.settlementsGenerated == nil {
		return
	}
	m.settlementsGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (m *Metrics) IncAccountingSync(ctx context.Context, outcome string) {
	if m == nil || m.accountingSyncResults == nil {
		return
	}
	m.accountingSyncResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) IncBillingHold(ctx context.Context, chargeType string) {
	if m == nil || m.billingHoldsApplied == nil {
		return
	}
	m.billingHoldsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("charge_type", chargeType)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
