// Package server exposes the back-office HTTP API: load lifecycle,
// billing holds, invoice generation, accounting sync, and driver
// settlements.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/accounting"
	accountingdomain "github.com/adrijusxx/linehaul/internal/accounting/domain"
	"github.com/adrijusxx/linehaul/internal/activity"
	activitydomain "github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/billinghold"
	billingholddomain "github.com/adrijusxx/linehaul/internal/billinghold/domain"
	"github.com/adrijusxx/linehaul/internal/completion"
	completiondomain "github.com/adrijusxx/linehaul/internal/completion/domain"
	"github.com/adrijusxx/linehaul/internal/config"
	"github.com/adrijusxx/linehaul/internal/events"
	"github.com/adrijusxx/linehaul/internal/invoice"
	invoicedomain "github.com/adrijusxx/linehaul/internal/invoice/domain"
	"github.com/adrijusxx/linehaul/internal/ledger"
	"github.com/adrijusxx/linehaul/internal/load"
	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/notification"
	"github.com/adrijusxx/linehaul/internal/observability"
	obstracing "github.com/adrijusxx/linehaul/internal/observability/tracing"
	"github.com/adrijusxx/linehaul/internal/paycalc"
	"github.com/adrijusxx/linehaul/internal/readiness"
	readinessdomain "github.com/adrijusxx/linehaul/internal/readiness/domain"
	"github.com/adrijusxx/linehaul/internal/rollup"
	"github.com/adrijusxx/linehaul/internal/settlement"
	settlementdomain "github.com/adrijusxx/linehaul/internal/settlement/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	activity.Module,
	notification.Module,
	events.Module,
	events.Handlers,
	ledger.Module,
	load.Module,
	billinghold.Module,
	readiness.Module,
	accounting.Module,
	invoice.Module,
	paycalc.Module,
	settlement.Module,
	rollup.Module,
	completion.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	loadSvc        loaddomain.Service
	loadRepo       loaddomain.Repository
	completionSvc  completiondomain.Service
	billingHoldSvc billingholddomain.Service
	readinessSvc   readinessdomain.Service
	invoiceSvc     invoicedomain.Service
	invoiceRepo    invoicedomain.Repository
	accountingSvc  accountingdomain.Service
	settlementSvc  settlementdomain.Service
	settlementRepo settlementdomain.Repository
	activitySvc    activitydomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	LoadSvc        loaddomain.Service
	LoadRepo       loaddomain.Repository
	CompletionSvc  completiondomain.Service
	BillingHoldSvc billingholddomain.Service
	ReadinessSvc   readinessdomain.Service
	InvoiceSvc     invoicedomain.Service
	InvoiceRepo    invoicedomain.Repository
	AccountingSvc  accountingdomain.Service
	SettlementSvc  settlementdomain.Service
	SettlementRepo settlementdomain.Repository
	ActivitySvc    activitydomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		loadSvc:        p.LoadSvc,
		loadRepo:       p.LoadRepo,
		completionSvc:  p.CompletionSvc,
		billingHoldSvc: p.BillingHoldSvc,
		readinessSvc:   p.ReadinessSvc,
		invoiceSvc:     p.InvoiceSvc,
		invoiceRepo:    p.InvoiceRepo,
		accountingSvc:  p.AccountingSvc,
		settlementSvc:  p.SettlementSvc,
		settlementRepo: p.SettlementRepo,
		activitySvc:    p.ActivitySvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.CompanyContext())

	// -------- Loads --------
	api.POST("/loads", s.CreateLoad)
	api.GET("/loads/:id", s.GetLoadByID)
	api.POST("/loads/:id/deliver", s.MarkLoadDelivered)
	api.POST("/loads/:id/complete", s.CompleteLoad)
	api.POST("/loads/:id/documents", s.AddLoadDocument)
	api.POST("/loads/:id/expenses", s.AddLoadExpense)
	api.POST("/expenses/:id/approve", s.ApproveLoadExpense)
	api.GET("/loads/:id/activity", s.ListLoadActivity)

	// -------- Billing holds --------
	api.POST("/loads/:id/holds", s.ApplyBillingHold)
	api.POST("/loads/:id/holds/clear", s.ClearBillingHold)
	api.POST("/loads/:id/accessorials", s.AddAccessorialCharge)
	api.GET("/loads/:id/invoicing-eligibility", s.CheckInvoicingEligibility)
	api.POST("/invoicing-eligibility", s.CheckInvoicingEligibilityBatch)

	// -------- Readiness --------
	api.GET("/loads/:id/readiness", s.CheckLoadReadiness)
	api.POST("/readiness", s.CheckLoadsReadiness)
	api.POST("/invoicing-validation", s.ValidateLoadsForInvoicing)
	api.GET("/loads/:id/gaps", s.DetectExpenseGaps)

	// -------- Invoices --------
	api.POST("/invoices", s.GenerateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/approve", s.ApproveInvoice)
	api.GET("/invoices/:id/remit-to", s.FinalizeInvoice)
	api.GET("/loads/:id/consistency", s.CheckInvoiceConsistency)
	api.POST("/invoices/:id/sync", s.SyncInvoiceToLedger)

	// -------- Accounting sync --------
	api.POST("/loads/:id/sync", s.SyncLoadToAccounting)
	api.POST("/accounting/sync-batch", s.SyncBatchLoads)
	api.POST("/accounting/retry-failed", s.RetryFailedSyncs)
	api.GET("/accounting/stats", s.GetSyncStatistics)

	// -------- Settlements --------
	api.GET("/settlements", s.ListSettlements)
	api.POST("/settlements", s.GenerateSettlement)
	api.GET("/settlements/:id", s.GetSettlementByID)
	api.POST("/settlements/:id/recalculate", s.RecalculateSettlement)
	api.GET("/settlements/:id/revisions", s.ListSettlementRevisions)
}
