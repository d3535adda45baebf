package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/accounting"
	"github.com/adrijusxx/linehaul/internal/activity"
	"github.com/adrijusxx/linehaul/internal/billinghold"
	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/completion"
	"github.com/adrijusxx/linehaul/internal/config"
	"github.com/adrijusxx/linehaul/internal/events"
	"github.com/adrijusxx/linehaul/internal/invoice"
	"github.com/adrijusxx/linehaul/internal/ledger"
	"github.com/adrijusxx/linehaul/internal/load"
	"github.com/adrijusxx/linehaul/internal/notification"
	"github.com/adrijusxx/linehaul/internal/observability"
	"github.com/adrijusxx/linehaul/internal/paycalc"
	"github.com/adrijusxx/linehaul/internal/readiness"
	"github.com/adrijusxx/linehaul/internal/rollup"
	"github.com/adrijusxx/linehaul/internal/scheduler"
	"github.com/adrijusxx/linehaul/internal/settlement"
	"github.com/adrijusxx/linehaul/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services the jobs drive
		scheduler.Module,
		events.Module,
		events.Handlers,
		activity.Module,
		notification.Module,
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

		// No server module!
		fx.Invoke(scheduler.StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
