package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/config"
	"github.com/adrijusxx/linehaul/internal/migration"
	"github.com/adrijusxx/linehaul/internal/observability"
	"github.com/adrijusxx/linehaul/internal/server"
	"github.com/adrijusxx/linehaul/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		server.Module,
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
