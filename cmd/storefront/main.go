package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/medistore/payments/internal/audit"
	"github.com/medistore/payments/internal/clock"
	"github.com/medistore/payments/internal/config"
	"github.com/medistore/payments/internal/customer"
	"github.com/medistore/payments/internal/migration"
	"github.com/medistore/payments/internal/observability"
	"github.com/medistore/payments/internal/payment"
	"github.com/medistore/payments/internal/server"
	"github.com/medistore/payments/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(appOptions()).Run()
}

func appOptions() fx.Option {
	return fx.Options(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domains
		customer.Module,
		audit.Module,
		payment.Module,

		server.Module,
	)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
