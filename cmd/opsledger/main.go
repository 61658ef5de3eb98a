package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/audit"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/custody"
	"github.com/smallbiznis/opsledger/internal/events"
	"github.com/smallbiznis/opsledger/internal/expense"
	"github.com/smallbiznis/opsledger/internal/ledger"
	"github.com/smallbiznis/opsledger/internal/lock"
	"github.com/smallbiznis/opsledger/internal/migration"
	"github.com/smallbiznis/opsledger/internal/observability"
	"github.com/smallbiznis/opsledger/internal/order"
	"github.com/smallbiznis/opsledger/internal/payable"
	"github.com/smallbiznis/opsledger/internal/rollup"
	"github.com/smallbiznis/opsledger/internal/scheduler"
	"github.com/smallbiznis/opsledger/internal/server"
	"github.com/smallbiznis/opsledger/pkg/db"
	"go.uber.org/fx"
)

// opsledger runs the HTTP API and the scheduler in one process.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,
		events.Module,

		// Domains
		audit.Module,
		authorization.Module,
		ledger.Module,
		order.Module,
		expense.Module,
		custody.Module,
		payable.Module,
		rollup.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
