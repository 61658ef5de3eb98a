package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsledger/internal/audit"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/events"
	"github.com/smallbiznis/opsledger/internal/ledger"
	"github.com/smallbiznis/opsledger/internal/lock"
	"github.com/smallbiznis/opsledger/internal/observability"
	"github.com/smallbiznis/opsledger/internal/scheduler"
	"github.com/smallbiznis/opsledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		events.Module,

		// Domain services required by scheduler
		audit.Module,
		authorization.Module,
		ledger.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
