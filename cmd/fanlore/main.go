package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fanlore/fanlore/internal/audit"
	"github.com/fanlore/fanlore/internal/billing"
	"github.com/fanlore/fanlore/internal/clock"
	"github.com/fanlore/fanlore/internal/config"
	"github.com/fanlore/fanlore/internal/logger"
	"github.com/fanlore/fanlore/internal/migration"
	"github.com/fanlore/fanlore/internal/notifier"
	obsmetrics "github.com/fanlore/fanlore/internal/observability/metrics"
	"github.com/fanlore/fanlore/internal/order"
	"github.com/fanlore/fanlore/internal/payment"
	"github.com/fanlore/fanlore/internal/retry"
	"github.com/fanlore/fanlore/internal/server"
	"github.com/fanlore/fanlore/internal/transcode"
	"github.com/fanlore/fanlore/internal/wallet"
	"github.com/fanlore/fanlore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		obsmetrics.Module,
		notifier.Module,

		// Functional domains
		audit.Module,
		order.Module,
		wallet.Module,
		payment.Module,
		retry.Module,
		transcode.Module,
		billing.Module,

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
