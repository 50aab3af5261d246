package main

import (
	"github.com/broadbandx/billing/internal/adjustment"
	"github.com/broadbandx/billing/internal/clock"
	"github.com/broadbandx/billing/internal/config"
	"github.com/broadbandx/billing/internal/invoice"
	"github.com/broadbandx/billing/internal/journal"
	"github.com/broadbandx/billing/internal/notify"
	"github.com/broadbandx/billing/internal/observability"
	"github.com/broadbandx/billing/internal/payment"
	"github.com/broadbandx/billing/internal/plan"
	"github.com/broadbandx/billing/internal/planchange"
	"github.com/broadbandx/billing/internal/pricing"
	"github.com/broadbandx/billing/internal/scheduler"
	"github.com/broadbandx/billing/internal/subscription"
	"github.com/broadbandx/billing/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Scan worker: runs the expiry, grace and reminder jobs with no HTTP
// surface. Migrations are owned by the API process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		pricing.Module,
		payment.Module,
		notify.Module,

		plan.Module,
		planchange.Module,
		adjustment.Module,
		journal.Module,
		invoice.Module,
		subscription.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
