package subscription

import (
	"github.com/broadbandx/billing/internal/subscription/repository"
	"github.com/broadbandx/billing/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(
		repository.New,
		service.NewService,
	),
)
