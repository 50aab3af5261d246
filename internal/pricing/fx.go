package pricing

import (
	"github.com/broadbandx/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pricing",
	fx.Provide(provideSource),
)

func provideSource(cfg config.Config, log *zap.Logger) SignalSource {
	if cfg.PricingServiceURL == "" {
		return NoopSource{}
	}
	return NewHTTPSource(cfg.PricingServiceURL, log)
}
