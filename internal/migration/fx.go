package migration

import (
	"github.com/broadbandx/billing/internal/config"
	"github.com/broadbandx/billing/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}
		if cfg.SeedDefaultPlans {
			return seed.EnsureDefaultPlans(conn)
		}
		return nil
	}),
)
