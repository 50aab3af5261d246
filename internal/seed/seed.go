// Package seed bootstraps reference data so a fresh install is usable
// without manual catalog setup.
package seed

import (
	"context"
	"errors"

	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var defaultPlans = []plandomain.Plan{
	{Code: "fiber-100", Name: "Fiber 100", MonthlyPriceCents: 40000, AutoRenewAllowed: true},
	{Code: "fiber-500", Name: "Fiber 500", MonthlyPriceCents: 65000, AutoRenewAllowed: true},
	{Code: "fiber-1g", Name: "Fiber 1G", MonthlyPriceCents: 80000, AutoRenewAllowed: true},
}

// EnsureDefaultPlans inserts the starter catalog when no plans exist yet.
// A non-empty catalog is left untouched.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		for _, plan := range defaultPlans {
			plan.ID = node.Generate()
			plan.Status = plandomain.PlanStatusActive
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
