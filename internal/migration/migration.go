// Package migration creates the billing schema on startup so the service is
// usable out of the box for local and self-hosted installs. The same model
// set drives sqlite, postgres and mysql through gorm's migrator.
package migration

import (
	"errors"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	invoicedomain "github.com/broadbandx/billing/internal/invoice/domain"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"gorm.io/gorm"
)

// Models is the full persisted model set, in dependency order.
func Models() []any {
	return []any{
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&planchangedomain.PlanChangeRecord{},
		&adjustmentdomain.Adjustment{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.InvoiceSequence{},
		&journaldomain.JournalEntry{},
		&journaldomain.JournalLine{},
		&journaldomain.JournalSequence{},
	}
}

func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(Models()...)
}
