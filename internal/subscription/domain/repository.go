package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence boundary for lifecycle writes. Methods
// take the executing *gorm.DB so callers control transaction scope.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindByIDForUpdate locks the row for the transaction, serializing
	// concurrent lifecycle operations on the same subscription.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	Create(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// UpdateLifecycle persists a lifecycle change guarded by the
	// optimistic version; a stale version returns ErrVersionConflict.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// ClaimExpiring returns active subscriptions whose period ended
	// before now, skipping rows another scan already holds.
	ClaimExpiring(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	// ClaimGraceEnded returns grace_period subscriptions whose grace
	// window closed before now.
	ClaimGraceEnded(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}
