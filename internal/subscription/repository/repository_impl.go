package repository

import (
	"context"
	"time"

	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func New() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).First(&subscription, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	q := tx.WithContext(ctx)
	// SQLite has a single writer, the row lock only matters on a real
	// server dialect.
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.First(&subscription, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	previous := subscription.Version
	subscription.Version++
	result := db.WithContext(ctx).Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND version = ?", subscription.ID, previous).
		Updates(map[string]any{
			"plan_id":              subscription.PlanID,
			"status":               subscription.Status,
			"current_period_start": subscription.CurrentPeriodStart,
			"current_period_end":   subscription.CurrentPeriodEnd,
			"next_billing_at":      subscription.NextBillingAt,
			"grace_period_end":     subscription.GracePeriodEnd,
			"auto_renew":           subscription.AutoRenew,
			"cancel_at_period_end": subscription.CancelAtPeriodEnd,
			"last_renewal_error":   subscription.LastRenewalError,
			"version":              subscription.Version,
			"updated_at":           subscription.UpdatedAt,
		})
	if result.Error != nil {
		subscription.Version = previous
		return result.Error
	}
	if result.RowsAffected == 0 {
		subscription.Version = previous
		return subscriptiondomain.ErrVersionConflict
	}
	return nil
}

func (r *repo) ClaimExpiring(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.claim(ctx, tx,
		"status = ? AND current_period_end < ?",
		[]any{subscriptiondomain.StatusActive, now.UTC()},
		limit,
	)
}

func (r *repo) ClaimGraceEnded(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.claim(ctx, tx,
		"status = ? AND grace_period_end IS NOT NULL AND grace_period_end < ?",
		[]any{subscriptiondomain.StatusGracePeriod, now.UTC()},
		limit,
	)
}

func (r *repo) claim(ctx context.Context, tx *gorm.DB, where string, args []any, limit int) ([]subscriptiondomain.Subscription, error) {
	var rows []subscriptiondomain.Subscription
	q := tx.WithContext(ctx).Where(where, args...).Order("current_period_end ASC").Limit(limit)
	// Concurrent scans skip each other's claimed rows instead of
	// queueing behind them.
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
