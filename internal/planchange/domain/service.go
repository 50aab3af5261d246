package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RecordChangeRequest struct {
	SubscriptionID snowflake.ID
	NewPlanID      snowflake.ID
	ChangeType     ChangeType
	EffectiveFrom  time.Time
	ProrationCents int64
}

type Service interface {
	// RecordChange closes the subscription's open record (if any) at
	// req.EffectiveFrom and appends the new one in a single transaction.
	// When tx is non-nil the write joins the caller's transaction.
	RecordChange(ctx context.Context, tx *gorm.DB, req RecordChangeRequest) (*PlanChangeRecord, error)
	// FindCurrentPlan returns the open record, nil when the subscription
	// has no plan history.
	FindCurrentPlan(ctx context.Context, subscriptionID snowflake.ID) (*PlanChangeRecord, error)
	// FindInPeriod returns records overlapping [start, end) ordered by
	// EffectiveFrom, used to split an invoice period across plans.
	FindInPeriod(ctx context.Context, subscriptionID snowflake.ID, start, end time.Time) ([]PlanChangeRecord, error)
	// CloseOpen closes the open record at the given time without
	// appending a successor, the terminal write for a cancellation.
	CloseOpen(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, at time.Time) error
	// History returns the full trail, newest first.
	History(ctx context.Context, subscriptionID snowflake.ID) ([]PlanChangeRecord, error)
}

var (
	ErrInvalidSubscription  = fmt.Errorf("%w: invalid_subscription", errdefs.ErrValidation)
	ErrInvalidPlan          = fmt.Errorf("%w: invalid_plan", errdefs.ErrValidation)
	ErrInvalidEffectiveFrom = fmt.Errorf("%w: invalid_effective_from", errdefs.ErrValidation)
	ErrEffectiveFromRegress = fmt.Errorf("%w: effective_from_before_open_record", errdefs.ErrStateConflict)
)
