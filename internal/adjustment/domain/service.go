package domain

import (
	"context"
	"fmt"

	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateRequest struct {
	SubscriptionID snowflake.ID
	AmountCents    int64
	Reason         string
	// IdempotencyKey makes a retried create return the original record
	// instead of a duplicate. Optional.
	IdempotencyKey string
}

type Service interface {
	// Create persists a pending adjustment. A repeated call with the same
	// idempotency key resolves transparently to the existing record; the
	// caller never sees a conflict. When tx is non-nil the write joins
	// the caller's transaction.
	Create(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Adjustment, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Adjustment, error)
	// ListPending returns pending adjustments for a subscription, oldest
	// first, for invoice assembly. With tx non-nil rows are locked for
	// the caller's transaction.
	ListPending(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) ([]Adjustment, error)
	// ApplyToInvoice transitions pending -> applied and stamps the
	// invoice id. Non-pending adjustments are rejected.
	ApplyToInvoice(ctx context.Context, tx *gorm.DB, adjustmentID, invoiceID snowflake.ID) error
	// Cancel is only valid while pending.
	Cancel(ctx context.Context, id snowflake.ID) error
}

var (
	ErrNotFound            = fmt.Errorf("%w: adjustment", errdefs.ErrNotFound)
	ErrInvalidSubscription = fmt.Errorf("%w: invalid subscription", errdefs.ErrValidation)
	ErrZeroAmount          = fmt.Errorf("%w: adjustment amount cannot be zero", errdefs.ErrValidation)
	ErrMissingReason       = fmt.Errorf("%w: adjustment reason is required", errdefs.ErrValidation)
	ErrNotPending          = fmt.Errorf("%w: adjustment is not pending", errdefs.ErrStateConflict)
	ErrApplied             = fmt.Errorf("%w: applied adjustment cannot change", errdefs.ErrImmutableRecord)
)
