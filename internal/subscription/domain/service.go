package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/broadbandx/billing/internal/payment"
	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
)

// EffectiveMode controls when a plan change takes effect.
type EffectiveMode string

const (
	EffectiveImmediate EffectiveMode = "immediate"
	EffectiveNextCycle EffectiveMode = "next_cycle"
)

// CancelMode controls when a cancellation takes effect.
type CancelMode string

const (
	CancelImmediate  CancelMode = "immediate"
	CancelEndOfCycle CancelMode = "end_of_billing_cycle"
)

type CreateRequest struct {
	CustomerID snowflake.ID
	PlanID     snowflake.ID
	StartAt    time.Time
	AutoRenew  bool
}

type PlanChangeRequest struct {
	SubscriptionID snowflake.ID
	NewPlanID      snowflake.ID
	Effective      EffectiveMode
}

type CancelRequest struct {
	SubscriptionID snowflake.ID
	Effective      CancelMode
	Reason         string
}

// ScanResult summarizes one batch pass.
type ScanResult struct {
	Claimed   int
	Renewed   int
	Graced    int
	Suspended int
	Expired   int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	// RequestPlanChange switches plans on an active subscription. An
	// immediate change prorates the remaining whole days of the current
	// period into an adjustment and posts its journal entry; next_cycle
	// defers to the period boundary with no proration.
	RequestPlanChange(ctx context.Context, req PlanChangeRequest) (*Subscription, error)
	// Cancel ends the subscription. Immediate cancellation credits the
	// unused remainder of the period back to the customer; end-of-cycle
	// just flags the subscription and the expiry scan retires it.
	Cancel(ctx context.Context, req CancelRequest) (*Subscription, error)
	// Reactivate returns a grace_period subscription to active after a
	// successful late payment.
	Reactivate(ctx context.Context, id snowflake.ID) (*Subscription, error)
	// ProcessExpiryScan renews or graces active subscriptions whose
	// period ended before now. Safe to run concurrently and repeatedly.
	ProcessExpiryScan(ctx context.Context, now time.Time) (ScanResult, error)
	// ProcessGraceScan suspends subscriptions whose grace window closed.
	ProcessGraceScan(ctx context.Context, now time.Time) (ScanResult, error)
	// HandlePaymentEvent applies a verified provider event: captures
	// reactivate a graced subscription, failures push it into grace.
	HandlePaymentEvent(ctx context.Context, event payment.Event) error
}

var (
	ErrNotFound        = fmt.Errorf("%w: subscription", errdefs.ErrNotFound)
	ErrInvalidCustomer = fmt.Errorf("%w: customer is required", errdefs.ErrValidation)
	ErrInvalidStart    = fmt.Errorf("%w: start time is required", errdefs.ErrValidation)
	ErrSamePlan        = fmt.Errorf("%w: subscription already on this plan", errdefs.ErrValidation)
	ErrInvalidMode     = fmt.Errorf("%w: unknown effective mode", errdefs.ErrValidation)
	ErrNotActive       = fmt.Errorf("%w: subscription is not active", errdefs.ErrStateConflict)
	ErrNotInGrace      = fmt.Errorf("%w: subscription is not in grace period", errdefs.ErrStateConflict)
	ErrVersionConflict = fmt.Errorf("%w: subscription was modified concurrently", errdefs.ErrStateConflict)
)
