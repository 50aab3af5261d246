package domain

import (
	"context"

	"github.com/broadbandx/billing/internal/pricing"
)

type CreatePlanRequest struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	MonthlyPriceCents int64  `json:"monthly_price_cents"`
	AutoRenewAllowed  bool   `json:"auto_renew_allowed"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	GetByID(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	// Supersede retires the plan and creates a replacement carrying the new
	// price. Price rows are never mutated in place.
	Supersede(ctx context.Context, id string, newPriceCents int64) (*Plan, error)
	Retire(ctx context.Context, id string) error
	// AdjustedPrice applies the optional dynamic pricing step on top of the
	// catalog price. The ledger is agnostic to how the result was derived.
	AdjustedPrice(ctx context.Context, plan *Plan, signals pricing.Signals) int64
}
