// Package proration computes partial-period charge and credit amounts in
// integer cents. It is a pure package: callers wrap results in adjustments
// or invoice lines, nothing here touches persisted state.
package proration

import (
	"fmt"
	"math"

	"github.com/broadbandx/billing/pkg/errdefs"
)

// Prorate returns the signed delta in cents for switching from oldPriceCents
// to newPriceCents with daysRemaining of totalDays left in the period.
// Positive is a charge, negative a credit. Rounding is half away from zero
// to the nearest cent. daysRemaining == 0 means the change takes effect at
// the next cycle and yields zero.
func Prorate(oldPriceCents, newPriceCents int64, daysRemaining, totalDays int) (int64, error) {
	if totalDays <= 0 {
		return 0, fmt.Errorf("%w: total days must be positive", errdefs.ErrValidation)
	}
	if daysRemaining < 0 {
		return 0, fmt.Errorf("%w: days remaining cannot be negative", errdefs.ErrValidation)
	}
	if daysRemaining > totalDays {
		return 0, fmt.Errorf("%w: days remaining exceeds period length", errdefs.ErrValidation)
	}
	if daysRemaining == 0 {
		return 0, nil
	}

	delta := newPriceCents - oldPriceCents
	return RoundHalfAway(float64(delta) * float64(daysRemaining) / float64(totalDays)), nil
}

// RemainingCredit returns the unused portion of priceCents for an immediate
// cancellation, always non-negative.
func RemainingCredit(priceCents int64, daysRemaining, totalDays int) (int64, error) {
	if priceCents < 0 {
		return 0, fmt.Errorf("%w: price cannot be negative", errdefs.ErrValidation)
	}
	credit, err := Prorate(0, priceCents, daysRemaining, totalDays)
	if err != nil {
		return 0, err
	}
	return credit, nil
}

// SegmentCharge returns the charge for a plan segment spanning segmentDays
// of a totalDays period, used by invoice assembly to split a period across
// plans.
func SegmentCharge(priceCents int64, segmentDays, totalDays int) (int64, error) {
	return Prorate(0, priceCents, segmentDays, totalDays)
}

// RoundHalfAway rounds to the nearest cent, half away from zero. Shared by
// invoice tax computation so every monetary rounding in the system agrees.
func RoundHalfAway(raw float64) int64 {
	if raw >= 0 {
		return int64(math.Floor(raw + 0.5))
	}
	return int64(math.Ceil(raw - 0.5))
}
