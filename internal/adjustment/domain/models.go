// Package domain contains standalone credit/charge adjustments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AdjustmentStatus tracks the adjustment lifecycle. Applied adjustments are
// immutable.
type AdjustmentStatus string

const (
	AdjustmentStatusPending   AdjustmentStatus = "pending"
	AdjustmentStatusApplied   AdjustmentStatus = "applied"
	AdjustmentStatusCancelled AdjustmentStatus = "cancelled"
)

// Adjustment is a standalone credit or charge. AmountCents is signed:
// negative credits the customer. Created by admin action or automatically by
// proration on plan changes.
type Adjustment struct {
	ID                 snowflake.ID     `gorm:"primaryKey" json:"id"`
	SubscriptionID     snowflake.ID     `gorm:"not null;index" json:"subscription_id"`
	AmountCents        int64            `gorm:"not null" json:"amount_cents"`
	Reason             string           `gorm:"type:text;not null" json:"reason"`
	Status             AdjustmentStatus `gorm:"type:text;not null;default:'pending'" json:"status"`
	IdempotencyKey     *string          `gorm:"type:text;uniqueIndex" json:"idempotency_key,omitempty"`
	AppliedToInvoiceID *snowflake.ID    `gorm:"index" json:"applied_to_invoice_id,omitempty"`
	ReminderNotifiedAt *time.Time       `json:"reminder_notified_at,omitempty"`
	CreatedAt          time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Adjustment) TableName() string { return "adjustments" }

// IsCredit reports whether the adjustment reduces what the customer owes.
func (a Adjustment) IsCredit() bool { return a.AmountCents < 0 }
