// Package domain contains the subscription lifecycle model. Status moves
// through active -> grace_period -> suspended on payment failure, or to
// cancelled/expired on explicit exit; money side effects of every
// transition land in the plan change ledger and the journal.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	StatusActive      SubscriptionStatus = "active"
	StatusGracePeriod SubscriptionStatus = "grace_period"
	StatusSuspended   SubscriptionStatus = "suspended"
	StatusCancelled   SubscriptionStatus = "cancelled"
	StatusExpired     SubscriptionStatus = "expired"
)

// Subscription binds a customer to a plan over monthly billing periods.
// BillingAnchor is always UTC midnight; period boundaries derive from it.
// Version is bumped on every lifecycle write and guards against lost
// updates from concurrent scans and API calls.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	CustomerID         snowflake.ID       `gorm:"not null;index" json:"customer_id"`
	PlanID             snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	Status             SubscriptionStatus `gorm:"type:text;not null;default:'active';index" json:"status"`
	BillingAnchor      time.Time          `gorm:"not null" json:"billing_anchor"`
	CurrentPeriodStart time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `gorm:"not null;index" json:"current_period_end"`
	NextBillingAt      time.Time          `gorm:"not null" json:"next_billing_at"`
	GracePeriodEnd     *time.Time         `gorm:"index" json:"grace_period_end,omitempty"`
	// No column default: gorm skips zero-valued fields that carry one on
	// insert, which would turn an opt-out into auto_renew = true.
	AutoRenew          bool               `gorm:"not null" json:"auto_renew"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	LastRenewalError   *string            `gorm:"type:text" json:"last_renewal_error,omitempty"`
	Version            int64              `gorm:"not null;default:1" json:"version"`
	Metadata           datatypes.JSONMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
