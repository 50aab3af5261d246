// Package domain contains the append-only plan change audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ChangeType classifies a plan transition.
type ChangeType string

const (
	ChangeTypeInitial      ChangeType = "initial"
	ChangeTypeUpgrade      ChangeType = "upgrade"
	ChangeTypeDowngrade    ChangeType = "downgrade"
	ChangeTypeCancellation ChangeType = "cancellation"
	ChangeTypeReactivation ChangeType = "reactivation"
)

// PlanChangeRecord is one row of the audit trail. Rows are never updated
// except to set EffectiveTo when the next record supersedes them; at most
// one record per subscription is open (EffectiveTo == nil).
type PlanChangeRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID  `gorm:"not null;index" json:"subscription_id"`
	OldPlanID      *snowflake.ID `gorm:"index" json:"old_plan_id,omitempty"`
	NewPlanID      snowflake.ID  `gorm:"not null;index" json:"new_plan_id"`
	ChangeType     ChangeType    `gorm:"type:text;not null" json:"change_type"`
	ChangedAt      time.Time     `gorm:"not null" json:"changed_at"`
	EffectiveFrom  time.Time     `gorm:"not null;index" json:"effective_from"`
	EffectiveTo    *time.Time    `gorm:"index" json:"effective_to,omitempty"`
	ProrationCents int64         `gorm:"not null;default:0" json:"proration_cents"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PlanChangeRecord) TableName() string { return "plan_change_records" }
