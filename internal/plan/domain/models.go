// Package domain contains the plan catalog models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanStatus marks whether a plan can be sold.
type PlanStatus string

const (
	PlanStatusActive  PlanStatus = "active"
	PlanStatusRetired PlanStatus = "retired"
)

// Plan is static reference data. The price is immutable per plan id; a price
// change retires this row and creates a new plan (see Service.Supersede).
type Plan struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	Code              string        `gorm:"type:text;not null;index" json:"code"`
	Name              string        `gorm:"type:text;not null" json:"name"`
	MonthlyPriceCents int64         `gorm:"not null" json:"monthly_price_cents"`
	AutoRenewAllowed  bool          `gorm:"not null;default:true" json:"auto_renew_allowed"`
	Status            PlanStatus    `gorm:"type:text;not null;default:'active'" json:"status"`
	SupersededByID    *snowflake.ID `gorm:"index" json:"superseded_by_id,omitempty"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }
