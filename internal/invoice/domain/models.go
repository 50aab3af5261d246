// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states. DRAFT invoices are
// mutable; once FINAL the monetary fields never change again.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusFinal     InvoiceStatus = "FINAL"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// LineType tags what a line item is. Period fields are only meaningful on
// period-bound types (SUBSCRIPTION, PRORATION, USAGE); AdjustmentID only on
// ADJUSTMENT lines.
type LineType string

const (
	LineTypeSubscription LineType = "SUBSCRIPTION"
	LineTypeProration    LineType = "PRORATION"
	LineTypeAdjustment   LineType = "ADJUSTMENT"
	LineTypeUsage        LineType = "USAGE"
	LineTypeOneTime      LineType = "ONE_TIME"
	LineTypeDiscount     LineType = "DISCOUNT"
	LineTypeTax          LineType = "TAX"
	LineTypeFee          LineType = "FEE"
)

// Invoice represents one billing period's charges for a subscription.
// Number is assigned at finalize time, never at assembly, so cancelled
// drafts leave no gaps in the sequence.
type Invoice struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	Number           *string           `gorm:"type:text;uniqueIndex" json:"number,omitempty"`
	SubscriptionID   snowflake.ID      `gorm:"not null;index" json:"subscription_id"`
	CustomerID       snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	PeriodStart      time.Time         `gorm:"not null" json:"period_start"`
	PeriodEnd        time.Time         `gorm:"not null" json:"period_end"`
	SubtotalCents    int64             `gorm:"not null;default:0" json:"subtotal_cents"`
	TaxCents         int64             `gorm:"not null;default:0" json:"tax_cents"`
	TotalCents       int64             `gorm:"not null;default:0" json:"total_cents"`
	Status           InvoiceStatus     `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	IssuedAt         *time.Time        `json:"issued_at,omitempty"`
	DueAt            *time.Time        `json:"due_at,omitempty"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	PaymentReference *string           `gorm:"type:text" json:"payment_reference,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// LineItem represents a line on an invoice.
type LineItem struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	InvoiceID      snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	LineNumber     int           `gorm:"not null" json:"line_number"`
	Type           LineType      `gorm:"type:text;not null" json:"type"`
	Description    string        `gorm:"type:text;not null" json:"description"`
	Quantity       int64         `gorm:"not null;default:1" json:"quantity"`
	UnitPriceCents int64         `gorm:"not null" json:"unit_price_cents"`
	TotalCents     int64         `gorm:"not null" json:"total_cents"`
	Taxable        bool          `gorm:"not null;default:false" json:"taxable"`
	PeriodStart    *time.Time    `json:"period_start,omitempty"`
	PeriodEnd      *time.Time    `json:"period_end,omitempty"`
	AdjustmentID   *snowflake.ID `gorm:"index" json:"adjustment_id,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

// InvoiceSequence holds one monotonic counter per calendar year. The row is
// bumped inside the finalize transaction so numbers are never reused.
type InvoiceSequence struct {
	Year       int   `gorm:"primaryKey" json:"year"`
	NextNumber int64 `gorm:"not null;default:0" json:"next_number"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }
