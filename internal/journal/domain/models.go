// Package domain contains the double-entry journal models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryStatus tracks the journal entry lifecycle. Entries are immutable once
// POSTED except for the reversal linkage.
type EntryStatus string

const (
	EntryStatusDraft    EntryStatus = "DRAFT"
	EntryStatusPosted   EntryStatus = "POSTED"
	EntryStatusReversed EntryStatus = "REVERSED"
)

// EntryType classifies the money-moving event behind an entry.
type EntryType string

const (
	EntryTypeBilling    EntryType = "billing"
	EntryTypePayment    EntryType = "payment"
	EntryTypeAdjustment EntryType = "adjustment"
	EntryTypeRefund     EntryType = "refund"
	EntryTypeReversal   EntryType = "reversal"
)

// SourceType identifies the record an entry was posted for; together with
// SourceID it makes posting idempotent.
type SourceType string

const (
	SourceTypeInvoice    SourceType = "invoice"
	SourceTypePayment    SourceType = "payment"
	SourceTypeAdjustment SourceType = "adjustment"
	SourceTypeReversal   SourceType = "reversal"
)

// Account is the fixed chart of accounts for the billing subledger.
type Account string

const (
	AccountReceivable        Account = "accounts_receivable"
	AccountCash              Account = "cash"
	AccountRevenue           Account = "revenue"
	AccountTaxPayable        Account = "tax_payable"
	AccountCustomerCredit    Account = "customer_credit"
	AccountAdjustmentExpense Account = "adjustment_expense"
)

// JournalEntry is the immutable header for a financial event.
type JournalEntry struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	EntryNumber       int64         `gorm:"not null;uniqueIndex" json:"entry_number"`
	Type              EntryType     `gorm:"type:text;not null" json:"type"`
	SourceType        SourceType    `gorm:"type:text;not null;uniqueIndex:ux_journal_source,priority:1" json:"source_type"`
	SourceID          snowflake.ID  `gorm:"not null;uniqueIndex:ux_journal_source,priority:2" json:"source_id"`
	CustomerID        snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	Status            EntryStatus   `gorm:"type:text;not null" json:"status"`
	TransactionDate   time.Time     `gorm:"not null;index" json:"transaction_date"`
	Memo              string        `gorm:"type:text" json:"memo"`
	ReversesEntryID   *snowflake.ID `gorm:"index" json:"reverses_entry_id,omitempty"`
	ReversedByEntryID *snowflake.ID `gorm:"index" json:"reversed_by_entry_id,omitempty"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (JournalEntry) TableName() string { return "journal_entries" }

// JournalLine is one side of a posting. Exactly one of DebitCents and
// CreditCents is non-zero.
type JournalLine struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	EntryID     snowflake.ID `gorm:"not null;index" json:"entry_id"`
	Account     Account      `gorm:"type:text;not null;index" json:"account"`
	DebitCents  int64        `gorm:"not null;default:0" json:"debit_cents"`
	CreditCents int64        `gorm:"not null;default:0" json:"credit_cents"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (JournalLine) TableName() string { return "journal_lines" }

// JournalSequence is the single-row counter behind entry numbers. The bump
// runs inside the posting transaction, so concurrent posts serialize on the
// row instead of racing into the unique index.
type JournalSequence struct {
	ID         int   `gorm:"primaryKey" json:"id"`
	NextNumber int64 `gorm:"not null;default:0" json:"next_number"`
}

// TableName sets the database table name.
func (JournalSequence) TableName() string { return "journal_sequences" }

// AccountBalance is one row of a trial balance.
type AccountBalance struct {
	Account     Account `json:"account"`
	DebitCents  int64   `json:"debit_cents"`
	CreditCents int64   `json:"credit_cents"`
}
