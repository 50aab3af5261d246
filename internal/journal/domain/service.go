package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Line is the unbound form of a journal line used when building an entry.
type Line struct {
	Account     Account
	DebitCents  int64
	CreditCents int64
}

type PostRequest struct {
	Type            EntryType
	SourceType      SourceType
	SourceID        snowflake.ID
	CustomerID      snowflake.ID
	TransactionDate time.Time
	Memo            string
	Lines           []Line
}

type Service interface {
	// Post validates and writes a balanced entry in one transaction,
	// DRAFT state is never observable. Re-posting the same
	// (SourceType, SourceID) is a no-op returning the existing entry.
	// When tx is non-nil the write joins the caller's transaction.
	Post(ctx context.Context, tx *gorm.DB, req PostRequest) (*JournalEntry, error)
	// Reverse posts the swapped-lines mirror of a POSTED entry and links
	// both sides. The original becomes REVERSED; it is never deleted.
	// When tx is non-nil the reversal joins the caller's transaction.
	Reverse(ctx context.Context, tx *gorm.DB, entryID snowflake.ID, reason string) (*JournalEntry, error)
	GetByID(ctx context.Context, entryID snowflake.ID) (*JournalEntry, []JournalLine, error)
	// FindBySource resolves the entry posted for a source record, nil
	// when none exists.
	FindBySource(ctx context.Context, sourceType SourceType, sourceID snowflake.ID) (*JournalEntry, error)
	// TrialBalance aggregates debits/credits per account over entries
	// whose transaction date falls in [start, end).
	TrialBalance(ctx context.Context, start, end time.Time) ([]AccountBalance, error)
}

var (
	ErrEmptyEntry      = fmt.Errorf("%w: journal entry has no lines", errdefs.ErrValidation)
	ErrInvalidLine     = fmt.Errorf("%w: journal line must have exactly one non-zero side", errdefs.ErrValidation)
	ErrNegativeAmount  = fmt.Errorf("%w: journal amounts cannot be negative", errdefs.ErrValidation)
	ErrInvalidSource   = fmt.Errorf("%w: journal entry source is required", errdefs.ErrValidation)
	ErrImbalanced      = fmt.Errorf("%w: debits do not equal credits", errdefs.ErrImbalancedLedger)
	ErrEntryNotFound   = fmt.Errorf("%w: journal entry", errdefs.ErrNotFound)
	ErrNotPosted       = fmt.Errorf("%w: entry is not posted", errdefs.ErrStateConflict)
	ErrAlreadyReversed = fmt.Errorf("%w: entry already reversed", errdefs.ErrStateConflict)
	ErrEntryImmutable  = fmt.Errorf("%w: posted entry cannot be modified", errdefs.ErrImmutableRecord)
)

// ValidateBalanced checks the double-entry invariant for a line set.
func ValidateBalanced(lines []Line) error {
	if len(lines) == 0 {
		return ErrEmptyEntry
	}
	var debits, credits int64
	for _, line := range lines {
		if line.DebitCents < 0 || line.CreditCents < 0 {
			return ErrNegativeAmount
		}
		if (line.DebitCents == 0) == (line.CreditCents == 0) {
			return ErrInvalidLine
		}
		debits += line.DebitCents
		credits += line.CreditCents
	}
	if debits != credits {
		return fmt.Errorf("%w: debit %d credit %d", ErrImbalanced, debits, credits)
	}
	return nil
}
