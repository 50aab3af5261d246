package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
)

type AssembleRequest struct {
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

type Service interface {
	// Assemble builds a DRAFT invoice for the period: one subscription
	// line per plan segment, pending adjustments folded in and marked
	// applied, tax computed over taxable lines. All in one transaction.
	Assemble(ctx context.Context, req AssembleRequest) (*Invoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, []LineItem, error)
	// AddLineItem appends a manual line to a DRAFT invoice and
	// recomputes the totals. Non-DRAFT invoices are immutable.
	AddLineItem(ctx context.Context, invoiceID snowflake.ID, line LineItem) (*Invoice, error)
	// Finalize assigns the invoice number, stamps issue and due dates,
	// and posts the billing journal entry in the same transaction.
	Finalize(ctx context.Context, id snowflake.ID) (*Invoice, error)
	// MarkPaid transitions FINAL to PAID and posts the payment entry.
	MarkPaid(ctx context.Context, id snowflake.ID, paymentReference string) (*Invoice, error)
	// Cancel voids a DRAFT or FINAL invoice. Cancelling a FINAL invoice
	// reverses its journal entry; the entry itself is never deleted.
	Cancel(ctx context.Context, id snowflake.ID, reason string) error
}

var (
	ErrNotFound       = fmt.Errorf("%w: invoice", errdefs.ErrNotFound)
	ErrEmptyPeriod    = fmt.Errorf("%w: invoice period is empty", errdefs.ErrValidation)
	ErrNoPlanCoverage = fmt.Errorf("%w: no plan covers the invoice period", errdefs.ErrValidation)
	ErrNotDraft       = fmt.Errorf("%w: invoice is not a draft", errdefs.ErrStateConflict)
	ErrNotFinal       = fmt.Errorf("%w: invoice is not finalized", errdefs.ErrStateConflict)
	ErrImmutable      = fmt.Errorf("%w: finalized invoice cannot change", errdefs.ErrImmutableRecord)
)
