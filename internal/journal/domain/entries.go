package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Entry factories. Every factory produces a balanced line set by
// construction; Post re-validates anyway and treats a failure here as a
// programming defect.

// signedLine books the amount on the account's natural side; a negative
// amount lands on the opposite side. Credit-memo invoices stay balanced
// without ever producing negative cents.
func signedLine(account Account, amountCents int64, debitNatural bool) (Line, bool) {
	if amountCents == 0 {
		return Line{}, false
	}
	debit := debitNatural == (amountCents > 0)
	if amountCents < 0 {
		amountCents = -amountCents
	}
	if debit {
		return Line{Account: account, DebitCents: amountCents}, true
	}
	return Line{Account: account, CreditCents: amountCents}, true
}

// BillingEntry records a finalized invoice: receivable moves by the total,
// revenue by the subtotal, tax liability by the tax. A net-credit invoice
// mirrors each amount onto the opposite side, so a refund-heavy period
// posts as a credit memo instead of being rejected.
func BillingEntry(customerID, invoiceID snowflake.ID, subtotalCents, taxCents int64, issuedAt time.Time) PostRequest {
	lines := make([]Line, 0, 3)
	if line, ok := signedLine(AccountReceivable, subtotalCents+taxCents, true); ok {
		lines = append(lines, line)
	}
	if line, ok := signedLine(AccountRevenue, subtotalCents, false); ok {
		lines = append(lines, line)
	}
	if line, ok := signedLine(AccountTaxPayable, taxCents, false); ok {
		lines = append(lines, line)
	}
	return PostRequest{
		Type:            EntryTypeBilling,
		SourceType:      SourceTypeInvoice,
		SourceID:        invoiceID,
		CustomerID:      customerID,
		TransactionDate: issuedAt,
		Memo:            "subscription billing",
		Lines:           lines,
	}
}

// PaymentEntry records cash received against a receivable. A negative
// amount is cash going back out, settling a credit memo.
func PaymentEntry(customerID, paymentID snowflake.ID, amountCents int64, receivedAt time.Time) PostRequest {
	lines := make([]Line, 0, 2)
	if line, ok := signedLine(AccountCash, amountCents, true); ok {
		lines = append(lines, line)
	}
	if line, ok := signedLine(AccountReceivable, -amountCents, true); ok {
		lines = append(lines, line)
	}
	return PostRequest{
		Type:            EntryTypePayment,
		SourceType:      SourceTypePayment,
		SourceID:        paymentID,
		CustomerID:      customerID,
		TransactionDate: receivedAt,
		Memo:            "payment received",
		Lines:           lines,
	}
}

// AdjustmentEntry records a standalone charge or credit. amountCents is
// signed: positive charges the customer, negative credits them with the
// mirrored pair.
func AdjustmentEntry(customerID, adjustmentID snowflake.ID, amountCents int64, occurredAt time.Time) PostRequest {
	var lines []Line
	if amountCents >= 0 {
		lines = []Line{
			{Account: AccountReceivable, DebitCents: amountCents},
			{Account: AccountRevenue, CreditCents: amountCents},
		}
	} else {
		credit := -amountCents
		lines = []Line{
			{Account: AccountAdjustmentExpense, DebitCents: credit},
			{Account: AccountCustomerCredit, CreditCents: credit},
		}
	}
	return PostRequest{
		Type:            EntryTypeAdjustment,
		SourceType:      SourceTypeAdjustment,
		SourceID:        adjustmentID,
		CustomerID:      customerID,
		TransactionDate: occurredAt,
		Memo:            "adjustment",
		Lines:           lines,
	}
}
