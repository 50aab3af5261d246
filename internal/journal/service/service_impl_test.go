package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/broadbandx/billing/internal/clock"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupJournalTest(t *testing.T) (*gorm.DB, *Service, *snowflake.Node) {
	// A plain ":memory:" DSN gives every pooled connection its own empty
	// database; the shared-cache form keeps the pool on one schema.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.AutoMigrate(
		&journaldomain.JournalEntry{},
		&journaldomain.JournalLine{},
		&journaldomain.JournalSequence{},
	))

	node, _ := snowflake.NewNode(1)
	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	}
	return db, svc, node
}

func TestPost_BillingEntryBalanced(t *testing.T) {
	db, svc, node := setupJournalTest(t)
	ctx := context.Background()

	customerID := node.Generate()
	invoiceID := node.Generate()
	req := journaldomain.BillingEntry(customerID, invoiceID, 50000, 5500, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	entry, err := svc.Post(ctx, nil, req)
	require.NoError(t, err)
	assert.Equal(t, journaldomain.EntryStatusPosted, entry.Status)
	assert.Equal(t, int64(1), entry.EntryNumber)

	var lines []journaldomain.JournalLine
	db.Where("entry_id = ?", entry.ID).Find(&lines)
	require.Len(t, lines, 3)

	var debits, credits int64
	for _, line := range lines {
		debits += line.DebitCents
		credits += line.CreditCents
	}
	assert.Equal(t, debits, credits)
	assert.Equal(t, int64(55500), debits)
}

func TestPost_NetCreditBillingEntryBalances(t *testing.T) {
	db, svc, node := setupJournalTest(t)
	ctx := context.Background()

	// Credits exceeding the period charge: subtotal -20000, tax 3000 on
	// the taxable portion, total -17000. The entry books each amount on
	// the opposite side instead of rejecting negative cents.
	req := journaldomain.BillingEntry(node.Generate(), node.Generate(), -20000, 3000, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	entry, err := svc.Post(ctx, nil, req)
	require.NoError(t, err)
	assert.Equal(t, journaldomain.EntryStatusPosted, entry.Status)

	var lines []journaldomain.JournalLine
	db.Where("entry_id = ?", entry.ID).Find(&lines)
	require.Len(t, lines, 3)

	byAccount := map[journaldomain.Account]journaldomain.JournalLine{}
	var debits, credits int64
	for _, line := range lines {
		byAccount[line.Account] = line
		debits += line.DebitCents
		credits += line.CreditCents
	}
	assert.Equal(t, debits, credits)
	assert.Equal(t, int64(17000), byAccount[journaldomain.AccountReceivable].CreditCents)
	assert.Equal(t, int64(20000), byAccount[journaldomain.AccountRevenue].DebitCents)
	assert.Equal(t, int64(3000), byAccount[journaldomain.AccountTaxPayable].CreditCents)
}

func TestPost_EntryNumbersAreSequential(t *testing.T) {
	_, svc, node := setupJournalTest(t)
	ctx := context.Background()

	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	first, err := svc.Post(ctx, nil, journaldomain.BillingEntry(node.Generate(), node.Generate(), 10000, 0, date))
	require.NoError(t, err)
	second, err := svc.Post(ctx, nil, journaldomain.PaymentEntry(node.Generate(), node.Generate(), 10000, date))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.EntryNumber)
	assert.Equal(t, int64(2), second.EntryNumber)
}

func TestPost_IdempotentPerSource(t *testing.T) {
	db, svc, node := setupJournalTest(t)
	ctx := context.Background()

	req := journaldomain.PaymentEntry(node.Generate(), node.Generate(), 10000, time.Now().UTC())

	first, err := svc.Post(ctx, nil, req)
	require.NoError(t, err)
	second, err := svc.Post(ctx, nil, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	db.Model(&journaldomain.JournalEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPost_RejectsImbalancedEntry(t *testing.T) {
	db, svc, node := setupJournalTest(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, journaldomain.PostRequest{
		Type:       journaldomain.EntryTypeBilling,
		SourceType: journaldomain.SourceTypeInvoice,
		SourceID:   node.Generate(),
		CustomerID: node.Generate(),
		Lines: []journaldomain.Line{
			{Account: journaldomain.AccountReceivable, DebitCents: 100},
			{Account: journaldomain.AccountRevenue, CreditCents: 99},
		},
	})
	assert.ErrorIs(t, err, errdefs.ErrImbalancedLedger)

	// Nothing partially posted.
	var count int64
	db.Model(&journaldomain.JournalEntry{}).Count(&count)
	assert.Zero(t, count)
}

func TestPost_RejectsEmptyAndTwoSidedLines(t *testing.T) {
	_, svc, node := setupJournalTest(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, nil, journaldomain.PostRequest{
		Type:       journaldomain.EntryTypeBilling,
		SourceType: journaldomain.SourceTypeInvoice,
		SourceID:   node.Generate(),
	})
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = svc.Post(ctx, nil, journaldomain.PostRequest{
		Type:       journaldomain.EntryTypeBilling,
		SourceType: journaldomain.SourceTypeInvoice,
		SourceID:   node.Generate(),
		Lines: []journaldomain.Line{
			{Account: journaldomain.AccountReceivable, DebitCents: 100, CreditCents: 100},
			{Account: journaldomain.AccountRevenue, CreditCents: 0},
		},
	})
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestReverse_SwapsSidesAndLinksBothWays(t *testing.T) {
	db, svc, node := setupJournalTest(t)
	ctx := context.Background()

	entry, err := svc.Post(ctx, nil, journaldomain.BillingEntry(node.Generate(), node.Generate(), 20000, 0, time.Now().UTC()))
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, nil, entry.ID, "billing error")
	require.NoError(t, err)
	assert.Equal(t, journaldomain.EntryStatusPosted, reversal.Status)
	require.NotNil(t, reversal.ReversesEntryID)
	assert.Equal(t, entry.ID, *reversal.ReversesEntryID)

	var original journaldomain.JournalEntry
	require.NoError(t, db.First(&original, "id = ?", entry.ID).Error)
	assert.Equal(t, journaldomain.EntryStatusReversed, original.Status)
	require.NotNil(t, original.ReversedByEntryID)
	assert.Equal(t, reversal.ID, *original.ReversedByEntryID)

	var originalLines, reversalLines []journaldomain.JournalLine
	db.Where("entry_id = ?", entry.ID).Order("id").Find(&originalLines)
	db.Where("entry_id = ?", reversal.ID).Order("id").Find(&reversalLines)
	require.Len(t, reversalLines, len(originalLines))
	for i := range originalLines {
		assert.Equal(t, originalLines[i].Account, reversalLines[i].Account)
		assert.Equal(t, originalLines[i].DebitCents, reversalLines[i].CreditCents)
		assert.Equal(t, originalLines[i].CreditCents, reversalLines[i].DebitCents)
	}
}

func TestReverse_RejectsDoubleReversal(t *testing.T) {
	_, svc, node := setupJournalTest(t)
	ctx := context.Background()

	entry, err := svc.Post(ctx, nil, journaldomain.PaymentEntry(node.Generate(), node.Generate(), 5000, time.Now().UTC()))
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, nil, entry.ID, "first")
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, nil, entry.ID, "second")
	assert.ErrorIs(t, err, errdefs.ErrStateConflict)
}

func TestTrialBalance_AggregatesPerAccount(t *testing.T) {
	_, svc, node := setupJournalTest(t)
	ctx := context.Background()

	date := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	_, err := svc.Post(ctx, nil, journaldomain.BillingEntry(node.Generate(), node.Generate(), 50000, 5000, date))
	require.NoError(t, err)
	_, err = svc.Post(ctx, nil, journaldomain.PaymentEntry(node.Generate(), node.Generate(), 55000, date))
	require.NoError(t, err)

	balances, err := svc.TrialBalance(ctx,
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	byAccount := map[journaldomain.Account]journaldomain.AccountBalance{}
	var totalDebit, totalCredit int64
	for _, b := range balances {
		byAccount[b.Account] = b
		totalDebit += b.DebitCents
		totalCredit += b.CreditCents
	}

	assert.Equal(t, totalDebit, totalCredit)
	assert.Equal(t, int64(55000), byAccount[journaldomain.AccountReceivable].DebitCents)
	assert.Equal(t, int64(55000), byAccount[journaldomain.AccountReceivable].CreditCents)
	assert.Equal(t, int64(50000), byAccount[journaldomain.AccountRevenue].CreditCents)
	assert.Equal(t, int64(5000), byAccount[journaldomain.AccountTaxPayable].CreditCents)
	assert.Equal(t, int64(55000), byAccount[journaldomain.AccountCash].DebitCents)
}

func TestTrialBalance_NetsOutAfterReversal(t *testing.T) {
	_, svc, node := setupJournalTest(t)
	ctx := context.Background()

	date := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	entry, err := svc.Post(ctx, nil, journaldomain.BillingEntry(node.Generate(), node.Generate(), 30000, 0, date))
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, nil, entry.ID, "correction")
	require.NoError(t, err)

	balances, err := svc.TrialBalance(ctx,
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	for _, b := range balances {
		assert.Equal(t, b.DebitCents, b.CreditCents, "account %s should net to zero", b.Account)
	}
}
