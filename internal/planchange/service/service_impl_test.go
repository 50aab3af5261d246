package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/broadbandx/billing/internal/clock"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedgerTest(t *testing.T) (*gorm.DB, planchangedomain.Service, *snowflake.Node) {
	// A plain ":memory:" DSN gives every pooled connection its own empty
	// database; the shared-cache form keeps the pool on one schema.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.AutoMigrate(&planchangedomain.PlanChangeRecord{}))

	node, _ := snowflake.NewNode(1)
	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	return db, svc, node
}

func TestRecordChange_ClosesPreviousOpenRecord(t *testing.T) {
	db, svc, node := setupLedgerTest(t)
	ctx := context.Background()

	subID := node.Generate()
	planA := node.Generate()
	planB := node.Generate()

	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb15 := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	first, err := svc.RecordChange(ctx, nil, planchangedomain.RecordChangeRequest{
		SubscriptionID: subID,
		NewPlanID:      planA,
		ChangeType:     planchangedomain.ChangeTypeInitial,
		EffectiveFrom:  jan1,
	})
	require.NoError(t, err)
	assert.Nil(t, first.OldPlanID)
	assert.Nil(t, first.EffectiveTo)

	second, err := svc.RecordChange(ctx, nil, planchangedomain.RecordChangeRequest{
		SubscriptionID: subID,
		NewPlanID:      planB,
		ChangeType:     planchangedomain.ChangeTypeUpgrade,
		EffectiveFrom:  feb15,
		ProrationCents: 20000,
	})
	require.NoError(t, err)
	require.NotNil(t, second.OldPlanID)
	assert.Equal(t, planA, *second.OldPlanID)

	// Previous record is closed exactly at the new effective date.
	var prev planchangedomain.PlanChangeRecord
	require.NoError(t, db.First(&prev, "id = ?", first.ID).Error)
	require.NotNil(t, prev.EffectiveTo)
	assert.True(t, prev.EffectiveTo.Equal(feb15))

	// Exactly one open record remains.
	var openCount int64
	db.Model(&planchangedomain.PlanChangeRecord{}).
		Where("subscription_id = ? AND effective_to IS NULL", subID).
		Count(&openCount)
	assert.Equal(t, int64(1), openCount)

	current, err := svc.FindCurrentPlan(ctx, subID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, planB, current.NewPlanID)
}

func TestRecordChange_RejectsRegressingEffectiveFrom(t *testing.T) {
	_, svc, node := setupLedgerTest(t)
	ctx := context.Background()

	subID := node.Generate()
	_, err := svc.RecordChange(ctx, nil, planchangedomain.RecordChangeRequest{
		SubscriptionID: subID,
		NewPlanID:      node.Generate(),
		ChangeType:     planchangedomain.ChangeTypeInitial,
		EffectiveFrom:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = svc.RecordChange(ctx, nil, planchangedomain.RecordChangeRequest{
		SubscriptionID: subID,
		NewPlanID:      node.Generate(),
		ChangeType:     planchangedomain.ChangeTypeUpgrade,
		EffectiveFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, planchangedomain.ErrEffectiveFromRegress)
}

func TestFindInPeriod_ReturnsOverlappingSegments(t *testing.T) {
	_, svc, node := setupLedgerTest(t)
	ctx := context.Background()

	subID := node.Generate()
	planA := node.Generate()
	planB := node.Generate()
	planC := node.Generate()

	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jan16 := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	mar1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, step := range []struct {
		plan snowflake.ID
		kind planchangedomain.ChangeType
		from time.Time
	}{
		{planA, planchangedomain.ChangeTypeInitial, jan1},
		{planB, planchangedomain.ChangeTypeUpgrade, jan16},
		{planC, planchangedomain.ChangeTypeUpgrade, mar1},
	} {
		_, err := svc.RecordChange(ctx, nil, planchangedomain.RecordChangeRequest{
			SubscriptionID: subID,
			NewPlanID:      step.plan,
			ChangeType:     step.kind,
			EffectiveFrom:  step.from,
		})
		require.NoError(t, err)
	}

	// January window overlaps plan A and plan B, not plan C.
	feb1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	records, err := svc.FindInPeriod(ctx, subID, jan1, feb1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, planA, records[0].NewPlanID)
	assert.Equal(t, planB, records[1].NewPlanID)
}
