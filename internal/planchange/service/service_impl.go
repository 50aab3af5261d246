package service

import (
	"context"
	"time"

	"github.com/broadbandx/billing/internal/clock"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p Params) planchangedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("planchange.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) RecordChange(ctx context.Context, tx *gorm.DB, req planchangedomain.RecordChangeRequest) (*planchangedomain.PlanChangeRecord, error) {
	if req.SubscriptionID == 0 {
		return nil, planchangedomain.ErrInvalidSubscription
	}
	if req.NewPlanID == 0 && req.ChangeType != planchangedomain.ChangeTypeCancellation {
		return nil, planchangedomain.ErrInvalidPlan
	}
	if req.EffectiveFrom.IsZero() {
		return nil, planchangedomain.ErrInvalidEffectiveFrom
	}

	record := &planchangedomain.PlanChangeRecord{
		ID:             s.genID.Generate(),
		SubscriptionID: req.SubscriptionID,
		NewPlanID:      req.NewPlanID,
		ChangeType:     req.ChangeType,
		ChangedAt:      s.clock.Now(),
		EffectiveFrom:  req.EffectiveFrom.UTC(),
		ProrationCents: req.ProrationCents,
	}

	write := func(tx *gorm.DB) error {
		open, err := s.findOpenForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if open != nil {
			if record.EffectiveFrom.Before(open.EffectiveFrom) {
				return planchangedomain.ErrEffectiveFromRegress
			}
			record.OldPlanID = &open.NewPlanID
			// Close the superseded record; the only permitted mutation
			// of an existing row.
			if err := tx.WithContext(ctx).Exec(
				`UPDATE plan_change_records SET effective_to = ? WHERE id = ? AND effective_to IS NULL`,
				record.EffectiveFrom,
				open.ID,
			).Error; err != nil {
				return err
			}
		}
		return tx.WithContext(ctx).Create(record).Error
	}

	var err error
	if tx != nil {
		err = write(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(write)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("plan change recorded",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("change_type", string(req.ChangeType)),
		zap.Int64("proration_cents", req.ProrationCents),
	)
	return record, nil
}

func (s *Service) FindCurrentPlan(ctx context.Context, subscriptionID snowflake.ID) (*planchangedomain.PlanChangeRecord, error) {
	var record planchangedomain.PlanChangeRecord
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND effective_to IS NULL", subscriptionID).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) FindInPeriod(ctx context.Context, subscriptionID snowflake.ID, start, end time.Time) ([]planchangedomain.PlanChangeRecord, error) {
	var records []planchangedomain.PlanChangeRecord
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND effective_from < ? AND (effective_to IS NULL OR effective_to > ?)",
			subscriptionID, end.UTC(), start.UTC()).
		Order("effective_from ASC").
		Find(&records).Error
	return records, err
}

func (s *Service) CloseOpen(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, at time.Time) error {
	if subscriptionID == 0 {
		return planchangedomain.ErrInvalidSubscription
	}
	run := s.db
	if tx != nil {
		run = tx
	}
	return run.WithContext(ctx).Exec(
		`UPDATE plan_change_records SET effective_to = ? WHERE subscription_id = ? AND effective_to IS NULL`,
		at.UTC(),
		subscriptionID,
	).Error
}

func (s *Service) History(ctx context.Context, subscriptionID snowflake.ID) ([]planchangedomain.PlanChangeRecord, error) {
	var records []planchangedomain.PlanChangeRecord
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("effective_from DESC").
		Find(&records).Error
	return records, err
}

func (s *Service) findOpenForUpdate(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*planchangedomain.PlanChangeRecord, error) {
	var records []planchangedomain.PlanChangeRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM plan_change_records
		 WHERE subscription_id = ? AND effective_to IS NULL
		 ORDER BY effective_from DESC
		 LIMIT 1`,
		subscriptionID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}
