package service

import (
	"context"
	"strings"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	"github.com/broadbandx/billing/internal/clock"
	obsmetrics "github.com/broadbandx/billing/internal/observability/metrics"
	"github.com/broadbandx/billing/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p Params) adjustmentdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("adjustment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, tx *gorm.DB, req adjustmentdomain.CreateRequest) (*adjustmentdomain.Adjustment, error) {
	if req.SubscriptionID == 0 {
		return nil, adjustmentdomain.ErrInvalidSubscription
	}
	if req.AmountCents == 0 {
		return nil, adjustmentdomain.ErrZeroAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, adjustmentdomain.ErrMissingReason
	}

	run := s.db
	if tx != nil {
		run = tx
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.findByKey(ctx, run, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := s.clock.Now()
	adjustment := &adjustmentdomain.Adjustment{
		ID:             s.genID.Generate(),
		SubscriptionID: req.SubscriptionID,
		AmountCents:    req.AmountCents,
		Reason:         reason,
		Status:         adjustmentdomain.AdjustmentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if key != "" {
		adjustment.IdempotencyKey = &key
	}

	if err := run.WithContext(ctx).Create(adjustment).Error; err != nil {
		// Two concurrent creates with the same key race past the lookup;
		// the unique index decides and the loser returns the winner's row.
		if key != "" && db.IsDuplicateKeyErr(err) {
			return s.findByKey(ctx, run, key)
		}
		return nil, err
	}

	kind := "charge"
	if adjustment.IsCredit() {
		kind = "credit"
	}
	s.metrics.IncAdjustmentCreated(kind)
	s.log.Info("adjustment created",
		zap.String("adjustment_id", adjustment.ID.String()),
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return adjustment, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*adjustmentdomain.Adjustment, error) {
	var adjustment adjustmentdomain.Adjustment
	err := s.db.WithContext(ctx).First(&adjustment, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, adjustmentdomain.ErrNotFound
		}
		return nil, err
	}
	return &adjustment, nil
}

func (s *Service) ListPending(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) ([]adjustmentdomain.Adjustment, error) {
	run := s.db
	if tx != nil {
		run = tx
	}
	var adjustments []adjustmentdomain.Adjustment
	err := run.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, adjustmentdomain.AdjustmentStatusPending).
		Order("created_at ASC, id ASC").
		Find(&adjustments).Error
	return adjustments, err
}

func (s *Service) ApplyToInvoice(ctx context.Context, tx *gorm.DB, adjustmentID, invoiceID snowflake.ID) error {
	run := s.db
	if tx != nil {
		run = tx
	}

	// Conditional update: only a pending row transitions, so two
	// concurrent applies cannot both win.
	result := run.WithContext(ctx).Model(&adjustmentdomain.Adjustment{}).
		Where("id = ? AND status = ?", adjustmentID, adjustmentdomain.AdjustmentStatusPending).
		Updates(map[string]any{
			"status":                adjustmentdomain.AdjustmentStatusApplied,
			"applied_to_invoice_id": invoiceID,
			"updated_at":            s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		adjustment, err := s.GetByID(ctx, adjustmentID)
		if err != nil {
			return err
		}
		if adjustment.Status == adjustmentdomain.AdjustmentStatusApplied {
			return adjustmentdomain.ErrApplied
		}
		return adjustmentdomain.ErrNotPending
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Model(&adjustmentdomain.Adjustment{}).
		Where("id = ? AND status = ?", id, adjustmentdomain.AdjustmentStatusPending).
		Updates(map[string]any{
			"status":     adjustmentdomain.AdjustmentStatusCancelled,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		adjustment, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if adjustment.Status == adjustmentdomain.AdjustmentStatusApplied {
			return adjustmentdomain.ErrApplied
		}
		return adjustmentdomain.ErrNotPending
	}
	return nil
}

func (s *Service) findByKey(ctx context.Context, run *gorm.DB, key string) (*adjustmentdomain.Adjustment, error) {
	var adjustments []adjustmentdomain.Adjustment
	err := run.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Limit(1).
		Find(&adjustments).Error
	if err != nil {
		return nil, err
	}
	if len(adjustments) == 0 {
		return nil, nil
	}
	return &adjustments[0], nil
}
