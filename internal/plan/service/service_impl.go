package service

import (
	"context"
	"math"
	"strings"

	"github.com/broadbandx/billing/internal/clock"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	"github.com/broadbandx/billing/internal/pricing"
	"github.com/broadbandx/billing/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Weights of the dynamic price formula
// P = base * (1 + alpha*demand + beta*elasticity + gamma*churn),
// bounded so a score spike can never move a price more than 20%.
const (
	alphaDemand    = 0.15
	betaElasticity = 0.10
	gammaChurn     = -0.10
	maxSwing       = 0.20
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[plandomain.Plan]
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.Plan, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, plandomain.ErrInvalidCode
	}
	if req.MonthlyPriceCents <= 0 {
		return nil, plandomain.ErrInvalidPrice
	}

	now := s.clock.Now()
	plan := &plandomain.Plan{
		ID:                s.genID.Generate(),
		Code:              code,
		Name:              strings.TrimSpace(req.Name),
		MonthlyPriceCents: req.MonthlyPriceCents,
		AutoRenewAllowed:  req.AutoRenewAllowed,
		Status:            plandomain.PlanStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*plandomain.Plan, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, plandomain.ErrNotFound
	}
	plan, err := s.repo.FindOne(ctx, &plandomain.Plan{ID: planID})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	rows, err := s.repo.Find(ctx, &plandomain.Plan{})
	if err != nil {
		return nil, err
	}
	plans := make([]plandomain.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, *row)
	}
	return plans, nil
}

// Supersede retires the current plan and opens its replacement in one
// transaction so the catalog never shows two active rows for the same code.
func (s *Service) Supersede(ctx context.Context, id string, newPriceCents int64) (*plandomain.Plan, error) {
	if newPriceCents <= 0 {
		return nil, plandomain.ErrInvalidPrice
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != plandomain.PlanStatusActive {
		return nil, plandomain.ErrAlreadyRetired
	}

	now := s.clock.Now()
	replacement := &plandomain.Plan{
		ID:                s.genID.Generate(),
		Code:              current.Code,
		Name:              current.Name,
		MonthlyPriceCents: newPriceCents,
		AutoRenewAllowed:  current.AutoRenewAllowed,
		Status:            plandomain.PlanStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(replacement).Error; err != nil {
			return err
		}
		return tx.Model(&plandomain.Plan{}).
			Where("id = ? AND status = ?", current.ID, plandomain.PlanStatusActive).
			Updates(map[string]any{
				"status":           plandomain.PlanStatusRetired,
				"superseded_by_id": replacement.ID,
				"updated_at":       now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan superseded",
		zap.String("old_plan_id", current.ID.String()),
		zap.String("new_plan_id", replacement.ID.String()),
		zap.Int64("new_price_cents", newPriceCents),
	)
	return replacement, nil
}

func (s *Service) Retire(ctx context.Context, id string) error {
	plan, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if plan.Status != plandomain.PlanStatusActive {
		return plandomain.ErrAlreadyRetired
	}
	return s.repo.Update(ctx, plan.ID.String(), map[string]any{
		"status":     plandomain.PlanStatusRetired,
		"updated_at": s.clock.Now(),
	})
}

// AdjustedPrice never fails: missing or out-of-range signals degrade to the
// catalog price.
func (s *Service) AdjustedPrice(ctx context.Context, plan *plandomain.Plan, signals pricing.Signals) int64 {
	_ = ctx
	base := float64(plan.MonthlyPriceCents)
	swing := alphaDemand*signals.DemandFactor + betaElasticity*signals.Elasticity + gammaChurn*signals.ChurnRisk
	if swing > maxSwing {
		swing = maxSwing
	}
	if swing < -maxSwing {
		swing = -maxSwing
	}
	adjusted := base * (1 + swing)
	// round half away from zero
	return int64(math.Floor(adjusted + 0.5))
}
