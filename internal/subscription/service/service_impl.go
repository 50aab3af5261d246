package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	"github.com/broadbandx/billing/internal/clock"
	"github.com/broadbandx/billing/internal/config"
	invoicedomain "github.com/broadbandx/billing/internal/invoice/domain"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	"github.com/broadbandx/billing/internal/notify"
	obsmetrics "github.com/broadbandx/billing/internal/observability/metrics"
	"github.com/broadbandx/billing/internal/payment"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	"github.com/broadbandx/billing/internal/proration"
	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	day = 24 * time.Hour

	// scanBatchSize bounds one claim so a huge backlog is worked off in
	// chunks instead of one giant transaction.
	scanBatchSize = 100
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
	policy  *config.BillingPolicyHolder

	repo       subscriptiondomain.Repository
	planSvc    plandomain.Service
	changeSvc  planchangedomain.Service
	adjSvc     adjustmentdomain.Service
	journal    journaldomain.Service
	invoiceSvc invoicedomain.Service
	gateway    payment.Gateway
	notifier   notify.Notifier
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
	Policy  *config.BillingPolicyHolder

	Repo      subscriptiondomain.Repository
	PlanSvc   plandomain.Service
	ChangeSvc planchangedomain.Service
	AdjSvc    adjustmentdomain.Service
	Journal   journaldomain.Service
	Invoice   invoicedomain.Service
	Gateway   payment.Gateway
	Notifier  notify.Notifier
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
		policy:  p.Policy,

		repo:       p.Repo,
		planSvc:    p.PlanSvc,
		changeSvc:  p.ChangeSvc,
		adjSvc:     p.AdjSvc,
		journal:    p.Journal,
		invoiceSvc: p.Invoice,
		gateway:    p.Gateway,
		notifier:   p.Notifier,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	if req.CustomerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	if req.StartAt.IsZero() {
		return nil, subscriptiondomain.ErrInvalidStart
	}
	plan, err := s.planSvc.GetByID(ctx, req.PlanID.String())
	if err != nil {
		return nil, err
	}
	if plan.Status != plandomain.PlanStatusActive {
		return nil, plandomain.ErrAlreadyRetired
	}

	anchor := midnightUTC(req.StartAt)
	now := s.clock.Now()
	subscription := &subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		CustomerID:         req.CustomerID,
		PlanID:             plan.ID,
		Status:             subscriptiondomain.StatusActive,
		BillingAnchor:      anchor,
		CurrentPeriodStart: anchor,
		CurrentPeriodEnd:   anchor.AddDate(0, 1, 0),
		NextBillingAt:      anchor.AddDate(0, 1, 0),
		AutoRenew:          req.AutoRenew && plan.AutoRenewAllowed,
		Version:            1,
		Metadata:           datatypes.JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, subscription); err != nil {
			return err
		}
		_, err := s.changeSvc.RecordChange(ctx, tx, planchangedomain.RecordChangeRequest{
			SubscriptionID: subscription.ID,
			NewPlanID:      plan.ID,
			ChangeType:     planchangedomain.ChangeTypeInitial,
			EffectiveFrom:  anchor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Time("billing_anchor", anchor),
	)
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return subscription, nil
}

func (s *Service) RequestPlanChange(ctx context.Context, req subscriptiondomain.PlanChangeRequest) (*subscriptiondomain.Subscription, error) {
	if req.Effective != subscriptiondomain.EffectiveImmediate && req.Effective != subscriptiondomain.EffectiveNextCycle {
		return nil, subscriptiondomain.ErrInvalidMode
	}

	var subscription *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		subscription, err = s.repo.FindByIDForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrNotFound
		}
		if subscription.Status != subscriptiondomain.StatusActive {
			return subscriptiondomain.ErrNotActive
		}
		if subscription.PlanID == req.NewPlanID {
			return subscriptiondomain.ErrSamePlan
		}

		oldPlan, err := s.planSvc.GetByID(ctx, subscription.PlanID.String())
		if err != nil {
			return err
		}
		newPlan, err := s.planSvc.GetByID(ctx, req.NewPlanID.String())
		if err != nil {
			return err
		}

		changeType := planchangedomain.ChangeTypeUpgrade
		if newPlan.MonthlyPriceCents < oldPlan.MonthlyPriceCents {
			changeType = planchangedomain.ChangeTypeDowngrade
		}

		now := s.clock.Now()
		if req.Effective == subscriptiondomain.EffectiveNextCycle {
			_, err := s.changeSvc.RecordChange(ctx, tx, planchangedomain.RecordChangeRequest{
				SubscriptionID: subscription.ID,
				NewPlanID:      newPlan.ID,
				ChangeType:     changeType,
				EffectiveFrom:  subscription.CurrentPeriodEnd,
			})
			return err
		}

		totalDays := wholeDays(subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd)
		remaining := wholeDays(now, subscription.CurrentPeriodEnd)
		if remaining < 0 {
			remaining = 0
		}
		delta, err := proration.Prorate(oldPlan.MonthlyPriceCents, newPlan.MonthlyPriceCents, remaining, totalDays)
		if err != nil {
			return err
		}

		_, err = s.changeSvc.RecordChange(ctx, tx, planchangedomain.RecordChangeRequest{
			SubscriptionID: subscription.ID,
			NewPlanID:      newPlan.ID,
			ChangeType:     changeType,
			EffectiveFrom:  now,
			ProrationCents: delta,
		})
		if err != nil {
			return err
		}

		if delta != 0 {
			key := fmt.Sprintf("proration:%s:%s:%d", subscription.ID, newPlan.ID, subscription.CurrentPeriodStart.Unix())
			adjustment, err := s.adjSvc.Create(ctx, tx, adjustmentdomain.CreateRequest{
				SubscriptionID: subscription.ID,
				AmountCents:    delta,
				Reason:         fmt.Sprintf("plan change proration (%s to %s)", oldPlan.Code, newPlan.Code),
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			_, err = s.journal.Post(ctx, tx, journaldomain.AdjustmentEntry(
				subscription.CustomerID, adjustment.ID, delta, now,
			))
			if err != nil {
				return err
			}
		}

		subscription.PlanID = newPlan.ID
		subscription.UpdatedAt = now
		return s.repo.UpdateLifecycle(ctx, tx, subscription)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan change applied",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("new_plan_id", req.NewPlanID.String()),
		zap.String("effective", string(req.Effective)),
	)
	return subscription, nil
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (*subscriptiondomain.Subscription, error) {
	if req.Effective != subscriptiondomain.CancelImmediate && req.Effective != subscriptiondomain.CancelEndOfCycle {
		return nil, subscriptiondomain.ErrInvalidMode
	}

	var subscription *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		subscription, err = s.repo.FindByIDForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrNotFound
		}
		switch subscription.Status {
		case subscriptiondomain.StatusActive, subscriptiondomain.StatusGracePeriod:
		default:
			return subscriptiondomain.ErrNotActive
		}

		now := s.clock.Now()
		if req.Effective == subscriptiondomain.CancelEndOfCycle {
			subscription.CancelAtPeriodEnd = true
			subscription.UpdatedAt = now
			return s.repo.UpdateLifecycle(ctx, tx, subscription)
		}

		plan, err := s.planSvc.GetByID(ctx, subscription.PlanID.String())
		if err != nil {
			return err
		}
		totalDays := wholeDays(subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd)
		remaining := wholeDays(now, subscription.CurrentPeriodEnd)
		if remaining < 0 {
			remaining = 0
		}
		credit, err := proration.RemainingCredit(plan.MonthlyPriceCents, remaining, totalDays)
		if err != nil {
			return err
		}

		if credit != 0 {
			reason := "cancellation refund credit"
			if req.Reason != "" {
				reason = fmt.Sprintf("cancellation refund credit: %s", req.Reason)
			}
			key := fmt.Sprintf("cancel:%s:%d", subscription.ID, subscription.CurrentPeriodStart.Unix())
			adjustment, err := s.adjSvc.Create(ctx, tx, adjustmentdomain.CreateRequest{
				SubscriptionID: subscription.ID,
				AmountCents:    -credit,
				Reason:         reason,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			_, err = s.journal.Post(ctx, tx, journaldomain.AdjustmentEntry(
				subscription.CustomerID, adjustment.ID, -credit, now,
			))
			if err != nil {
				return err
			}
		}

		// Audit row for the cancellation, then close the trail so no
		// open record survives the subscription.
		_, err = s.changeSvc.RecordChange(ctx, tx, planchangedomain.RecordChangeRequest{
			SubscriptionID: subscription.ID,
			NewPlanID:      subscription.PlanID,
			ChangeType:     planchangedomain.ChangeTypeCancellation,
			EffectiveFrom:  now,
			ProrationCents: -credit,
		})
		if err != nil {
			return err
		}
		if err := s.changeSvc.CloseOpen(ctx, tx, subscription.ID, now); err != nil {
			return err
		}

		from := subscription.Status
		subscription.Status = subscriptiondomain.StatusCancelled
		subscription.GracePeriodEnd = nil
		subscription.UpdatedAt = now
		if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
			return err
		}
		s.metrics.IncLifecycleTransition(string(from), string(subscriptiondomain.StatusCancelled))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription cancelled",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("effective", string(req.Effective)),
		zap.String("reason", req.Reason),
	)
	return subscription, nil
}

func (s *Service) Reactivate(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		subscription, err = s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrNotFound
		}
		if subscription.Status != subscriptiondomain.StatusGracePeriod {
			return subscriptiondomain.ErrNotInGrace
		}

		now := s.clock.Now()
		s.rollPeriod(ctx, subscription, now)
		subscription.Status = subscriptiondomain.StatusActive
		subscription.GracePeriodEnd = nil
		subscription.LastRenewalError = nil
		subscription.UpdatedAt = now
		if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
			return err
		}

		_, err = s.changeSvc.RecordChange(ctx, tx, planchangedomain.RecordChangeRequest{
			SubscriptionID: subscription.ID,
			NewPlanID:      subscription.PlanID,
			ChangeType:     planchangedomain.ChangeTypeReactivation,
			EffectiveFrom:  now,
		})
		if err != nil {
			return err
		}
		s.metrics.IncLifecycleTransition(string(subscriptiondomain.StatusGracePeriod), string(subscriptiondomain.StatusActive))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription reactivated", zap.String("subscription_id", id.String()))
	return subscription, nil
}

func (s *Service) ProcessExpiryScan(ctx context.Context, now time.Time) (subscriptiondomain.ScanResult, error) {
	var candidates []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		candidates, err = s.repo.ClaimExpiring(ctx, tx, now, scanBatchSize)
		return err
	})
	if err != nil {
		return subscriptiondomain.ScanResult{}, err
	}

	result := subscriptiondomain.ScanResult{Claimed: len(candidates)}
	for i := range candidates {
		if err := s.processExpiry(ctx, &candidates[i], now, &result); err != nil {
			return subscriptiondomain.ScanResult{}, err
		}
	}

	s.log.Info("expiry scan complete",
		zap.Int("claimed", result.Claimed),
		zap.Int("renewed", result.Renewed),
		zap.Int("graced", result.Graced),
		zap.Int("expired", result.Expired),
	)
	return result, nil
}

// processExpiry moves one subscription across its period boundary. The
// gateway charge runs before the row transaction so network latency never
// holds row locks; the version check inside makes the write a compare-and-
// set, so a concurrent worker's outcome stands. A charge that landed for a
// row we then lost is confirmed by the provider's webhook, not by this scan.
func (s *Service) processExpiry(ctx context.Context, claimed *subscriptiondomain.Subscription, now time.Time, result *subscriptiondomain.ScanResult) error {
	var collectErr error
	if !claimed.CancelAtPeriodEnd && claimed.AutoRenew {
		collectErr = s.collectRenewal(ctx, claimed)
	}

	var applied *subscriptiondomain.Subscription
	from := claimed.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, claimed.ID)
		if err != nil {
			return err
		}
		if subscription == nil || subscription.Version != claimed.Version ||
			subscription.Status != subscriptiondomain.StatusActive {
			s.log.Warn("expiry scan lost the row",
				zap.String("subscription_id", claimed.ID.String()))
			return nil
		}

		from = subscription.Status
		subscription.UpdatedAt = now

		switch {
		case subscription.CancelAtPeriodEnd:
			_, err := s.changeSvc.RecordChange(ctx, tx, planchangedomain.RecordChangeRequest{
				SubscriptionID: subscription.ID,
				NewPlanID:      subscription.PlanID,
				ChangeType:     planchangedomain.ChangeTypeCancellation,
				EffectiveFrom:  subscription.CurrentPeriodEnd,
			})
			if err != nil {
				return err
			}
			if err := s.changeSvc.CloseOpen(ctx, tx, subscription.ID, subscription.CurrentPeriodEnd); err != nil {
				return err
			}
			subscription.Status = subscriptiondomain.StatusCancelled
			result.Expired++

		case !subscription.AutoRenew || collectErr != nil:
			grace := now.Add(time.Duration(s.policy.Get().GracePeriodDays) * day)
			subscription.Status = subscriptiondomain.StatusGracePeriod
			subscription.GracePeriodEnd = &grace
			if collectErr != nil {
				msg := collectErr.Error()
				subscription.LastRenewalError = &msg
			}
			result.Graced++

		default:
			s.rollPeriod(ctx, subscription, now)
			result.Renewed++
		}

		if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
			return err
		}
		applied = subscription
		return nil
	})
	if err != nil {
		return err
	}
	if applied == nil {
		return nil
	}

	if applied.Status != from {
		s.metrics.IncLifecycleTransition(string(from), string(applied.Status))
	}
	if applied.Status == subscriptiondomain.StatusGracePeriod {
		s.notice(ctx, notify.EventSubscriptionGrace, applied)
	}
	return nil
}

func (s *Service) ProcessGraceScan(ctx context.Context, now time.Time) (subscriptiondomain.ScanResult, error) {
	var result subscriptiondomain.ScanResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.ClaimGraceEnded(ctx, tx, now, scanBatchSize)
		if err != nil {
			return err
		}
		result.Claimed = len(claimed)

		for i := range claimed {
			subscription := &claimed[i]
			subscription.Status = subscriptiondomain.StatusSuspended
			subscription.UpdatedAt = now
			if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
				if err == subscriptiondomain.ErrVersionConflict {
					continue
				}
				return err
			}
			result.Suspended++
			s.metrics.IncLifecycleTransition(string(subscriptiondomain.StatusGracePeriod), string(subscriptiondomain.StatusSuspended))
			s.notice(ctx, notify.EventSubscriptionSuspended, subscription)
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.ScanResult{}, err
	}

	s.log.Info("grace scan complete",
		zap.Int("claimed", result.Claimed),
		zap.Int("suspended", result.Suspended),
	)
	return result, nil
}

func (s *Service) HandlePaymentEvent(ctx context.Context, event payment.Event) error {
	switch event.Type {
	case payment.EventTypePaymentCaptured:
		if event.InvoiceID != nil {
			reference := fmt.Sprintf("%s/%s", event.Provider, event.ProviderEventID)
			if _, err := s.invoiceSvc.MarkPaid(ctx, *event.InvoiceID, reference); err != nil {
				// A capture can arrive again after the invoice is already
				// paid; that is a duplicate delivery, not a failure.
				if !errors.Is(err, invoicedomain.ErrNotFinal) {
					return err
				}
			}
		}
		subscription, err := s.GetByID(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription.Status != subscriptiondomain.StatusGracePeriod {
			return nil
		}
		_, err = s.Reactivate(ctx, event.SubscriptionID)
		return err

	case payment.EventTypePaymentFailed:
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			subscription, err := s.repo.FindByIDForUpdate(ctx, tx, event.SubscriptionID)
			if err != nil {
				return err
			}
			if subscription == nil {
				return subscriptiondomain.ErrNotFound
			}
			if subscription.Status != subscriptiondomain.StatusActive {
				return nil
			}
			now := s.clock.Now()
			grace := now.Add(time.Duration(s.policy.Get().GracePeriodDays) * day)
			msg := fmt.Sprintf("payment failed: %s/%s", event.Provider, event.ProviderEventID)
			subscription.Status = subscriptiondomain.StatusGracePeriod
			subscription.GracePeriodEnd = &grace
			subscription.LastRenewalError = &msg
			subscription.UpdatedAt = now
			if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
				return err
			}
			s.metrics.IncLifecycleTransition(string(subscriptiondomain.StatusActive), string(subscriptiondomain.StatusGracePeriod))
			s.notice(ctx, notify.EventSubscriptionGrace, subscription)
			return nil
		})

	case payment.EventTypeRefundCreated:
		// Refund accounting is driven by adjustments; the event is an
		// acknowledgement only.
		s.log.Info("refund event received",
			zap.String("subscription_id", event.SubscriptionID.String()),
			zap.Int64("amount_cents", event.AmountCents),
		)
		return nil

	default:
		s.log.Warn("ignoring unknown payment event", zap.String("type", event.Type))
		return nil
	}
}

// collectRenewal charges the upcoming period through the gateway; any
// provider error is normalized into the external-service taxonomy.
func (s *Service) collectRenewal(ctx context.Context, subscription *subscriptiondomain.Subscription) error {
	plan, err := s.planSvc.GetByID(ctx, subscription.PlanID.String())
	if err != nil {
		return err
	}
	if err := s.gateway.Collect(ctx, subscription.ID, plan.MonthlyPriceCents); err != nil {
		return payment.WrapProviderErr("gateway", err)
	}
	return nil
}

// rollPeriod advances the subscription into its next billing period and
// applies any plan change that was deferred to the cycle boundary.
func (s *Service) rollPeriod(ctx context.Context, subscription *subscriptiondomain.Subscription, now time.Time) {
	open, err := s.changeSvc.FindCurrentPlan(ctx, subscription.ID)
	if err == nil && open != nil && open.NewPlanID != 0 &&
		open.NewPlanID != subscription.PlanID && !open.EffectiveFrom.After(now) {
		subscription.PlanID = open.NewPlanID
	}

	subscription.CurrentPeriodStart = subscription.CurrentPeriodEnd
	subscription.CurrentPeriodEnd = subscription.CurrentPeriodStart.AddDate(0, 1, 0)
	subscription.NextBillingAt = subscription.CurrentPeriodEnd
	subscription.LastRenewalError = nil
}

func (s *Service) notice(ctx context.Context, event string, subscription *subscriptiondomain.Subscription) {
	err := s.notifier.Notify(ctx, event, map[string]any{
		"subscription_id": subscription.ID.String(),
		"customer_id":     subscription.CustomerID.String(),
		"status":          string(subscription.Status),
	})
	if err != nil {
		s.log.Warn("notification failed", zap.String("event", event), zap.Error(err))
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func wholeDays(start, end time.Time) int {
	return int(end.Sub(start) / day)
}
