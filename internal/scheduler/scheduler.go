// Package scheduler drives the periodic billing scans: renewal and expiry
// of subscriptions, suspension of lapsed grace periods, and reminders for
// adjustments that have sat unapplied too long.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	"github.com/broadbandx/billing/internal/clock"
	"github.com/broadbandx/billing/internal/config"
	"github.com/broadbandx/billing/internal/notify"
	"github.com/broadbandx/billing/internal/observability/metrics"
	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Metrics         *metrics.Metrics `optional:"true"`
	Policy          *config.BillingPolicyHolder
	SubscriptionSvc subscriptiondomain.Service
	Notifier        notify.Notifier
	Lease           *Lease `optional:"true"`
	Config          Config `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	metrics         *metrics.Metrics
	policy          *config.BillingPolicyHolder
	subscriptionSvc subscriptiondomain.Service
	notifier        notify.Notifier
	lease           *Lease
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Policy == nil || p.SubscriptionSvc == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		metrics:         p.Metrics,
		policy:          p.Policy,
		subscriptionSvc: p.SubscriptionSvc,
		notifier:        p.Notifier,
		lease:           p.Lease,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the batch picks up where it left off next tick.
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one full pass of every enabled job. When a lease is
// configured, a pass that loses the lease race is skipped entirely.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.lease != nil {
		token, ok, err := s.lease.TryAcquire(parent, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("scheduler lease: %w", err)
		}
		if !ok {
			s.log.Debug("scheduler lease held elsewhere, skipping pass")
			return nil
		}
		defer func() {
			if err := s.lease.Release(parent, s.cfg.LockKey, token); err != nil {
				s.log.Warn("scheduler lease release failed", zap.Error(err))
			}
		}()
	}

	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"expiry_scan", s.isJobEnabled("expiry_scan"), func(ctx context.Context) error {
			return s.runJob(ctx, "expiry_scan", s.cfg.JobTimeout, s.ExpiryScanJob)
		}},
		{"grace_scan", s.isJobEnabled("grace_scan"), func(ctx context.Context) error {
			return s.runJob(ctx, "grace_scan", s.cfg.JobTimeout, s.GraceScanJob)
		}},
		{"reminder_sweep", s.isJobEnabled("reminder_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "reminder_sweep", s.cfg.JobTimeout, s.ReminderSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpiryScanJob renews, expires or graces every subscription whose billing
// period has lapsed. It drains the backlog one claimed batch at a time so a
// long outage is worked off within a single pass.
func (s *Scheduler) ExpiryScanJob(ctx context.Context) error {
	for {
		result, err := s.subscriptionSvc.ProcessExpiryScan(ctx, s.clock.Now())
		if err != nil {
			return err
		}
		if result.Claimed > 0 {
			s.log.Info("expiry scan batch",
				zap.Int("claimed", result.Claimed),
				zap.Int("renewed", result.Renewed),
				zap.Int("graced", result.Graced),
				zap.Int("expired", result.Expired),
			)
		}
		if result.Claimed == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// GraceScanJob suspends subscriptions whose grace window has closed.
func (s *Scheduler) GraceScanJob(ctx context.Context) error {
	for {
		result, err := s.subscriptionSvc.ProcessGraceScan(ctx, s.clock.Now())
		if err != nil {
			return err
		}
		if result.Claimed > 0 {
			s.log.Info("grace scan batch",
				zap.Int("claimed", result.Claimed),
				zap.Int("suspended", result.Suspended),
			)
		}
		if result.Claimed == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ReminderSweepJob notifies about pending adjustments older than the policy
// reminder age. Each adjustment is reminded at most once.
func (s *Scheduler) ReminderSweepJob(ctx context.Context) error {
	policy := s.policy.Get()
	cutoff := s.clock.Now().Add(-time.Duration(policy.ReminderAgeHours) * time.Hour)

	var stale []adjustmentdomain.Adjustment
	err := s.db.WithContext(ctx).
		Where("status = ?", adjustmentdomain.AdjustmentStatusPending).
		Where("reminder_notified_at IS NULL").
		Where("created_at < ?", cutoff).
		Order("created_at ASC, id ASC").
		Limit(s.cfg.BatchSize).
		Find(&stale).Error
	if err != nil {
		return fmt.Errorf("reminder sweep query: %w", err)
	}

	for i := range stale {
		adj := &stale[i]
		payload := map[string]any{
			"adjustment_id":   adj.ID.String(),
			"subscription_id": adj.SubscriptionID.String(),
			"amount_cents":    adj.AmountCents,
			"reason":          adj.Reason,
			"pending_since":   adj.CreatedAt,
		}
		if err := s.notifier.Notify(ctx, notify.EventAdjustmentPending, payload); err != nil {
			// Stamp nothing on failure so the next sweep retries.
			s.log.Warn("adjustment reminder failed",
				zap.String("adjustment_id", adj.ID.String()),
				zap.Error(err),
			)
			continue
		}

		now := s.clock.Now()
		update := s.db.WithContext(ctx).
			Model(&adjustmentdomain.Adjustment{}).
			Where("id = ? AND reminder_notified_at IS NULL", adj.ID).
			Update("reminder_notified_at", now)
		if update.Error != nil {
			return fmt.Errorf("reminder sweep stamp: %w", update.Error)
		}
	}

	return nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
