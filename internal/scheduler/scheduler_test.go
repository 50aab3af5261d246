package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	adjustmentservice "github.com/broadbandx/billing/internal/adjustment/service"
	"github.com/broadbandx/billing/internal/clock"
	"github.com/broadbandx/billing/internal/config"
	invoicedomain "github.com/broadbandx/billing/internal/invoice/domain"
	invoiceservice "github.com/broadbandx/billing/internal/invoice/service"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	journalservice "github.com/broadbandx/billing/internal/journal/service"
	"github.com/broadbandx/billing/internal/notify"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	planservice "github.com/broadbandx/billing/internal/plan/service"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	planchangeservice "github.com/broadbandx/billing/internal/planchange/service"
	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"github.com/broadbandx/billing/internal/subscription/repository"
	subscriptionservice "github.com/broadbandx/billing/internal/subscription/service"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentEvent struct {
	Event   string
	Payload map[string]any
}

// recordingNotifier captures deliveries so tests can assert on them.
type recordingNotifier struct {
	sent []sentEvent
	fail bool
}

func (n *recordingNotifier) Notify(ctx context.Context, event string, payload map[string]any) error {
	if n.fail {
		return errors.New("delivery refused")
	}
	n.sent = append(n.sent, sentEvent{Event: event, Payload: payload})
	return nil
}

func (n *recordingNotifier) count(event string) int {
	total := 0
	for _, s := range n.sent {
		if s.Event == event {
			total++
		}
	}
	return total
}

type stubGateway struct {
	fail bool
}

func (g *stubGateway) CreateOrder(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) (string, error) {
	return "order-1", nil
}

func (g *stubGateway) Collect(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) error {
	if g.fail {
		return errors.New("provider unavailable")
	}
	return nil
}

type schedulerTestEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	gateway  *stubGateway
	notifier *recordingNotifier
	planSvc  plandomain.Service
	adjSvc   adjustmentdomain.Service
	subSvc   subscriptiondomain.Service
	sched    *Scheduler
}

func setupSchedulerTest(t *testing.T, cfg Config) *schedulerTestEnv {
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
		&plandomain.Plan{},
		&planchangedomain.PlanChangeRecord{},
		&adjustmentdomain.Adjustment{},
		&journaldomain.JournalEntry{},
		&journaldomain.JournalLine{},
		&journaldomain.JournalSequence{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.InvoiceSequence{},
		&subscriptiondomain.Subscription{},
	))

	node, _ := snowflake.NewNode(1)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	policy := config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy())

	env := &schedulerTestEnv{
		db:       db,
		node:     node,
		clock:    fake,
		gateway:  &stubGateway{},
		notifier: &recordingNotifier{},
	}
	env.planSvc = planservice.NewService(planservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	changeSvc := planchangeservice.NewService(planchangeservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	env.adjSvc = adjustmentservice.NewService(adjustmentservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	journalSvc := journalservice.NewService(journalservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Policy:    policy,
		PlanSvc:   env.planSvc,
		ChangeSvc: changeSvc,
		AdjSvc:    env.adjSvc,
		Journal:   journalSvc,
	})
	env.subSvc = subscriptionservice.NewService(subscriptionservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Policy:    policy,
		Repo:      repository.New(),
		PlanSvc:   env.planSvc,
		ChangeSvc: changeSvc,
		AdjSvc:    env.adjSvc,
		Journal:   journalSvc,
		Invoice:   invoiceSvc,
		Gateway:   env.gateway,
		Notifier:  env.notifier,
	})

	sched, err := New(Params{
		DB:              db,
		Log:             log,
		Clock:           fake,
		Policy:          policy,
		SubscriptionSvc: env.subSvc,
		Notifier:        env.notifier,
		Config:          cfg,
	})
	require.NoError(t, err)
	env.sched = sched
	return env
}

func (env *schedulerTestEnv) createSubscription(t *testing.T, priceCents int64) *subscriptiondomain.Subscription {
	plan, err := env.planSvc.Create(context.Background(), plandomain.CreatePlanRequest{
		Code:              "fiber-100",
		Name:              "Fiber 100",
		MonthlyPriceCents: priceCents,
		AutoRenewAllowed:  true,
	})
	require.NoError(t, err)

	sub, err := env.subSvc.Create(context.Background(), subscriptiondomain.CreateRequest{
		CustomerID: env.node.Generate(),
		PlanID:     plan.ID,
		StartAt:    env.clock.Now(),
		AutoRenew:  true,
	})
	require.NoError(t, err)
	return sub
}

func TestRunOnce_ExpiryScanRenewsDueSubscription(t *testing.T) {
	env := setupSchedulerTest(t, Config{})
	sub := env.createSubscription(t, 40000)

	// Mar 1 period ends Apr 1. Move past it and run a pass.
	env.clock.Set(time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC))
	require.NoError(t, env.sched.RunOnce(context.Background()))

	got, err := env.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got.CurrentPeriodEnd.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRunOnce_GraceThenSuspension(t *testing.T) {
	env := setupSchedulerTest(t, Config{})
	sub := env.createSubscription(t, 40000)

	env.gateway.fail = true
	env.clock.Set(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, env.sched.RunOnce(context.Background()))

	got, err := env.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusGracePeriod, got.Status)
	assert.Equal(t, 1, env.notifier.count(notify.EventSubscriptionGrace))

	// Default grace is 3 days. A pass inside the window changes nothing.
	env.clock.Advance(48 * time.Hour)
	require.NoError(t, env.sched.RunOnce(context.Background()))
	got, err = env.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusGracePeriod, got.Status)

	env.clock.Advance(48 * time.Hour)
	require.NoError(t, env.sched.RunOnce(context.Background()))
	got, err = env.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusSuspended, got.Status)
	assert.Equal(t, 1, env.notifier.count(notify.EventSubscriptionSuspended))
}

func TestReminderSweep_NotifiesStalePendingAdjustmentsOnce(t *testing.T) {
	env := setupSchedulerTest(t, Config{})
	sub := env.createSubscription(t, 40000)

	adj, err := env.adjSvc.Create(context.Background(), nil, adjustmentdomain.CreateRequest{
		SubscriptionID: sub.ID,
		AmountCents:    5000,
		Reason:         "equipment fee",
	})
	require.NoError(t, err)

	// Fresh adjustments stay quiet.
	require.NoError(t, env.sched.ReminderSweepJob(context.Background()))
	assert.Equal(t, 0, env.notifier.count(notify.EventAdjustmentPending))

	// Past the 24h reminder age it fires exactly once.
	env.clock.Advance(25 * time.Hour)
	require.NoError(t, env.sched.ReminderSweepJob(context.Background()))
	assert.Equal(t, 1, env.notifier.count(notify.EventAdjustmentPending))

	var stored adjustmentdomain.Adjustment
	require.NoError(t, env.db.First(&stored, "id = ?", adj.ID).Error)
	require.NotNil(t, stored.ReminderNotifiedAt)

	require.NoError(t, env.sched.ReminderSweepJob(context.Background()))
	assert.Equal(t, 1, env.notifier.count(notify.EventAdjustmentPending))
}

func TestReminderSweep_RetriesAfterDeliveryFailure(t *testing.T) {
	env := setupSchedulerTest(t, Config{})
	sub := env.createSubscription(t, 40000)

	_, err := env.adjSvc.Create(context.Background(), nil, adjustmentdomain.CreateRequest{
		SubscriptionID: sub.ID,
		AmountCents:    5000,
		Reason:         "equipment fee",
	})
	require.NoError(t, err)
	env.clock.Advance(25 * time.Hour)

	env.notifier.fail = true
	require.NoError(t, env.sched.ReminderSweepJob(context.Background()))
	assert.Equal(t, 0, env.notifier.count(notify.EventAdjustmentPending))

	env.notifier.fail = false
	require.NoError(t, env.sched.ReminderSweepJob(context.Background()))
	assert.Equal(t, 1, env.notifier.count(notify.EventAdjustmentPending))
}

func TestRunOnce_DisabledJobIsSkipped(t *testing.T) {
	env := setupSchedulerTest(t, Config{EnabledJobs: []string{"grace_scan"}})
	sub := env.createSubscription(t, 40000)

	env.clock.Set(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, env.sched.RunOnce(context.Background()))

	got, err := env.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}
