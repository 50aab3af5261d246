package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/broadbandx/billing/internal/payment"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	planservice "github.com/broadbandx/billing/internal/plan/service"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	planchangeservice "github.com/broadbandx/billing/internal/planchange/service"
	"github.com/broadbandx/billing/internal/pricing"
	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"github.com/broadbandx/billing/internal/subscription/repository"
	subscriptionservice "github.com/broadbandx/billing/internal/subscription/service"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubSignalSource serves canned pricing signals, or refuses entirely.
type stubSignalSource struct {
	signals pricing.Signals
	err     error
}

func (s *stubSignalSource) Signals(ctx context.Context, customerID string) (pricing.Signals, error) {
	if s.err != nil {
		return pricing.Signals{}, s.err
	}
	return s.signals, nil
}

type httpTestEnv struct {
	engine  *gin.Engine
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	subSvc  subscriptiondomain.Service
	signals *stubSignalSource
}

func setupHTTPTest(t *testing.T) *httpTestEnv {
	gin.SetMode(gin.TestMode)

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
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.InvoiceSequence{},
		&journaldomain.JournalEntry{},
		&journaldomain.JournalLine{},
		&journaldomain.JournalSequence{},
		&subscriptiondomain.Subscription{},
	))

	node, _ := snowflake.NewNode(1)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	policy := config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy())

	planSvc := planservice.NewService(planservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	changeSvc := planchangeservice.NewService(planchangeservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	adjSvc := adjustmentservice.NewService(adjustmentservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	journalSvc := journalservice.NewService(journalservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Policy:    policy,
		PlanSvc:   planSvc,
		ChangeSvc: changeSvc,
		AdjSvc:    adjSvc,
		Journal:   journalSvc,
	})
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Policy:    policy,
		Repo:      repository.New(),
		PlanSvc:   planSvc,
		ChangeSvc: changeSvc,
		AdjSvc:    adjSvc,
		Journal:   journalSvc,
		Invoice:   invoiceSvc,
		Gateway:   payment.NewLogGateway(log),
		Notifier:  notify.NewLogNotifier(log),
	})

	signals := &stubSignalSource{}
	engine := NewEngine(log, nil)
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{Environment: "test"},
		Log:             log,
		DB:              db,
		GenID:           node,
		PlanSvc:         planSvc,
		SubscriptionSvc: subSvc,
		ChangeSvc:       changeSvc,
		AdjustmentSvc:   adjSvc,
		InvoiceSvc:      invoiceSvc,
		JournalSvc:      journalSvc,
		Signals:         signals,
	})
	registerRoutes(srv)

	return &httpTestEnv{
		engine:  engine,
		db:      db,
		node:    node,
		clock:   fake,
		subSvc:  subSvc,
		signals: signals,
	}
}

func (env *httpTestEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	data, _ := payload["data"].(map[string]any)
	return data
}

func (env *httpTestEnv) createPlanHTTP(t *testing.T, code string, priceCents int64) string {
	rec := env.do(t, http.MethodPost, "/api/plans", map[string]any{
		"code":                code,
		"name":                code,
		"monthly_price_cents": priceCents,
		"auto_renew_allowed":  true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData(t, rec)["id"].(string)
}

func (env *httpTestEnv) createSubscriptionHTTP(t *testing.T, planID string) string {
	rec := env.do(t, http.MethodPost, "/api/subscriptions", map[string]any{
		"customer_id": env.node.Generate().String(),
		"plan_id":     planID,
		"start_at":    env.clock.Now().Format(time.RFC3339),
		"auto_renew":  true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData(t, rec)["id"].(string)
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	env := setupHTTPTest(t)

	planID := env.createPlanHTTP(t, "fiber-100", 40000)

	rec := env.do(t, http.MethodGet, "/api/plans/"+planID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fiber-100", decodeData(t, rec)["code"])

	rec = env.do(t, http.MethodPost, "/api/plans/"+planID+"/supersede", map[string]any{
		"monthly_price_cents": 45000,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	successor := decodeData(t, rec)
	assert.NotEqual(t, planID, successor["id"])
	assert.Equal(t, float64(45000), successor["monthly_price_cents"])

	// The retired plan rejects a second supersede.
	rec = env.do(t, http.MethodPost, "/api/plans/"+planID+"/supersede", map[string]any{
		"monthly_price_cents": 50000,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlanQuoteOverHTTP(t *testing.T) {
	env := setupHTTPTest(t)

	planID := env.createPlanHTTP(t, "fiber-100", 40000)

	// Zero signals quote the catalog price unchanged.
	rec := env.do(t, http.MethodGet, "/api/plans/"+planID+"/quote", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decodeData(t, rec)
	assert.Equal(t, float64(40000), quote["base_price_cents"])
	assert.Equal(t, float64(40000), quote["adjusted_price_cents"])

	// Full demand lifts the price by 15%.
	env.signals.signals = pricing.Signals{DemandFactor: 1}
	rec = env.do(t, http.MethodGet, "/api/plans/"+planID+"/quote?customer_id=42", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(46000), decodeData(t, rec)["adjusted_price_cents"])

	// A scoring outage degrades to the catalog price instead of failing.
	env.signals.err = errors.New("scoring service down")
	rec = env.do(t, http.MethodGet, "/api/plans/"+planID+"/quote", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(40000), decodeData(t, rec)["adjusted_price_cents"])
}

func TestInvoiceFlowOverHTTP(t *testing.T) {
	env := setupHTTPTest(t)

	planID := env.createPlanHTTP(t, "fiber-500", 60000)
	subID := env.createSubscriptionHTTP(t, planID)

	rec := env.do(t, http.MethodPost, "/api/invoices", map[string]any{
		"subscription_id": subID,
		"period_start":    "2026-03-01T00:00:00Z",
		"period_end":      "2026-03-31T00:00:00Z",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	invoice := decodeData(t, rec)
	invoiceID := invoice["id"].(string)
	assert.Equal(t, "DRAFT", invoice["status"])

	rec = env.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/finalize", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	finalized := decodeData(t, rec)
	assert.Equal(t, "FINAL", finalized["status"])
	assert.Equal(t, "INV-2026-000001", finalized["number"])

	// Double finalize is a state conflict.
	rec = env.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/finalize", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/pay", map[string]any{
		"payment_reference": "bank-777",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", decodeData(t, rec)["status"])
}

func TestErrorMappingOverHTTP(t *testing.T) {
	env := setupHTTPTest(t)

	rec := env.do(t, http.MethodGet, "/api/plans/not-a-snowflake", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := env.node.Generate().String()
	rec = env.do(t, http.MethodGet, "/api/invoices/"+missing, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/jobs/unknown", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhookDrivesLifecycle(t *testing.T) {
	env := setupHTTPTest(t)

	planID := env.createPlanHTTP(t, "fiber-100", 40000)
	subID := env.createSubscriptionHTTP(t, planID)

	rec := env.do(t, http.MethodPost, "/api/payments/webhooks/acme", map[string]any{
		"event_id":        "evt-1",
		"type":            "payment.failed",
		"subscription_id": subID,
		"amount_cents":    40000,
		"occurred_at":     env.clock.Now().Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sub, err := env.subSvc.GetByID(context.Background(), snowflakeMustParse(t, subID))
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusGracePeriod, sub.Status)
}

func snowflakeMustParse(t *testing.T, raw string) snowflake.ID {
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id
}
