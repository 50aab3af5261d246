// Package server exposes the billing core over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	"github.com/broadbandx/billing/internal/config"
	invoicedomain "github.com/broadbandx/billing/internal/invoice/domain"
	journaldomain "github.com/broadbandx/billing/internal/journal/domain"
	"github.com/broadbandx/billing/internal/observability/metrics"
	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	planchangedomain "github.com/broadbandx/billing/internal/planchange/domain"
	"github.com/broadbandx/billing/internal/pricing"
	"github.com/broadbandx/billing/internal/ratelimit"
	"github.com/broadbandx/billing/internal/scheduler"
	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log, m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	DB              *gorm.DB
	GenID           *snowflake.Node
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	ChangeSvc       planchangedomain.Service
	AdjustmentSvc   adjustmentdomain.Service
	InvoiceSvc      invoicedomain.Service
	JournalSvc      journaldomain.Service
	Signals         pricing.SignalSource
	Sched           *scheduler.Scheduler       `optional:"true"`
	WebhookLimiter  *ratelimit.WebhookLimiter  `optional:"true"`
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	db              *gorm.DB
	genID           *snowflake.Node
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	changeSvc       planchangedomain.Service
	adjustmentSvc   adjustmentdomain.Service
	invoiceSvc      invoicedomain.Service
	journalSvc      journaldomain.Service
	signals         pricing.SignalSource
	sched           *scheduler.Scheduler
	webhookLimiter  *ratelimit.WebhookLimiter
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		db:              p.DB,
		genID:           p.GenID,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		changeSvc:       p.ChangeSvc,
		adjustmentSvc:   p.AdjustmentSvc,
		invoiceSvc:      p.InvoiceSvc,
		journalSvc:      p.JournalSvc,
		signals:         p.Signals,
		sched:           p.Sched,
		webhookLimiter:  p.WebhookLimiter,
	}
}

func registerRoutes(s *Server) {
	s.registerAPIRoutes()
	s.registerAdminRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)
	api.POST("/plans", s.CreatePlan)
	api.GET("/plans/:id", s.GetPlanByID)
	api.GET("/plans/:id/quote", s.QuotePlanPrice)
	api.POST("/plans/:id/supersede", s.SupersedePlan)
	api.POST("/plans/:id/retire", s.RetirePlan)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/change-plan", s.ChangeSubscriptionPlan)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/reactivate", s.ReactivateSubscription)
	api.GET("/subscriptions/:id/plan-changes", s.ListPlanChanges)
	api.GET("/subscriptions/:id/adjustments", s.ListPendingAdjustments)

	// -------- Adjustments --------
	api.POST("/adjustments", s.CreateAdjustment)
	api.GET("/adjustments/:id", s.GetAdjustmentByID)
	api.POST("/adjustments/:id/cancel", s.CancelAdjustment)

	// -------- Invoices --------
	api.POST("/invoices", s.AssembleInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/lines", s.AddInvoiceLine)
	api.POST("/invoices/:id/finalize", s.FinalizeInvoice)
	api.POST("/invoices/:id/pay", s.PayInvoice)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	// -------- Journal --------
	api.GET("/journal/entries/:id", s.GetJournalEntry)
	api.GET("/journal/trial-balance", s.GetTrialBalance)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/jobs/:name", s.RunJob)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
