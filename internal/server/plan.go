package server

import (
	"net/http"
	"strings"

	plandomain "github.com/broadbandx/billing/internal/plan/domain"
	"github.com/broadbandx/billing/internal/pricing"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req plandomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.Create(c.Request.Context(), plandomain.CreatePlanRequest{
		Code:              strings.TrimSpace(req.Code),
		Name:              strings.TrimSpace(req.Name),
		MonthlyPriceCents: req.MonthlyPriceCents,
		AutoRenewAllowed:  req.AutoRenewAllowed,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) GetPlanByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	plan, err := s.planSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

// QuotePlanPrice runs the catalog price through the dynamic pricing step.
// Scoring trouble never blocks a quote: missing signals fall back to the
// catalog price.
func (s *Server) QuotePlanPrice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	plan, err := s.planSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	customerID := strings.TrimSpace(c.Query("customer_id"))
	signals, err := s.signals.Signals(c.Request.Context(), customerID)
	if err != nil {
		s.log.Warn("pricing signals unavailable, quoting catalog price",
			zap.String("plan_id", id), zap.Error(err))
		signals = pricing.Signals{}
	}
	adjusted := s.planSvc.AdjustedPrice(c.Request.Context(), plan, signals)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"plan_id":              plan.ID,
		"base_price_cents":     plan.MonthlyPriceCents,
		"adjusted_price_cents": adjusted,
		"signals":              signals,
	}})
}

func (s *Server) SupersedePlan(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req struct {
		MonthlyPriceCents int64 `json:"monthly_price_cents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.Supersede(c.Request.Context(), id, req.MonthlyPriceCents)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) RetirePlan(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.planSvc.Retire(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
