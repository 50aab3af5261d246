package server

import (
	"net/http"
	"strings"
	"time"

	subscriptiondomain "github.com/broadbandx/billing/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseID(c *gin.Context, field, raw string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		AbortWithError(c, newValidationError(field, "invalid_"+field, "invalid "+field))
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context) (snowflake.ID, bool) {
	return parseID(c, "id", c.Param("id"))
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req struct {
		CustomerID string    `json:"customer_id"`
		PlanID     string    `json:"plan_id"`
		StartAt    time.Time `json:"start_at"`
		AutoRenew  bool      `json:"auto_renew"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, ok := parseID(c, "customer_id", req.CustomerID)
	if !ok {
		return
	}
	planID, ok := parseID(c, "plan_id", req.PlanID)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		CustomerID: customerID,
		PlanID:     planID,
		StartAt:    req.StartAt,
		AutoRenew:  req.AutoRenew,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		NewPlanID string `json:"new_plan_id"`
		Effective string `json:"effective"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	newPlanID, ok := parseID(c, "new_plan_id", req.NewPlanID)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.RequestPlanChange(c.Request.Context(), subscriptiondomain.PlanChangeRequest{
		SubscriptionID: id,
		NewPlanID:      newPlanID,
		Effective:      subscriptiondomain.EffectiveMode(strings.TrimSpace(req.Effective)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Effective string `json:"effective"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		SubscriptionID: id,
		Effective:      subscriptiondomain.CancelMode(strings.TrimSpace(req.Effective)),
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Reactivate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListPlanChanges(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	records, err := s.changeSvc.History(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
