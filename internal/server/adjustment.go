package server

import (
	"net/http"
	"strings"

	adjustmentdomain "github.com/broadbandx/billing/internal/adjustment/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateAdjustment(c *gin.Context) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
		AmountCents    int64  `json:"amount_cents"`
		Reason         string `json:"reason"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscriptionID, ok := parseID(c, "subscription_id", req.SubscriptionID)
	if !ok {
		return
	}

	adj, err := s.adjustmentSvc.Create(c.Request.Context(), nil, adjustmentdomain.CreateRequest{
		SubscriptionID: subscriptionID,
		AmountCents:    req.AmountCents,
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": adj})
}

func (s *Server) GetAdjustmentByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	adj, err := s.adjustmentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": adj})
}

func (s *Server) CancelAdjustment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.adjustmentSvc.Cancel(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListPendingAdjustments(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	adjustments, err := s.adjustmentSvc.ListPending(c.Request.Context(), nil, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": adjustments})
}
