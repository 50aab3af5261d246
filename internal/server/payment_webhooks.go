package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/broadbandx/billing/internal/payment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhookEvent is the provider-agnostic wire form. Provider adapters at the
// edge authenticate the vendor callback and normalize it into this shape
// before forwarding.
type webhookEvent struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	SubscriptionID string    `json:"subscription_id"`
	InvoiceID      string    `json:"invoice_id"`
	AmountCents    int64     `json:"amount_cents"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// WebhookRateLimit throttles per provider before any parsing work.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		provider := strings.TrimSpace(c.Param("provider"))
		result, err := s.webhookLimiter.Allow(c.Request.Context(), provider)
		if err != nil {
			// Redis trouble must not drop provider events.
			s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"status": "rate_limited"})
			return
		}
		c.Next()
	}
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	var evt webhookEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscriptionID, ok := parseID(c, "subscription_id", evt.SubscriptionID)
	if !ok {
		return
	}

	event := payment.Event{
		Provider:        provider,
		ProviderEventID: strings.TrimSpace(evt.EventID),
		Type:            strings.TrimSpace(evt.Type),
		SubscriptionID:  subscriptionID,
		AmountCents:     evt.AmountCents,
		OccurredAt:      evt.OccurredAt,
	}
	if raw := strings.TrimSpace(evt.InvoiceID); raw != "" {
		invoiceID, ok := parseID(c, "invoice_id", raw)
		if !ok {
			return
		}
		event.InvoiceID = &invoiceID
	}

	if err := s.subscriptionSvc.HandlePaymentEvent(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
