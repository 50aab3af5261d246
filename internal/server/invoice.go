package server

import (
	"net/http"
	"strings"
	"time"

	invoicedomain "github.com/broadbandx/billing/internal/invoice/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) AssembleInvoice(c *gin.Context) {
	var req struct {
		SubscriptionID string    `json:"subscription_id"`
		PeriodStart    time.Time `json:"period_start"`
		PeriodEnd      time.Time `json:"period_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscriptionID, ok := parseID(c, "subscription_id", req.SubscriptionID)
	if !ok {
		return
	}

	// The customer is taken from the subscription, not the request body.
	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), subscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Assemble(c.Request.Context(), invoicedomain.AssembleRequest{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, lines, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice, "lines": lines})
}

func (s *Server) AddInvoiceLine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Type           string     `json:"type"`
		Description    string     `json:"description"`
		Quantity       int64      `json:"quantity"`
		UnitPriceCents int64      `json:"unit_price_cents"`
		Taxable        bool       `json:"taxable"`
		PeriodStart    *time.Time `json:"period_start"`
		PeriodEnd      *time.Time `json:"period_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	invoice, err := s.invoiceSvc.AddLineItem(c.Request.Context(), id, invoicedomain.LineItem{
		Type:           invoicedomain.LineType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Description:    strings.TrimSpace(req.Description),
		Quantity:       req.Quantity,
		UnitPriceCents: req.UnitPriceCents,
		TotalCents:     req.Quantity * req.UnitPriceCents,
		Taxable:        req.Taxable,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) FinalizeInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Finalize(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) PayInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		PaymentReference string `json:"payment_reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.MarkPaid(c.Request.Context(), id, strings.TrimSpace(req.PaymentReference))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.invoiceSvc.Cancel(c.Request.Context(), id, strings.TrimSpace(req.Reason)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
