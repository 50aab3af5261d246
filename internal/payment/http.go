package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// HTTPGateway talks to the payment service over its internal REST API.
// Amounts are integral cents end to end.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPGateway(baseURL string, log *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("payment.gateway"),
	}
}

type orderRequest struct {
	SubscriptionID string `json:"subscription_id"`
	AmountCents    int64  `json:"amount_cents"`
}

type orderResponse struct {
	OrderRef string `json:"order_ref"`
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) (string, error) {
	var out orderResponse
	err := g.post(ctx, "/orders", orderRequest{
		SubscriptionID: subscriptionID.String(),
		AmountCents:    amountCents,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.OrderRef, nil
}

func (g *HTTPGateway) Collect(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) error {
	return g.post(ctx, "/collect", orderRequest{
		SubscriptionID: subscriptionID.String(),
		AmountCents:    amountCents,
	}, nil)
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return WrapProviderErr("gateway", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return WrapProviderErr("gateway", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return WrapProviderErr("gateway", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return WrapProviderErr("gateway", fmt.Errorf("status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapProviderErr("gateway", err)
	}
	return nil
}
