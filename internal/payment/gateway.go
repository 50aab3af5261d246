// Package payment defines the collaborator boundary toward payment
// providers. The ledger never talks to a provider directly: renewal and
// webhook flows go through Gateway, and failures surface as
// ErrExternalService so callers can decide between grace and retry.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

const (
	EventTypePaymentCaptured = "payment.captured"
	EventTypePaymentFailed   = "payment.failed"
	EventTypeRefundCreated   = "refund.created"
)

// Event is the canonical payment event after the transport has verified
// the provider signature.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string
	SubscriptionID  snowflake.ID
	InvoiceID       *snowflake.ID
	AmountCents     int64
	OccurredAt      time.Time
}

// Gateway charges customers. Implementations wrap a concrete provider;
// errors must wrap errdefs.ErrExternalService.
type Gateway interface {
	// CreateOrder registers an upcoming charge and returns the provider
	// order reference.
	CreateOrder(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) (string, error)
	// Collect captures a renewal charge. A nil return means the money is
	// on its way; the authoritative confirmation arrives as an Event.
	Collect(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) error
}

// LogGateway approves everything and only logs, the default when no
// provider is configured. Renewals always succeed against it.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	return &LogGateway{log: log.Named("payment.gateway")}
}

func (g *LogGateway) CreateOrder(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) (string, error) {
	ref := fmt.Sprintf("log-order-%s", subscriptionID.String())
	g.log.Info("payment order created",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.String("order_ref", ref),
	)
	return ref, nil
}

func (g *LogGateway) Collect(ctx context.Context, subscriptionID snowflake.ID, amountCents int64) error {
	g.log.Info("payment collected",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Int64("amount_cents", amountCents),
	)
	return nil
}

// WrapProviderErr normalizes a provider failure into the external-service
// taxonomy.
func WrapProviderErr(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", errdefs.ErrExternalService, provider, err)
}
