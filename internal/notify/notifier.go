// Package notify is the outbound notification boundary (reminder emails,
// suspension notices). Delivery is best-effort: the billing flows that
// trigger a notification never fail because of it.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	EventInvoiceFinalized      = "invoice.finalized"
	EventAdjustmentPending     = "adjustment.pending_reminder"
	EventSubscriptionGrace     = "subscription.grace_period"
	EventSubscriptionSuspended = "subscription.suspended"
)

// notifyTimeout bounds a single delivery attempt so a slow downstream
// cannot stall a batch sweep.
const notifyTimeout = 5 * time.Second

type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any) error
}

// LogNotifier writes notifications to the log, the default when no
// delivery channel is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n.log.Info("notification",
		zap.String("event", event),
		zap.Any("payload", payload),
	)
	return nil
}
