package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/broadbandx/billing/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyWebhookProvider = "webhook:provider:%s"

// WebhookLimiter throttles inbound payment webhooks per provider. Disabled
// limiters allow everything, so deployments without redis keep working.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config) *WebhookLimiter {
	if cfg.RedisAddr == "" || cfg.WebhookRateLimit <= 0 {
		return &WebhookLimiter{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	burst := cfg.WebhookRateBurst
	if burst <= 0 {
		burst = cfg.WebhookRateLimit
	}
	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    float64(cfg.WebhookRateLimit),
		burst:   burst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookProvider, strings.TrimSpace(provider)), l.rate, l.burst)
}

// RetryAfterSeconds rounds up for the Retry-After header.
func (r Result) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
