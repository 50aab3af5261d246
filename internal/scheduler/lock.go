package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// The release script only deletes the key when the stored token matches,
// so a lease that expired and was re-acquired elsewhere is never released
// by the previous holder.
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease is a best-effort distributed lock so only one instance runs the
// billing scans at a time. A nil Lease disables locking (single-instance
// deployments and tests).
type Lease struct {
	client *redis.Client
	script *redis.Script
}

func NewLease(client *redis.Client) *Lease {
	if client == nil {
		return nil
	}
	return &Lease{
		client: client,
		script: redis.NewScript(leaseReleaseScript),
	}
}

func (l *Lease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lease client not configured")
	}
	if key == "" {
		return "", false, errors.New("lease key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lease ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Lease) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
