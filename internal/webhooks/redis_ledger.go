package webhooks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLedgerTTL covers Stripe's redelivery window of three days.
const DefaultLedgerTTL = 72 * time.Hour

const ledgerKeyPrefix = "propline:webhooks:processed:"

// RedisLedger records processed event IDs as expiring Redis keys.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLedger creates a Redis-backed ledger. A non-positive ttl uses
// DefaultLedgerTTL.
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func (r *RedisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, ledgerKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Record is first-writer-wins.
func (r *RedisLedger) Record(ctx context.Context, rec Record) error {
	return r.client.SetNX(ctx, ledgerKeyPrefix+rec.EventID, string(rec.Outcome), r.ttl).Err()
}

var _ Ledger = (*RedisLedger)(nil)
