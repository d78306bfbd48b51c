package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// RedisNonceLedger remembers (client, nonce) pairs in Redis with a TTL,
// sharing request-replay protection across redundant validators.
type RedisNonceLedger struct {
	client *redis.Client
	window time.Duration
}

var _ interfaces.NonceLedger = (*RedisNonceLedger)(nil)

// NewRedisNonceLedger creates a ledger from a redis:// URL with the given
// retention window.
func NewRedisNonceLedger(rawURL string, window time.Duration) (*RedisNonceLedger, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisNonceLedger{client: redis.NewClient(opts), window: window}, nil
}

// Remember records the pair with SET NX so exactly one request per window
// sees it as fresh.
func (l *RedisNonceLedger) Remember(ctx context.Context, clientID, nonce string) (bool, error) {
	key := "yubistack:nonce:" + clientID + ":" + nonce
	fresh, err := l.client.SetNX(ctx, key, 1, l.window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return fresh, nil
}
