package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
)

// consumeScript does the compare-and-increment server-side, so concurrent
// callers against the same counter can never over-consume a shared quota.
// Returns {consumed, ok}: ok=0 means the increment would exceed the limit
// and nothing was recorded.
var consumeScript = redis.NewScript(`
local consumed = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if limit >= 0 and consumed + amount > limit then
  return {consumed, 0}
end
return {redis.call('INCRBY', KEYS[1], amount), 1}
`)

// RedisUsageStore is a Redis-backed UsageStore. Counters are plain integer
// keys incremented through a Lua script; old-period keys are retained for
// analytics (apply a retention policy externally if needed).
type RedisUsageStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisUsageStore creates a Redis usage store.
// Panics on nil client to fail fast during initialization.
func NewRedisUsageStore(client redis.UniversalClient) *RedisUsageStore {
	if client == nil {
		panic("ledger: redis client is required")
	}
	return &RedisUsageStore{client: client, keyPrefix: "usage"}
}

func (s *RedisUsageStore) key(workspaceID uuid.UUID, feature catalog.Feature, periodKey string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.keyPrefix, workspaceID, feature, periodKey)
}

// Add atomically increments the counter if the result stays within limit.
func (s *RedisUsageStore) Add(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string, amount, limit int64) (int64, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(workspaceID, feature, periodKey)}, amount, limit).Slice()
	if err != nil {
		return 0, err
	}
	if len(res) != 2 {
		return 0, errors.New("ledger: unexpected consume script result")
	}

	consumed, _ := res[0].(int64)
	ok, _ := res[1].(int64)
	if ok == 0 {
		return consumed, ErrInsufficientQuota
	}
	return consumed, nil
}

// Get returns the current consumption for the counter.
func (s *RedisUsageStore) Get(ctx context.Context, workspaceID uuid.UUID, feature catalog.Feature, periodKey string) (int64, error) {
	consumed, err := s.client.Get(ctx, s.key(workspaceID, feature, periodKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return consumed, nil
}
