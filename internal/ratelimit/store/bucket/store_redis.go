package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crvs/internal/ratelimit/models"
)

const keyPrefix = "crvs:ratelimit:"

// allowScript trims the sorted set to the window, then admits cost members
// only if they all fit. Returns {allowed, count, reset_ms}.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')

if count + cost > limit then
  local reset = now + window
  if oldest[2] then reset = tonumber(oldest[2]) + window end
  return {0, count, reset}
end

for i = 1, cost do
  redis.call('ZADD', key, now, ARGV[5] .. ':' .. i)
end
redis.call('PEXPIRE', key, window)

local reset = now + window
if oldest[2] then reset = tonumber(oldest[2]) + window end
return {1, count + cost, reset}
`)

// RedisBucketStore shares sliding windows across replicas through sorted sets.
type RedisBucketStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisBucketStore(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (models.RateLimitResult, error) {
	if cost < 1 {
		return models.RateLimitResult{}, ErrInvalidCost
	}
	now := s.now()
	vals, err := allowScript.Run(ctx, s.client, []string{keyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, cost, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return models.RateLimitResult{}, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}

	result := models.RateLimitResult{
		Allowed: vals[0] == 1,
		Limit:   limit,
		ResetAt: time.UnixMilli(vals[2]),
	}
	if result.Allowed {
		result.Remaining = max(limit-int(vals[1]), 0)
	}
	return result, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
