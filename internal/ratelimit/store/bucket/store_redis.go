package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"emailissuer/internal/ratelimit/models"
)

// slidingWindowScript trims the window, admits the event if there is room and
// reports {allowed, count, resetAtMs}. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisBucketStore keeps sliding windows as sorted sets so every API
// instance shares the same counters.
type RedisBucketStore struct {
	client redis.Cmdable
	prefix string
	clock  func() time.Time
}

type RedisOption func(*RedisBucketStore)

// WithKeyPrefix namespaces keys, e.g. per deployment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisBucketStore) { s.prefix = prefix }
}

func WithRedisClock(clock func() time.Time) RedisOption {
	return func(s *RedisBucketStore) { s.clock = clock }
}

func NewRedisBucketStore(client redis.Cmdable, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{client: client, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := s.clock().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	raw, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		now, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("redis sliding window: unexpected reply length %d", len(raw))
	}

	allowed := raw[0] == 1
	res := &models.Result{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: time.UnixMilli(raw[2]),
	}
	if allowed {
		res.Remaining = limit - int(raw[1])
	}
	return res, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisBucketStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	min := "(" + strconv.FormatInt(s.clock().Add(-window).UnixMilli(), 10)
	n, err := s.client.ZCount(ctx, s.prefix+key, min, "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
