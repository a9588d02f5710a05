package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"nexus/internal/ratelimit/models"
)

// slidingWindowScript trims expired entries, then records the request when
// there is room. Replies {allowed, count, oldest_ms}.
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
	redis.call('PEXPIRE', key, window)
	count = count + 1
	allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
	oldestScore = oldest[2]
end
return {allowed, count, tostring(oldestScore)}
`)

// RedisBucketStore keeps each window in a sorted set so every replica sees
// the same count.
type RedisBucketStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

type RedisOption func(*RedisBucketStore)

// WithRedisClock overrides the time source. Used by tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisBucketStore) {
		s.now = now
	}
}

func NewRedisBucketStore(client redis.UniversalClient, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	reply, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %v", reply)
	}
	allowed, _ := reply[0].(int64)
	count, _ := reply[1].(int64)
	oldestRaw, _ := reply[2].(string)
	oldestMs, err := strconv.ParseFloat(oldestRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("rate limit script: parse oldest %q: %w", oldestRaw, err)
	}
	oldest := time.UnixMilli(int64(oldestMs))

	if allowed == 0 {
		return models.Denied(limit, window, oldest, now), nil
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: max(limit-int(count), 0),
		ResetAt:   oldest.Add(window),
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
