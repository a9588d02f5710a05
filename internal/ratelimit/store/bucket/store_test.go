package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/ratelimit/models"
)

type store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func stores(t *testing.T, c *clock) map[string]store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]store{
		"memory": NewInMemoryBucketStore(WithMemoryClock(c.Now)),
		"redis":  NewRedisBucketStore(client, WithRedisClock(c.Now)),
	}
}

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			c := &clock{now: start}
			s := stores(t, c)[name]

			for i := range 3 {
				res, err := s.Allow(ctx, "k", 3, time.Minute)
				require.NoError(t, err)
				assert.True(t, res.Allowed)
				assert.Equal(t, 2-i, res.Remaining)
				assert.Equal(t, start.Add(time.Minute), res.ResetAt)
				c.now = c.now.Add(10 * time.Second)
			}

			res, err := s.Allow(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 30, res.RetryAfter, "first request leaves the window at +60s")

			other, err := s.Allow(ctx, "other", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, other.Allowed, "keys are independent")

			c.now = start.Add(time.Minute + time.Millisecond)
			res, err = s.Allow(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, res.Allowed, "oldest request expired")

			require.NoError(t, s.Reset(ctx, "k"))
			res, err = s.Allow(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Remaining)
		})
	}
}
