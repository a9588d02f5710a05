//go:build integration

package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/pkg/testutil/containers"
)

func TestRedisBucketStore_ConcurrentCallers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := containers.GetManager().GetRedis(t).Client
	store := NewRedisBucketStore(client.Client)
	key := "rl:test:" + uuid.NewString()

	const limit = 5
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Allow(context.Background(), key, limit, time.Minute)
			if assert.NoError(t, err) && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(limit), allowed.Load(), "the script admits exactly the limit across callers")

	require.NoError(t, store.Reset(context.Background(), key))
	res, err := store.Allow(context.Background(), key, limit, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, limit-1, res.Remaining)
}
