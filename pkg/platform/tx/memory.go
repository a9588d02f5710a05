package tx

import (
	"context"
	"sync"
	"time"

	dErrors "nexus/pkg/domain-errors"
)

// numShards spreads unrelated units of work across locks so that two
// transfers never contend unless they share a shard key.
const numShards = 128

// ShardedRunner is the in-memory Runner. Work sharing a shard key is
// serialized. Writes staged through OnCommit are applied before the shard is
// released, and steps registered through OnRollback run when fn fails.
type ShardedRunner struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// ShardedOption configures a ShardedRunner.
type ShardedOption func(*ShardedRunner)

// WithShardTimeout overrides DefaultTimeout.
func WithShardTimeout(d time.Duration) ShardedOption {
	return func(r *ShardedRunner) {
		r.timeout = d
	}
}

func NewShardedRunner(opts ...ShardedOption) *ShardedRunner {
	r := &ShardedRunner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type shardKey struct{}

var shardKeyCtx = shardKey{}

// WithShardKey selects the lock a unit of work runs under.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, shardKeyCtx, key)
}

func (r *ShardedRunner) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if InProgress(ctx) {
		return fn(ctx)
	}

	ctx, cancel := withDefaultTimeout(ctx, r.timeout)
	defer cancel()

	shard := r.selectShard(ctx)
	r.shards[shard].Lock()
	defer r.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalCtx, j)); err != nil {
		j.rollback()
		return err
	}
	j.commit()
	return nil
}

func (r *ShardedRunner) selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(shardKeyCtx).(string); ok && key != "" {
		return int(hashString(key) % numShards)
	}
	return 0
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
