package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "nexus/pkg/domain"
)

func receive(t *testing.T, sub *Subscription) Signal {
	t.Helper()
	select {
	case sig, ok := <-sub.Signals():
		require.True(t, ok, "subscription closed")
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}
	}
}

func assertClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Signals():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalBus(t *testing.T) {
	ctx := context.Background()
	t1, t2 := id.TenantID(uuid.New()), id.TenantID(uuid.New())

	t.Run("delivers only to the addressed tenant", func(t *testing.T) {
		bus := NewLocalBus()
		sub1, err := bus.Subscribe(ctx, t1)
		require.NoError(t, err)
		defer sub1.Close()
		sub2, err := bus.Subscribe(ctx, t2)
		require.NoError(t, err)
		defer sub2.Close()

		requestID := id.NewTransferID()
		require.NoError(t, bus.Publish(ctx, Signal{TenantID: t1, RequestID: requestID, Reason: ReasonCreated}))

		sig := receive(t, sub1)
		assert.Equal(t, requestID, sig.RequestID)
		select {
		case <-sub2.Signals():
			t.Fatal("other tenant must not be signalled")
		default:
		}
	})

	t.Run("bursts coalesce into one pending signal", func(t *testing.T) {
		bus := NewLocalBus()
		sub, err := bus.Subscribe(ctx, t1)
		require.NoError(t, err)
		defer sub.Close()

		for i := 0; i < 10; i++ {
			require.NoError(t, bus.Publish(ctx, Signal{TenantID: t1, RequestID: id.NewTransferID()}))
		}
		receive(t, sub)
		select {
		case <-sub.Signals():
			t.Fatal("expected a single coalesced signal")
		default:
		}
	})

	t.Run("cancelling the viewing context tears the subscription down", func(t *testing.T) {
		bus := NewLocalBus()
		viewCtx, cancel := context.WithCancel(ctx)
		sub, err := bus.Subscribe(viewCtx, t1)
		require.NoError(t, err)
		assert.Equal(t, 1, bus.Subscribers(t1))

		cancel()
		assertClosed(t, sub)
		assert.Equal(t, 0, bus.Subscribers(t1))
		assert.NoError(t, bus.Publish(ctx, Signal{TenantID: t1}))
		sub.Close()
	})
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	bus := NewRedisBus(client, WithChannelPrefix("test:transfers:"))
	tenant := id.TenantID(uuid.New())

	t.Run("round trips a signal through pub/sub", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, tenant)
		require.NoError(t, err)
		defer sub.Close()

		requestID := id.NewTransferID()
		require.NoError(t, bus.Publish(ctx, Signal{TenantID: tenant, RequestID: requestID, Reason: ReasonAccepted, At: time.Now().UTC()}))

		sig := receive(t, sub)
		assert.Equal(t, requestID, sig.RequestID)
		assert.Equal(t, ReasonAccepted, sig.Reason)
		assert.Equal(t, "test:transfers:"+tenant.String(), bus.Channel(tenant))
	})

	t.Run("close ends the subscription", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, tenant)
		require.NoError(t, err)
		sub.Close()
		assertClosed(t, sub)
	})

	t.Run("unreachable redis fails publish and subscribe", func(t *testing.T) {
		dead := miniredis.RunT(t)
		deadClient := redis.NewClient(&redis.Options{Addr: dead.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = deadClient.Close() })
		dead.Close()

		deadBus := NewRedisBus(deadClient)
		assert.Error(t, deadBus.Publish(ctx, Signal{TenantID: tenant}))

		subCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		err := Watch(subCtx, deadBus, tenant, func(Signal) {})
		var nerr *NotificationError
		require.True(t, errors.As(err, &nerr))
		assert.Equal(t, "subscribe", nerr.Op)
	})
}

func TestWatch(t *testing.T) {
	bus := NewLocalBus()
	tenant := id.TenantID(uuid.New())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, bus, tenant, func(Signal) {
			calls.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return bus.Subscribers(tenant) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), Signal{TenantID: tenant}))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type failingBus struct{}

func (failingBus) Publish(context.Context, Signal) error { return errors.New("redis down") }

func (failingBus) Subscribe(context.Context, id.TenantID) (*Subscription, error) {
	return nil, errors.New("redis down")
}

func TestPublisher_NotifyNeverFails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var hooked atomic.Int32
	p := NewPublisher(failingBus{}, WithLogger(logger), WithErrorHook(func(err error) {
		var nerr *NotificationError
		assert.True(t, errors.As(err, &nerr))
		hooked.Add(1)
	}))

	p.Notify(context.Background(), id.NewTransferID(), ReasonRejected, id.TenantID(uuid.New()), id.TenantID(uuid.New()))
	assert.Equal(t, int32(2), hooked.Load())
	assert.Contains(t, buf.String(), "transfer notification failed")

	t.Run("fans out to every tenant", func(t *testing.T) {
		bus := NewLocalBus()
		t1, t2 := id.TenantID(uuid.New()), id.TenantID(uuid.New())
		s1, err := bus.Subscribe(context.Background(), t1)
		require.NoError(t, err)
		defer s1.Close()
		s2, err := bus.Subscribe(context.Background(), t2)
		require.NoError(t, err)
		defer s2.Close()

		NewPublisher(bus).Notify(context.Background(), id.NewTransferID(), ReasonCreated, t1, t2)
		assert.Equal(t, t1, receive(t, s1).TenantID)
		assert.Equal(t, t2, receive(t, s2).TenantID)
	})
}
