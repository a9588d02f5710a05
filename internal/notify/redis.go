package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	id "nexus/pkg/domain"
)

// DefaultChannelPrefix namespaces the per-tenant pub/sub channels.
const DefaultChannelPrefix = "nexus:transfers:"

// RedisBus relays signals through Redis pub/sub so every service instance
// can notify the viewers connected to it.
type RedisBus struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

func WithChannelPrefix(prefix string) RedisBusOption {
	return func(b *RedisBus) {
		b.prefix = prefix
	}
}

func WithBusLogger(logger *slog.Logger) RedisBusOption {
	return func(b *RedisBus) {
		b.logger = logger
	}
}

func NewRedisBus(client redis.UniversalClient, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{client: client, prefix: DefaultChannelPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Channel returns the pub/sub channel for tenant.
func (b *RedisBus) Channel(tenant id.TenantID) string {
	return b.prefix + tenant.String()
}

func (b *RedisBus) Publish(ctx context.Context, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(sig.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, tenant id.TenantID) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.Channel(tenant))
	// Wait for the subscription to be confirmed so no signal published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.Channel(tenant), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	sub := newSubscription(tenant, 1, func() {
		cancel()
		<-done
	})

	go func() {
		defer close(done)
		defer close(sub.signals)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var sig Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					b.logger.WarnContext(loopCtx, "dropping malformed transfer signal",
						"channel", msg.Channel,
						"error", err,
					)
					continue
				}
				sub.offer(sig)
			}
		}
	}()
	return sub, nil
}
