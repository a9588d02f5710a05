package notify

import (
	"context"
	"sync"

	id "nexus/pkg/domain"
)

// LocalBus delivers signals to subscribers in the same process.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[id.TenantID]map[*Subscription]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[id.TenantID]map[*Subscription]struct{})}
}

func (b *LocalBus) Publish(_ context.Context, sig Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[sig.TenantID] {
		sub.offer(sig)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, tenant id.TenantID) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	var sub *Subscription
	sub = newSubscription(tenant, 1, func() {
		close(done)
		b.mu.Lock()
		delete(b.subs[tenant], sub)
		if len(b.subs[tenant]) == 0 {
			delete(b.subs, tenant)
		}
		close(sub.signals)
		b.mu.Unlock()
	})

	b.mu.Lock()
	if b.subs[tenant] == nil {
		b.subs[tenant] = make(map[*Subscription]struct{})
	}
	b.subs[tenant][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub, nil
}

// Subscribers returns how many subscriptions tenant currently has.
func (b *LocalBus) Subscribers(tenant id.TenantID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenant])
}
