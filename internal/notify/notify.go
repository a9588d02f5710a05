// Package notify tells viewers that a tenant's transfer lists may have
// changed. Signals carry no state to apply: receivers re-fetch the list.
// Delivery is at-least-once and unordered, and signals may be coalesced.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	id "nexus/pkg/domain"
)

// Reason says what happened to the request that triggered a signal.
type Reason string

const (
	ReasonCreated  Reason = "created"
	ReasonClaimed  Reason = "claimed"
	ReasonAccepted Reason = "accepted"
	ReasonRejected Reason = "rejected"
)

// Signal invalidates the request lists of one tenant.
type Signal struct {
	TenantID  id.TenantID   `json:"tenant_id"`
	RequestID id.TransferID `json:"request_id"`
	Reason    Reason        `json:"reason"`
	At        time.Time     `json:"at"`
}

// Bus is a tenant-scoped pub-sub channel.
type Bus interface {
	Publish(ctx context.Context, sig Signal) error
	// Subscribe registers for signals addressed to tenant. The subscription
	// ends when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, tenant id.TenantID) (*Subscription, error)
}

// Subscription delivers signals for one tenant to one viewer.
type Subscription struct {
	tenant  id.TenantID
	signals chan Signal
	stop    func()
	once    sync.Once
}

func newSubscription(tenant id.TenantID, buffer int, stop func()) *Subscription {
	return &Subscription{tenant: tenant, signals: make(chan Signal, buffer), stop: stop}
}

// Signals is closed when the subscription ends.
func (s *Subscription) Signals() <-chan Signal {
	return s.signals
}

func (s *Subscription) Tenant() id.TenantID {
	return s.tenant
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.stop)
}

// offer delivers sig unless a signal is already waiting; one pending
// signal is enough to make the viewer re-fetch.
func (s *Subscription) offer(sig Signal) {
	select {
	case s.signals <- sig:
	default:
	}
}

// NotificationError reports that a signal could not be published or a
// subscription could not be opened. It never fails a transfer.
type NotificationError struct {
	Op       string
	TenantID id.TenantID
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s for tenant %s: %v", e.Op, e.TenantID, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Watch subscribes to tenant and calls onChange for every signal until ctx
// is cancelled. onChange should re-fetch the whole list.
func Watch(ctx context.Context, bus Bus, tenant id.TenantID, onChange func(Signal)) error {
	sub, err := bus.Subscribe(ctx, tenant)
	if err != nil {
		return &NotificationError{Op: "subscribe", TenantID: tenant, Err: err}
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sub.Signals():
			if !ok {
				return nil
			}
			onChange(sig)
		}
	}
}

// Publisher fans a change out to every tenant involved and swallows
// failures after logging them.
type Publisher struct {
	bus     Bus
	logger  *slog.Logger
	onError func(error)
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithErrorHook runs hook for every failed publish, e.g. to count it.
func WithErrorHook(hook func(error)) PublisherOption {
	return func(p *Publisher) {
		p.onError = hook
	}
}

func NewPublisher(bus Bus, opts ...PublisherOption) *Publisher {
	p := &Publisher{bus: bus, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify signals each tenant that requestID changed.
func (p *Publisher) Notify(ctx context.Context, requestID id.TransferID, reason Reason, tenants ...id.TenantID) {
	now := time.Now().UTC()
	for _, tenant := range tenants {
		sig := Signal{TenantID: tenant, RequestID: requestID, Reason: reason, At: now}
		if err := p.bus.Publish(ctx, sig); err != nil {
			nerr := &NotificationError{Op: "publish", TenantID: tenant, Err: err}
			p.logger.WarnContext(ctx, "transfer notification failed",
				"error", nerr,
				"request_id", requestID.String(),
				"reason", string(reason),
			)
			if p.onError != nil {
				p.onError(nerr)
			}
		}
	}
}
