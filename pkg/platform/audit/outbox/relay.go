package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nexus/internal/platform/kafka"
	txcontext "nexus/pkg/platform/tx"
)

// Source yields pending entries and acknowledges them once published.
type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher delivers a batch to the broker, returning only after every message
// was acknowledged.
type Publisher interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
}

// Relay polls the outbox and publishes pending rows. Delivery is
// at-least-once: a crash between publish and commit republishes the batch.
type Relay struct {
	source    Source
	publisher Publisher
	tx        txcontext.Runner
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(source Source, publisher Publisher, runner txcontext.Runner, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		tx:        runner,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Drain while full batches keep coming.
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// RelayOnce publishes a single batch and returns how many rows it covered.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var published int
	err := r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		entries, err := r.source.FetchPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, len(entries))
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			msgs[i] = kafka.Message{
				Key:   []byte(e.AggregateID),
				Value: e.Payload,
				Headers: map[string]string{
					"event_type":     e.EventType,
					"aggregate_type": e.AggregateType,
					"outbox_id":      e.ID.String(),
				},
			}
			ids[i] = e.ID
		}
		if err := r.publisher.Publish(txCtx, msgs); err != nil {
			return err
		}
		if err := r.source.MarkPublished(txCtx, ids, time.Now().UTC()); err != nil {
			return err
		}
		published = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.logger.DebugContext(ctx, "outbox batch relayed", "count", published)
	}
	return published, nil
}
