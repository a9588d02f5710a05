// Package tx carries transactional boundaries through context so that stores
// participating in one unit of work join the same transaction.
package tx

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// DefaultTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Runner executes fn inside a transactional boundary. Stores reached through
// txCtx take part in the same transaction; an error from fn rolls it back.
type Runner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type ctxKey struct{}
type journalKey struct{}

var (
	txKey      = ctxKey{}
	journalCtx = journalKey{}
)

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// journal stages writes for in-memory stores. Commit steps run in order once
// the unit of work succeeds; undo steps run in reverse order when it fails.
type journal struct {
	mu    sync.Mutex
	apply []func()
	undo  []func()
}

func (j *journal) onCommit(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.apply = append(j.apply, fn)
}

func (j *journal) add(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = append(j.undo, fn)
}

func (j *journal) commit() {
	j.mu.Lock()
	steps := j.apply
	j.apply, j.undo = nil, nil
	j.mu.Unlock()
	for _, step := range steps {
		step()
	}
}

func (j *journal) rollback() {
	j.mu.Lock()
	steps := j.undo
	j.apply, j.undo = nil, nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// OnCommit registers a write to apply when the surrounding in-memory
// transaction commits. Until then nothing outside the transaction sees it.
// It reports false outside a transaction, where the caller applies the write
// itself.
func OnCommit(ctx context.Context, apply func()) bool {
	j, ok := ctx.Value(journalCtx).(*journal)
	if !ok {
		return false
	}
	j.onCommit(apply)
	return true
}

// OnRollback registers a compensating step to run if the surrounding in-memory
// transaction fails. Outside a transaction it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalCtx).(*journal); ok {
		j.add(undo)
	}
}

// InProgress reports whether ctx already belongs to a transaction.
func InProgress(ctx context.Context) bool {
	if _, ok := From(ctx); ok {
		return true
	}
	_, ok := ctx.Value(journalCtx).(*journal)
	return ok
}

func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
