package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "nexus/pkg/domain-errors"
)

// SQLRunner runs units of work inside a database/sql transaction.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
	opts    *sql.TxOptions
}

// SQLOption configures a SQLRunner.
type SQLOption func(*SQLRunner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) SQLOption {
	return func(r *SQLRunner) {
		r.timeout = d
	}
}

// WithIsolation sets the isolation level of every transaction.
func WithIsolation(level sql.IsolationLevel) SQLOption {
	return func(r *SQLRunner) {
		r.opts = &sql.TxOptions{Isolation: level}
	}
}

func NewSQLRunner(db *sql.DB, opts ...SQLOption) *SQLRunner {
	r := &SQLRunner{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	// Nested calls join the outer transaction.
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	ctx, cancel := withDefaultTimeout(ctx, r.timeout)
	defer cancel()

	sqlTx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return err
	}
	return nil
}
