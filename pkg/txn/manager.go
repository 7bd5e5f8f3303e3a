package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Manager struct {
	logger *slog.Logger

	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(*Manager)

// WithRetry configures how DoRetrying backs off between attempts.
func WithRetry(maxRetries uint64, initial, max time.Duration) Option {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.initialInterval = initial
		m.maxInterval = max
	}
}

func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:          logger.With("module", "txn"),
		maxRetries:      5,
		initialInterval: 20 * time.Millisecond,
		maxInterval:     time.Second,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Begin starts a new transaction and binds it to the returned context. Any
// transaction already bound to ctx is shadowed, not joined.
func (m *Manager) Begin(ctx context.Context) (context.Context, *Transaction) {
	t := newTransaction(m.logger)
	m.logger.Debug("Transaction started", "txn_id", t.id)

	return context.WithValue(ctx, txnKey{}, t), t
}

// Do runs todo in a new transaction. The transaction is rolled back if todo
// returns an error or panics, and committed otherwise.
func (m *Manager) Do(ctx context.Context, todo func(ctx context.Context) error) (err error) {
	txCtx, t := m.Begin(ctx)

	defer func() {
		if r := recover(); r != nil {
			t.Rollback(txCtx)
			panic(r)
		}
	}()

	if err := todo(txCtx); err != nil {
		t.Rollback(txCtx)

		return err
	}

	return t.Commit(txCtx)
}

// DoRetrying runs todo like Do, starting a fresh transaction for every
// attempt. Only errors matching ErrConcurrencyConflict are retried.
func (m *Manager) DoRetrying(ctx context.Context, todo func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval
	b.MaxInterval = m.maxInterval

	attempt := 0
	operation := func() error {
		attempt++

		err := m.Do(ctx, todo)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrConcurrencyConflict) {
			m.logger.Debug("Retrying transaction after conflict", "attempt", attempt, "error", err)

			return err
		}

		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, m.maxRetries), ctx))
	if err != nil && errors.Is(err, ErrConcurrencyConflict) {
		return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
	}

	return err
}
