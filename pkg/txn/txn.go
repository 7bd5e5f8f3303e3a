// Package txn provides the ambient unit of work actions run in. A transaction
// carries bound resources and listeners that fire on commit or rollback.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrNoTransaction = errors.New("no active transaction")
	ErrFinished      = errors.New("transaction already finished")

	// ErrConcurrencyConflict marks failures that DoRetrying retries.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Listener is notified as a transaction finishes. BeforeCommit may veto the
// commit by returning an error.
type Listener interface {
	BeforeCommit(ctx context.Context) error
	AfterCommit(ctx context.Context)
	AfterRollback(ctx context.Context)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnBeforeCommit  func(ctx context.Context) error
	OnAfterCommit   func(ctx context.Context)
	OnAfterRollback func(ctx context.Context)
}

func (l ListenerFuncs) BeforeCommit(ctx context.Context) error {
	if l.OnBeforeCommit == nil {
		return nil
	}

	return l.OnBeforeCommit(ctx)
}

func (l ListenerFuncs) AfterCommit(ctx context.Context) {
	if l.OnAfterCommit != nil {
		l.OnAfterCommit(ctx)
	}
}

func (l ListenerFuncs) AfterRollback(ctx context.Context) {
	if l.OnAfterRollback != nil {
		l.OnAfterRollback(ctx)
	}
}

type Transaction struct {
	id     string
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	resources    map[string]any
	listeners    []Listener
	listenerKeys map[string]struct{}
}

func (t *Transaction) ID() string {
	return t.id
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Transaction) BindResource(key string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return ErrFinished
	}

	t.resources[key] = value

	return nil
}

func (t *Transaction) Resource(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.resources[key]

	return v, ok
}

// BindListener registers l once per key. Later bindings under the same key are ignored.
func (t *Transaction) BindListener(key string, l Listener) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return ErrFinished
	}

	if key != "" {
		if _, bound := t.listenerKeys[key]; bound {
			return nil
		}

		t.listenerKeys[key] = struct{}{}
	}

	t.listeners = append(t.listeners, l)

	return nil
}

// Commit runs the before-commit listeners and, if none fails, marks the
// transaction committed and runs the after-commit listeners. A before-commit
// failure rolls the transaction back and is returned.
func (t *Transaction) Commit(ctx context.Context) error {
	listeners, err := t.snapshot()
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, l := range listeners {
		if err := l.BeforeCommit(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		t.Rollback(ctx)

		return fmt.Errorf("before commit: %w", err)
	}

	if !t.finish(StateCommitted) {
		return ErrFinished
	}

	t.logger.Debug("Transaction committed", "txn_id", t.id)

	after := detach(ctx)
	for _, l := range listeners {
		t.safely("after commit", func() { l.AfterCommit(after) })
	}

	return nil
}

// Rollback is a no-op on a finished transaction.
func (t *Transaction) Rollback(ctx context.Context) {
	listeners, err := t.snapshot()
	if err != nil || !t.finish(StateRolledBack) {
		return
	}

	t.logger.Debug("Transaction rolled back", "txn_id", t.id)

	after := detach(ctx)
	for _, l := range listeners {
		t.safely("after rollback", func() { l.AfterRollback(after) })
	}
}

func (t *Transaction) snapshot() ([]Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return nil, ErrFinished
	}

	out := make([]Listener, len(t.listeners))
	copy(out, t.listeners)

	return out, nil
}

func (t *Transaction) finish(state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return false
	}

	t.state = state

	return true
}

func (t *Transaction) safely(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Transaction listener panicked", "txn_id", t.id, "phase", phase, "panic", r)
		}
	}()

	fn()
}

type txnKey struct{}

// detach strips the finished transaction so listeners run outside of it.
func detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, txnKey{}, (*Transaction)(nil))
}

func newTransaction(logger *slog.Logger) *Transaction {
	return &Transaction{
		id:           uuid.NewString(),
		logger:       logger,
		resources:    make(map[string]any),
		listenerKeys: make(map[string]struct{}),
	}
}

// FromContext returns the active transaction bound to ctx.
func FromContext(ctx context.Context) (*Transaction, bool) {
	t, _ := ctx.Value(txnKey{}).(*Transaction)
	if t == nil || t.State() != StateActive {
		return nil, false
	}

	return t, true
}

func BindResource(ctx context.Context, key string, value any) error {
	t, ok := FromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}

	return t.BindResource(key, value)
}

func Resource(ctx context.Context, key string) (any, bool) {
	t, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}

	return t.Resource(key)
}

func BindListener(ctx context.Context, key string, l Listener) error {
	t, ok := FromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}

	return t.BindListener(key, l)
}

// AfterCommit schedules fn to run once the current transaction commits.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) error {
	return BindListener(ctx, "", ListenerFuncs{OnAfterCommit: fn})
}

// AfterRollback schedules fn to run once the current transaction rolls back.
func AfterRollback(ctx context.Context, fn func(ctx context.Context)) error {
	return BindListener(ctx, "", ListenerFuncs{OnAfterRollback: fn})
}
