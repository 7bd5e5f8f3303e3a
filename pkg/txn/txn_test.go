package txn

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewManager(logger, WithRetry(3, time.Millisecond, 5*time.Millisecond))
}

func TestDo_CommitRunsAfterCommitListeners(t *testing.T) {
	m := newTestManager()

	var events []string
	err := m.Do(t.Context(), func(ctx context.Context) error {
		require.NoError(t, BindListener(ctx, "l", ListenerFuncs{
			OnBeforeCommit: func(context.Context) error {
				events = append(events, "before")

				return nil
			},
			OnAfterCommit:   func(context.Context) { events = append(events, "after-commit") },
			OnAfterRollback: func(context.Context) { events = append(events, "after-rollback") },
		}))
		events = append(events, "work")

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"work", "before", "after-commit"}, events)
}

func TestDo_ErrorRollsBack(t *testing.T) {
	m := newTestManager()
	boom := errors.New("boom")

	var events []string
	err := m.Do(t.Context(), func(ctx context.Context) error {
		require.NoError(t, AfterCommit(ctx, func(context.Context) { events = append(events, "commit") }))
		require.NoError(t, AfterRollback(ctx, func(context.Context) { events = append(events, "rollback") }))

		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"rollback"}, events)
}

func TestDo_PanicRollsBack(t *testing.T) {
	m := newTestManager()

	rolledBack := false
	assert.Panics(t, func() {
		_ = m.Do(t.Context(), func(ctx context.Context) error {
			_ = AfterRollback(ctx, func(context.Context) { rolledBack = true })

			panic("bang")
		})
	})

	assert.True(t, rolledBack)
}

func TestCommit_BeforeCommitFailureRollsBack(t *testing.T) {
	m := newTestManager()

	rolledBack := false
	err := m.Do(t.Context(), func(ctx context.Context) error {
		_ = BindListener(ctx, "veto", ListenerFuncs{
			OnBeforeCommit:  func(context.Context) error { return errors.New("veto") },
			OnAfterRollback: func(context.Context) { rolledBack = true },
		})

		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "veto")
	assert.True(t, rolledBack)
}

func TestBindListener_IdempotentPerKey(t *testing.T) {
	m := newTestManager()

	count := 0
	err := m.Do(t.Context(), func(ctx context.Context) error {
		l := ListenerFuncs{OnAfterCommit: func(context.Context) { count++ }}
		require.NoError(t, BindListener(ctx, "same", l))
		require.NoError(t, BindListener(ctx, "same", l))

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResources(t *testing.T) {
	m := newTestManager()

	_, ok := Resource(t.Context(), "k")
	assert.False(t, ok)
	assert.ErrorIs(t, BindResource(t.Context(), "k", 1), ErrNoTransaction)

	err := m.Do(t.Context(), func(ctx context.Context) error {
		require.NoError(t, BindResource(ctx, "k", 42))

		v, ok := Resource(ctx, "k")
		assert.True(t, ok)
		assert.Equal(t, 42, v)

		return nil
	})
	require.NoError(t, err)
}

func TestAfterCommit_RunsOutsideTransaction(t *testing.T) {
	m := newTestManager()

	inTxn := true
	err := m.Do(t.Context(), func(ctx context.Context) error {
		return AfterCommit(ctx, func(ctx context.Context) {
			_, inTxn = FromContext(ctx)
		})
	})

	require.NoError(t, err)
	assert.False(t, inTxn)
}

func TestBegin_FreshTransactionShadowsOuter(t *testing.T) {
	m := newTestManager()

	outerCtx, outer := m.Begin(t.Context())
	innerCtx, inner := m.Begin(outerCtx)

	got, ok := FromContext(innerCtx)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.NotEqual(t, outer.ID(), inner.ID())

	require.NoError(t, inner.Commit(innerCtx))
	assert.Equal(t, StateActive, outer.State())

	outer.Rollback(outerCtx)
	assert.Equal(t, StateRolledBack, outer.State())
	assert.ErrorIs(t, outer.Commit(outerCtx), ErrFinished)
}

func TestDoRetrying_RetriesConflicts(t *testing.T) {
	m := newTestManager()

	attempts := 0
	err := m.DoRetrying(t.Context(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return ErrConcurrencyConflict
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoRetrying_DoesNotRetryOtherErrors(t *testing.T) {
	m := newTestManager()
	boom := errors.New("boom")

	attempts := 0
	err := m.DoRetrying(t.Context(), func(ctx context.Context) error {
		attempts++

		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDoRetrying_GivesUp(t *testing.T) {
	m := newTestManager()

	attempts := 0
	err := m.DoRetrying(t.Context(), func(ctx context.Context) error {
		attempts++

		return ErrConcurrencyConflict
	})

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, 4, attempts)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "committed", StateCommitted.String())
	assert.Equal(t, "State(9)", State(9).String())
}
