package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasksWithBoundedConcurrency(t *testing.T) {
	pool := NewPool("bounded", 2, 10, testLogger())

	var current, peak atomic.Int32
	release := make(chan struct{})

	for range 6 {
		err := pool.Submit(t.Context(), func(context.Context) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			<-release
			current.Add(-1)
		})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool { return pool.Completed() == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, int64(6), pool.Submitted())
	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, "bounded", pool.Name())

	require.NoError(t, pool.Shutdown(t.Context()))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool("closed", 1, 1, testLogger())
	require.NoError(t, pool.Shutdown(t.Context()))
	require.NoError(t, pool.Shutdown(t.Context()))

	err := pool.Submit(t.Context(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_SubmitBlocksUntilContextDone(t *testing.T) {
	pool := NewPool("full", 1, 0, testLogger())
	release := make(chan struct{})

	t.Cleanup(func() {
		close(release)
		_ = pool.Shutdown(context.Background())
	})

	require.NoError(t, pool.Submit(t.Context(), func(context.Context) { <-release }))

	// the only worker is busy and there is no backlog, the dispatcher holds the next task
	assert.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_ = pool.Submit(ctx, func(context.Context) { <-release })

		ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel2()

		return pool.Submit(ctx2, func(context.Context) {}) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestPool_TaskPanicDoesNotKillPool(t *testing.T) {
	pool := NewPool("panics", 1, 1, testLogger())
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	require.NoError(t, pool.Submit(t.Context(), func(context.Context) { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(t.Context(), func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task did not run")
	}
}
