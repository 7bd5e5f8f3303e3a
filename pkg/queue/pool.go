package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dukex/actiond/pkg/protocol"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool runs tasks on at most size goroutines. Submit blocks while the
// backlog is full.
type Pool struct {
	name   string
	logger *slog.Logger

	tasks chan protocol.Task
	sem   *semaphore.Weighted
	size  int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	dispatcher sync.WaitGroup
	running    sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
}

func NewPool(name string, size, backlog int, logger *slog.Logger) *Pool {
	size = max(size, 1)
	backlog = max(backlog, 0)

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		name:   name,
		logger: logger.With("module", "worker_pool", "pool", name),
		tasks:  make(chan protocol.Task, backlog),
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.dispatcher.Add(1)

	go p.dispatch()

	return p
}

func (p *Pool) Submit(ctx context.Context, task protocol.Task) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)

		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) dispatch() {
	defer p.dispatcher.Done()

	for {
		select {
		case <-p.done:
			return
		case task := <-p.tasks:
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				return
			}

			p.running.Add(1)

			go p.run(task)
		}
	}
}

func (p *Pool) run(task protocol.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", "panic", r)
		}

		p.completed.Add(1)
		p.sem.Release(1)
		p.running.Done()
	}()

	task(context.WithoutCancel(p.ctx))
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Submitted returns the number of tasks accepted so far.
func (p *Pool) Submitted() int64 {
	return p.submitted.Load()
}

func (p *Pool) Completed() int64 {
	return p.completed.Load()
}

// Shutdown stops accepting tasks and waits for running ones. Tasks still in
// the backlog are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		close(p.done)
		p.cancel()
	})

	p.dispatcher.Wait()

	if dropped := len(p.tasks); dropped > 0 {
		p.logger.Warn("Dropping queued tasks on shutdown", "count", dropped)
	}

	finished := make(chan struct{})

	go func() {
		p.running.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
