// Package queue runs actions asynchronously on a worker pool, dropping
// submissions that duplicate an action already in flight.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/otelhelper"
	"github.com/dukex/actiond/pkg/protocol"
	"github.com/dukex/actiond/pkg/txn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExecutedRulesResource is the transaction resource holding the rules that
// led to an asynchronous execution.
const ExecutedRulesResource = "actiond.executed-rules"

var ErrMissingRunAsUser = errors.New("action has no run-as user")

type Queue struct {
	name     string
	logger   *slog.Logger
	executor protocol.TaskExecutor
	txns     *txn.Manager

	mu      sync.Mutex
	ongoing []models.OngoingAsyncAction

	filtersMu sync.RWMutex
	filters   map[string][]protocol.AsyncActionFilter
	hooks     []protocol.AsyncActionExecutedHook
}

func New(name string, executor protocol.TaskExecutor, txns *txn.Manager, logger *slog.Logger) *Queue {
	return &Queue{
		name:     name,
		logger:   logger.With("module", "async_queue", "queue", name),
		executor: executor,
		txns:     txns,
		filters:  make(map[string][]protocol.AsyncActionFilter),
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) RegisterFilter(filter protocol.AsyncActionFilter) {
	q.filtersMu.Lock()
	defer q.filtersMu.Unlock()

	name := filter.ActionDefinitionName()
	q.filters[name] = append(q.filters[name], filter)
}

// OnExecuted registers a hook run after each successful worker transaction.
func (q *Queue) OnExecuted(hook protocol.AsyncActionExecutedHook) {
	q.filtersMu.Lock()
	defer q.filtersMu.Unlock()

	q.hooks = append(q.hooks, hook)
}

// Ongoing returns the actions accepted and not yet finished.
func (q *Queue) Ongoing() []models.OngoingAsyncAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.ongoing)
}

// ExecuteAction queues the action for a worker. It returns false when an
// equivalent action is already ongoing and the submission was dropped.
func (q *Queue) ExecuteAction(ctx context.Context, runtime protocol.ActionRuntime, action *models.Action, target models.NodeRef, checkConditions bool, chain models.ActionChain) (bool, error) {
	if action.RunAsUser == "" {
		return false, fmt.Errorf("queue %s action %s: %w", q.name, action.ID(), ErrMissingRunAsUser)
	}

	candidate := models.NewOngoingAsyncAction(target, action)

	if !q.accept(candidate) {
		q.logger.DebugContext(ctx, "Dropping action equivalent to an ongoing one", "action", candidate.String())

		return false, nil
	}

	runtime.ActionQueued(ctx, action)

	task := q.worker(runtime, candidate, checkConditions, chain, trace.LinkFromContext(ctx))
	if err := q.executor.Submit(context.WithoutCancel(ctx), task); err != nil {
		q.removeOngoing(candidate)

		return false, fmt.Errorf("queue %s: submit action %s: %w", q.name, action.ID(), err)
	}

	return true, nil
}

// accept scans and appends under one lock so concurrent submissions of
// equivalent actions cannot both pass.
func (q *Queue) accept(candidate models.OngoingAsyncAction) bool {
	q.filtersMu.RLock()
	filters := q.filters[candidate.Action.DefinitionName()]
	q.filtersMu.RUnlock()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, filter := range filters {
		for _, existing := range q.ongoing {
			if filter.Compare(existing, candidate) == 0 {
				return false
			}
		}
	}

	q.ongoing = append(q.ongoing, candidate)

	return true
}

func (q *Queue) removeOngoing(candidate models.OngoingAsyncAction) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ongoing = slices.DeleteFunc(q.ongoing, func(o models.OngoingAsyncAction) bool {
		return o.Action == candidate.Action && o.Target == candidate.Target
	})
}

// worker builds the pool task. Its span links back to the span that queued
// the action, since the task runs long after that request ended.
func (q *Queue) worker(runtime protocol.ActionRuntime, candidate models.OngoingAsyncAction, checkConditions bool, chain models.ActionChain, origin trace.Link) protocol.Task {
	action := candidate.Action
	target := candidate.Target

	return func(ctx context.Context) {
		defer q.removeOngoing(candidate)

		ctx, span := otel.Tracer("actiond/queue").Start(ctx, "queue.task",
			trace.WithLinks(origin),
			trace.WithAttributes(
				attribute.String(otelhelper.QueueNameKey, q.name),
				attribute.String(otelhelper.ActionIDKey, action.ID()),
				attribute.String(otelhelper.TargetNodeKey, target.String()),
			),
		)
		defer span.End()

		defer func() {
			if r := recover(); r != nil {
				q.logger.ErrorContext(ctx, "Asynchronous action panicked", "action_id", action.ID(), "panic", r)
			}
		}()

		logger := q.logger.With("action_id", action.ID(), "action_type", action.DefinitionName(), "target", target.String())

		err := auth.RunAs(ctx, action.RunAsUser, func(ctx context.Context) error {
			return q.txns.DoRetrying(ctx, func(ctx context.Context) error {
				if len(action.ExecutedRules) > 0 {
					if err := txn.BindResource(ctx, ExecutedRulesResource, slices.Clone(action.ExecutedRules)); err != nil {
						return err
					}
				}

				if err := txn.AfterCommit(ctx, func(ctx context.Context) { q.fireExecuted(ctx, action, target) }); err != nil {
					return err
				}

				return runtime.ExecuteActionImpl(ctx, action, target, checkConditions, true, chain)
			})
		})
		if err != nil {
			otelhelper.SetError(span, err)
			logger.ErrorContext(ctx, "Failed to execute asynchronous action", "error", err)

			return
		}

		logger.DebugContext(ctx, "Asynchronous action executed")
	}
}

func (q *Queue) fireExecuted(ctx context.Context, action *models.Action, target models.NodeRef) {
	q.filtersMu.RLock()
	hooks := slices.Clone(q.hooks)
	q.filtersMu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, action, target)
	}
}

// ExecutedRules returns the rules bound to the current worker transaction.
func ExecutedRules(ctx context.Context) []string {
	v, ok := txn.Resource(ctx, ExecutedRulesResource)
	if !ok {
		return nil
	}

	rules, _ := v.([]string)

	return rules
}
