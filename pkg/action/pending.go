package action

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/queue"
	"github.com/dukex/actiond/pkg/txn"
)

const (
	pendingActionsResource = "actiond.post-transaction-pending-actions"
	pendingActionsListener = "actiond.post-transaction-pending-actions-listener"
)

// PendingAction is an asynchronous execution waiting for its transaction to commit.
type PendingAction struct {
	Action          *models.Action
	Target          models.NodeRef
	CheckConditions bool
	Chain           models.ActionChain
}

func (p PendingAction) same(other PendingAction) bool {
	return p.Action.ID() == other.Action.ID() && p.Target == other.Target
}

type pendingActions struct {
	mu      sync.Mutex
	actions []PendingAction
}

func (p *pendingActions) add(pending PendingAction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.actions {
		if existing.same(pending) {
			return false
		}
	}

	p.actions = append(p.actions, pending)

	return true
}

func (p *pendingActions) drain() []PendingAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	actions := p.actions
	p.actions = nil

	return actions
}

func (s *Service) addPostTransactionPendingAction(ctx context.Context, a *models.Action, target models.NodeRef, checkConditions bool, chain models.ActionChain) error {
	if chain.Contains(a.ID()) {
		s.logger.DebugContext(ctx, "Skipping pending action already in the chain", "action_id", a.ID(), "chain", chain.IDs())

		return nil
	}

	pending, err := s.pendingList(ctx)
	if err != nil {
		return &ServiceError{Op: "ExecuteAction", ActionID: a.ID(), Err: err}
	}

	if user := auth.User(ctx); user != "" {
		a.RunAsUser = user
	}

	// rules already run in this transaction follow the action to its worker
	if len(a.ExecutedRules) == 0 {
		if rules := queue.ExecutedRules(ctx); len(rules) > 0 {
			a.ExecutedRules = slices.Clone(rules)
		}
	}

	if pending.add(PendingAction{Action: a, Target: target, CheckConditions: checkConditions, Chain: chain}) {
		s.logger.DebugContext(ctx, "Added post transaction pending action", "action_id", a.ID(), "target", target.String())
	}

	return nil
}

// pendingList returns the pending actions of the current transaction,
// binding the list and its listener on first use.
func (s *Service) pendingList(ctx context.Context) (*pendingActions, error) {
	t, ok := txn.FromContext(ctx)
	if !ok {
		return nil, txn.ErrNoTransaction
	}

	if v, ok := t.Resource(pendingActionsResource); ok {
		return v.(*pendingActions), nil
	}

	pending := &pendingActions{}

	if err := t.BindResource(pendingActionsResource, pending); err != nil {
		return nil, err
	}

	l := &pendingListener{service: s, pending: pending, txnID: t.ID()}
	if err := t.BindListener(pendingActionsListener, l); err != nil {
		return nil, err
	}

	return pending, nil
}

// PostTransactionPendingActions returns the actions waiting on the current transaction.
func (s *Service) PostTransactionPendingActions(ctx context.Context) []PendingAction {
	v, ok := txn.Resource(ctx, pendingActionsResource)
	if !ok {
		return nil
	}

	pending := v.(*pendingActions)

	pending.mu.Lock()
	defer pending.mu.Unlock()

	out := make([]PendingAction, len(pending.actions))
	copy(out, pending.actions)

	return out
}

// pendingListener queues the pending actions once their transaction commits.
type pendingListener struct {
	service *Service
	pending *pendingActions
	txnID   string
}

func (l *pendingListener) BeforeCommit(context.Context) error {
	return nil
}

func (l *pendingListener) AfterCommit(ctx context.Context) {
	for _, p := range l.pending.drain() {
		l.service.queuePending(ctx, p, l.txnID)
	}
}

func (l *pendingListener) AfterRollback(ctx context.Context) {
	if dropped := l.pending.drain(); len(dropped) > 0 {
		l.service.logger.DebugContext(ctx, "Discarded pending actions of rolled back transaction", "count", len(dropped), "txn_id", l.txnID)
	}
}

func (s *Service) queuePending(ctx context.Context, p PendingAction, txnID string) {
	logger := s.logger.With("action_id", p.Action.ID(), "target", p.Target.String(), "txn_id", txnID)

	q, err := s.queueFor(p.Action)
	if err != nil {
		logger.ErrorContext(ctx, "Cannot queue pending action", "error", err)

		return
	}

	accepted, err := q.ExecuteAction(ctx, s, p.Action, p.Target, p.CheckConditions, p.Chain)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to queue pending action", "error", err)

		return
	}

	if accepted {
		logger.DebugContext(ctx, "Queued pending action", "queue", q.Name())
	}
}
