// Package tracking records which actions are pending and running, and
// persists the outcome of executions onto their stored action nodes.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/cache"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/protocol"
	"github.com/dukex/actiond/pkg/txn"
)

// maxInstance bounds execution instances so keys stay short.
const maxInstance = math.MaxInt16

// Persister loads and saves stored actions so execution outcomes can be
// written back after the executing transaction finishes.
type Persister interface {
	LoadAction(ctx context.Context, actionNode models.NodeRef) (*models.Action, error)
	SaveActionImpl(ctx context.Context, owningNode, actionNode models.NodeRef, action *models.Action) error
}

type Service struct {
	logger    *slog.Logger
	cache     cache.Cache[models.ExecutionDetails]
	txns      *txn.Manager
	persister Persister
	runningOn string
	now       func() time.Time

	mu     sync.Mutex
	nextID int
}

type Option func(*Service)

func WithPersister(p Persister) Option {
	return func(s *Service) { s.persister = p }
}

// WithRunningOn overrides the host description stored with each execution.
func WithRunningOn(runningOn string) Option {
	return func(s *Service) { s.runningOn = runningOn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(c cache.Cache[models.ExecutionDetails], txns *txn.Manager, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		logger: logger.With("module", "tracking"),
		cache:  c,
		txns:   txns,
		now:    time.Now,
		nextID: 1,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.runningOn == "" {
		s.runningOn = hostDescription()
	}

	return s
}

// RunningOn describes the host recorded with each execution.
func (s *Service) RunningOn() string {
	return s.runningOn
}

// ResetNextExecutionID restarts instance numbering at 1.
func (s *Service) ResetNextExecutionID() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID = 1
}

func (s *Service) nextInstance() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	if s.nextID >= maxInstance {
		s.nextID = 1
	}

	return id
}

// assignInstance gives the action the next free instance and stores its details.
func (s *Service) assignInstance(ctx context.Context, action *models.Action) {
	for range maxInstance {
		id := s.nextInstance()
		action.UpdateExecution(func(st *models.ExecutionState) { st.Instance = id })

		key := CacheKeyOf(action)

		taken, err := s.cache.Contains(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to check execution key", "key", key, "error", err)
		}

		if !taken {
			s.put(ctx, key, BuildExecutionDetails(action, s.runningOn))

			return
		}
	}

	s.logger.ErrorContext(ctx, "No free execution instance", "action_id", action.ID())
}

func (s *Service) put(ctx context.Context, key string, details models.ExecutionDetails) {
	if err := s.cache.Put(ctx, key, details); err != nil {
		s.logger.WarnContext(ctx, "Failed to store execution details", "key", key, "error", err)
	}
}

func (s *Service) remove(ctx context.Context, key string) {
	if err := s.cache.Remove(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "Failed to remove execution details", "key", key, "error", err)
	}
}

// RecordActionPending marks the action as queued for asynchronous execution.
func (s *Service) RecordActionPending(ctx context.Context, action *models.Action) {
	action.UpdateExecution(func(st *models.ExecutionState) {
		st.Status = models.ActionStatusPending
		st.StartedAt = time.Time{}
		st.EndedAt = time.Time{}
		st.FailureMessage = ""
	})

	s.assignInstance(ctx, action)

	s.logger.DebugContext(ctx, "Action pending", "key", CacheKeyOf(action))
}

// RecordActionExecuting marks the action as running. A pending action keeps
// its instance; anything else gets a new one.
func (s *Service) RecordActionExecuting(ctx context.Context, action *models.Action) {
	wasPending := false

	action.UpdateExecution(func(st *models.ExecutionState) {
		wasPending = st.Status == models.ActionStatusPending
		st.Status = models.ActionStatusRunning
		st.StartedAt = s.now()
		st.EndedAt = time.Time{}
		st.FailureMessage = ""
	})

	if wasPending {
		s.put(ctx, CacheKeyOf(action), BuildExecutionDetails(action, s.runningOn))
	} else {
		s.assignInstance(ctx, action)
	}

	s.logger.DebugContext(ctx, "Action executing", "key", CacheKeyOf(action))
}

// RecordActionComplete clears the running record. Stored actions get their
// outcome written back once the current transaction commits.
func (s *Service) RecordActionComplete(ctx context.Context, action *models.Action) {
	action.UpdateExecution(func(st *models.ExecutionState) {
		st.Status = models.ActionStatusCompleted
		st.EndedAt = s.now()
		st.FailureMessage = ""
	})

	s.remove(ctx, CacheKeyOf(action))
	s.schedulePersist(ctx, action, txn.AfterCommit)

	s.logger.DebugContext(ctx, "Action complete", "key", CacheKeyOf(action))
}

// RecordActionNotExecuted drops the record of a queued action that was
// skipped. Its status is left as it was and nothing is persisted.
func (s *Service) RecordActionNotExecuted(ctx context.Context, action *models.Action) {
	s.remove(ctx, CacheKeyOf(action))

	s.logger.DebugContext(ctx, "Action not executed", "key", CacheKeyOf(action))
}

// RecordActionFailure clears the running record and classifies the failure.
// Stored actions get their outcome written back once the current
// transaction rolls back.
func (s *Service) RecordActionFailure(ctx context.Context, action *models.Action, cause error) {
	status, message := classify(cause)

	action.UpdateExecution(func(st *models.ExecutionState) {
		st.Status = status
		st.EndedAt = s.now()
		st.FailureMessage = message
	})

	s.remove(ctx, CacheKeyOf(action))
	s.schedulePersist(ctx, action, txn.AfterRollback)

	s.logger.DebugContext(ctx, "Action finished unsuccessfully", "key", CacheKeyOf(action), "status", status)
}

func classify(cause error) (models.ActionStatus, string) {
	switch {
	case errors.Is(cause, protocol.ErrActionCancelled):
		return models.ActionStatusCancelled, ""
	case protocol.IsTransient(cause):
		return models.ActionStatusDeclined, cause.Error()
	case cause == nil:
		return models.ActionStatusFailed, ""
	default:
		return models.ActionStatusFailed, cause.Error()
	}
}

func (s *Service) schedulePersist(ctx context.Context, action *models.Action, when func(context.Context, func(context.Context)) error) {
	if s.persister == nil || action.NodeRef.IsZero() {
		return
	}

	ref := action.NodeRef
	state := action.Execution()

	job := func(ctx context.Context) { s.persistExecution(ctx, ref, state) }

	if err := when(ctx, job); err != nil {
		// no transaction to wait for
		job(ctx)
	}
}

func (s *Service) persistExecution(ctx context.Context, ref models.NodeRef, state models.ExecutionState) {
	err := auth.RunAsSystem(ctx, func(ctx context.Context) error {
		return s.txns.Do(ctx, func(ctx context.Context) error {
			stored, err := s.persister.LoadAction(ctx, ref)
			if err != nil {
				return fmt.Errorf("reload action: %w", err)
			}

			stored.UpdateExecution(func(st *models.ExecutionState) {
				st.StartedAt = state.StartedAt
				st.EndedAt = state.EndedAt
				st.Status = state.Status
				st.FailureMessage = state.FailureMessage
			})

			return s.persister.SaveActionImpl(ctx, stored.OwningNodeRef, ref, stored)
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist execution status", "action_node", ref.String(), "status", state.Status, "error", err)
	}
}

// IsCancellationRequested reports whether cancellation was requested for the
// action's current execution. A missing record is put back.
func (s *Service) IsCancellationRequested(ctx context.Context, action *models.Action) bool {
	key := CacheKeyOf(action)

	details, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read execution details", "key", key, "error", err)

		return false
	}

	if !ok {
		s.logger.WarnContext(ctx, "Execution details missing from cache, re-adding", "key", key)
		s.put(ctx, key, BuildExecutionDetails(action, s.runningOn))

		return false
	}

	return details.CancelRequested
}

func (s *Service) RequestActionCancellation(ctx context.Context, action *models.Action) bool {
	return s.RequestCancellation(ctx, models.SummaryOf(action))
}

// RequestCancellation flags the execution for cancellation. It returns false
// if the execution is not known.
func (s *Service) RequestCancellation(ctx context.Context, summary models.ExecutionSummary) bool {
	key := GenerateCacheKey(summary)

	details, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read execution details", "key", key, "error", err)

		return false
	}

	if !ok {
		s.logger.DebugContext(ctx, "Cancellation requested for unknown execution", "key", key)

		return false
	}

	s.put(ctx, key, details.WithCancelRequested())

	return true
}

func (s *Service) ExecutionDetails(ctx context.Context, summary models.ExecutionSummary) (models.ExecutionDetails, bool) {
	key := GenerateCacheKey(summary)

	details, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read execution details", "key", key, "error", err)

		return models.ExecutionDetails{}, false
	}

	return details, ok
}

func (s *Service) AllExecutingActions(ctx context.Context) []models.ExecutionSummary {
	return s.summaries(ctx, "")
}

func (s *Service) ExecutingActionsOfType(ctx context.Context, actionType string) []models.ExecutionSummary {
	return s.summaries(ctx, typePrefix(actionType))
}

func (s *Service) ExecutingActions(ctx context.Context, action *models.Action) []models.ExecutionSummary {
	return s.summaries(ctx, actionPrefix(action.DefinitionName(), action.ID()))
}

// ExecutingActionsForNode returns the details of executions whose stored
// action node is ref.
func (s *Service) ExecutingActionsForNode(ctx context.Context, ref models.NodeRef) []models.ExecutionDetails {
	var out []models.ExecutionDetails

	for _, summary := range s.AllExecutingActions(ctx) {
		details, ok := s.ExecutionDetails(ctx, summary)
		if ok && details.PersistedActionRef == ref {
			out = append(out, details)
		}
	}

	return out
}

func (s *Service) summaries(ctx context.Context, prefix string) []models.ExecutionSummary {
	keys, err := s.cache.Keys(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to list execution keys", "error", err)

		return nil
	}

	slices.Sort(keys)

	out := make([]models.ExecutionSummary, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		summary, err := BuildExecutionSummary(key)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping malformed execution key", "key", key, "error", err)

			continue
		}

		out = append(out, summary)
	}

	return out
}

// hostDescription renders "<ip> : <hostname>".
func hostDescription() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	ip := "127.0.0.1"

	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				ip = ipNet.IP.String()

				break
			}
		}
	}

	return ip + " : " + host
}
