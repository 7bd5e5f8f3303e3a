package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExecuteAction runs the action against target. Synchronous executions
// happen now, in the caller's transaction. Asynchronous ones are queued once
// the caller's transaction commits and dropped if it rolls back.
func (s *Service) ExecuteAction(ctx context.Context, a *models.Action, target models.NodeRef, checkConditions, executeAsynchronously bool) error {
	chain := models.ActionChainFromContext(ctx)

	if executeAsynchronously {
		return s.addPostTransactionPendingAction(ctx, a, target, checkConditions, chain)
	}

	return s.ExecuteActionImpl(ctx, a, target, checkConditions, false, chain)
}

// ExecuteActionImpl runs the action on the current goroutine. An action whose
// id is already in chain is skipped, which stops rules from triggering
// themselves forever.
func (s *Service) ExecuteActionImpl(ctx context.Context, a *models.Action, target models.NodeRef, checkConditions, executedAsynchronously bool, chain models.ActionChain) (err error) {
	logger := s.logger.With("action_id", a.ID(), "action_type", a.DefinitionName(), "target", target.String())

	if chain.Contains(a.ID()) {
		logger.DebugContext(ctx, "Skipping action already executing in this chain")

		return nil
	}

	// the caller's ctx keeps its own chain, so it is restored on return
	ctx = models.WithActionChain(ctx, chain.With(a.ID()))

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "action.execute",
		attribute.String(otelhelper.ActionIDKey, a.ID()),
		attribute.String(otelhelper.ActionTypeKey, a.DefinitionName()),
		attribute.String(otelhelper.TargetNodeKey, target.String()),
		attribute.Bool(otelhelper.AsynchronousKey, executedAsynchronously),
	)
	defer span.End()

	trackStatus := s.trackStatus(a)

	defer func() {
		if r := recover(); r != nil {
			err = s.handleFailure(ctx, logger, span, a, target, trackStatus, executedAsynchronously, fmt.Errorf("panic: %v", r))
		}
	}()

	if checkConditions {
		ok, evalErr := s.EvaluateAction(ctx, a, target)
		if evalErr != nil {
			return s.handleFailure(ctx, logger, span, a, target, trackStatus, executedAsynchronously, evalErr)
		}

		if !ok {
			logger.DebugContext(ctx, "Action conditions not met")

			// a queued action that will not run must not linger in the running list
			if trackStatus && a.Execution().Status == models.ActionStatusPending {
				s.tracking.RecordActionNotExecuted(ctx, a)
			}

			return nil
		}
	}

	if trackStatus {
		s.tracking.RecordActionExecuting(ctx, a)
		span.SetAttributes(attribute.Int(otelhelper.ActionInstanceKey, a.Execution().Instance))
	}

	if execErr := s.DirectActionExecution(ctx, a, target); execErr != nil {
		return s.handleFailure(ctx, logger, span, a, target, trackStatus, executedAsynchronously, execErr)
	}

	if trackStatus {
		s.tracking.RecordActionComplete(ctx, a)
	}

	logger.DebugContext(ctx, "Action executed")

	return nil
}

func (s *Service) handleFailure(ctx context.Context, logger *slog.Logger, span trace.Span, a *models.Action, target models.NodeRef, trackStatus, executedAsynchronously bool, cause error) error {
	logger.ErrorContext(ctx, "Action failed", "error", cause, "async", executedAsynchronously)
	otelhelper.SetError(span, cause, attribute.String(otelhelper.ActionIDKey, a.ID()))

	if trackStatus {
		s.tracking.RecordActionFailure(ctx, a, cause)
	}

	if executedAsynchronously && a.CompensatingAction != nil {
		s.queueCompensatingAction(ctx, a, target)
	}

	return asServiceError("ExecuteAction", a.ID(), cause)
}

// queueCompensatingAction hands the compensating action straight to its
// queue. The failing transaction is about to roll back, so it cannot wait
// for a commit.
func (s *Service) queueCompensatingAction(ctx context.Context, a *models.Action, target models.NodeRef) {
	compensating := a.CompensatingAction
	compensating.RunAsUser = a.RunAsUser

	logger := s.logger.With("action_id", a.ID(), "compensating_action_id", compensating.ID())

	q, err := s.queueFor(compensating)
	if err != nil {
		logger.ErrorContext(ctx, "Cannot queue compensating action", "error", err)

		return
	}

	if _, err := q.ExecuteAction(ctx, s, compensating, target, false, models.ActionChain{}); err != nil {
		logger.ErrorContext(ctx, "Failed to queue compensating action", "error", err)

		return
	}

	logger.InfoContext(ctx, "Queued compensating action")
}

// DirectActionExecution validates the parameters and calls the executor
// without evaluating conditions or tracking status.
func (s *Service) DirectActionExecution(ctx context.Context, a *models.Action, target models.NodeRef) error {
	executor, err := s.registry.Executor(a.DefinitionName())
	if err != nil {
		return &ServiceError{Op: "DirectActionExecution", ActionID: a.ID(), Err: err}
	}

	def := executor.Definition()

	if s.validator != nil {
		if err := s.validator.ValidateParameters(&def.ParameterizedItemDefinition, a.ParameterValues()); err != nil {
			return &ServiceError{Op: "DirectActionExecution", ActionID: a.ID(), Err: err}
		}
	}

	if len(def.ApplicableTypes) > 0 && s.nodeTypes != nil {
		nodeType, err := s.nodeTypes.NodeType(ctx, target)
		if err != nil {
			return &ServiceError{Op: "DirectActionExecution", ActionID: a.ID(), Err: err}
		}

		if !def.AppliesTo(nodeType) {
			s.logger.DebugContext(ctx, "Action not applicable to node type", "action_id", a.ID(), "node_type", nodeType)

			return nil
		}
	}

	if s.stats == nil {
		return executor.Execute(ctx, a, target)
	}

	token := s.stats.Started(a, target, s.now())

	err = executor.Execute(ctx, a, target)
	s.stats.Finished(token, s.now(), err)

	return err
}

// ActionQueued records the pending status of an action accepted by a queue.
func (s *Service) ActionQueued(ctx context.Context, a *models.Action) {
	if s.trackStatus(a) {
		s.tracking.RecordActionPending(ctx, a)
	}
}
