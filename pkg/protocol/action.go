package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/actiond/pkg/models"
)

// ActionExecutor performs one kind of action against a target node.
type ActionExecutor interface {
	Definition() *models.ActionDefinition
	Execute(ctx context.Context, action *models.Action, target models.NodeRef) error
}

// ConditionEvaluator decides whether a condition holds for a target node.
type ConditionEvaluator interface {
	Definition() *models.ConditionDefinition
	Evaluate(ctx context.Context, condition *models.ActionCondition, target models.NodeRef) (bool, error)
}

// ActionRuntime is the part of the action service that queues and composite
// executors call back into.
type ActionRuntime interface {
	ExecuteActionImpl(ctx context.Context, action *models.Action, target models.NodeRef, checkConditions, executedAsynchronously bool, chain models.ActionChain) error

	// ActionQueued is called once a queue has accepted the action, before it is handed to a worker.
	ActionQueued(ctx context.Context, action *models.Action)
}

// ErrActionCancelled is returned by executors that stop because cancellation was requested.
var ErrActionCancelled = errors.New("action cancelled")

// TransientError signals that an executor declined to run because of a
// temporary condition. The execution is recorded as declined rather than failed.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}

	return e.Reason
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func NewTransientError(reason string) *TransientError {
	return &TransientError{Reason: reason}
}

func IsTransient(err error) bool {
	var transient *TransientError

	return errors.As(err, &transient)
}
