package action

import (
	"errors"
	"fmt"

	"github.com/dukex/actiond/pkg/registry"
	"github.com/dukex/actiond/pkg/txn"
	"github.com/dukex/actiond/pkg/validation"
)

var (
	// ErrActionFailed wraps executor failures that carry no service context yet.
	ErrActionFailed = errors.New("action failed")

	ErrUnknownQueue            = errors.New("unknown action queue")
	ErrEmptyCompositeCondition = errors.New("composite condition has no child conditions")
	ErrNoStore                 = errors.New("action persistence not configured")
	ErrNotApplicable           = errors.New("action not applicable to node type")
)

// ServiceError wraps action service failures with the operation and action involved.
type ServiceError struct {
	Op       string // Operation name
	ActionID string // Action or condition id if applicable
	Message  string // Human-readable message
	Err      error  // Underlying error
}

func (e *ServiceError) Error() string {
	target := ""
	if e.ActionID != "" {
		target = " " + e.ActionID
	}

	if e.Message != "" {
		return fmt.Sprintf("%s%s: %s: %v", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s%s: %v", e.Op, target, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return (target == ErrActionFailed && e.Message == ErrActionFailed.Error()) || errors.Is(e.Err, target)
}

// asServiceError passes service errors through and wraps anything else as a
// generic action failure.
func asServiceError(op, actionID string, err error) error {
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}

	return &ServiceError{Op: op, ActionID: actionID, Message: ErrActionFailed.Error(), Err: err}
}

// IsValidationError reports failures caused by the caller's parameters.
func IsValidationError(err error) bool {
	return errors.Is(err, validation.ErrMandatoryParameter) ||
		errors.Is(err, validation.ErrInvalidParameter) ||
		errors.Is(err, validation.ErrUnknownParameter) ||
		errors.Is(err, ErrEmptyCompositeCondition)
}

func IsNotRegistered(err error) bool {
	return errors.Is(err, registry.ErrNotRegistered)
}

func IsNoTransaction(err error) bool {
	return errors.Is(err, txn.ErrNoTransaction)
}
