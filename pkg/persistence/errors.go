// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/actiond/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrNodeNotFound indicates a node was not found by the given reference.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeAlreadyExists indicates a node with the same reference already exists.
	ErrNodeAlreadyExists = errors.New("node already exists")

	// ErrNotChild indicates the node is not a child of the given parent.
	ErrNotChild = errors.New("node is not a child of parent")

	// ErrActionNotFound indicates no action with the given id is saved on the node.
	ErrActionNotFound = errors.New("action not found")

	// ErrNotActionNode indicates the node does not hold a saved action.
	ErrNotActionNode = errors.New("node is not an action")

	// ErrUnsupportedValue indicates a property value the store cannot encode.
	ErrUnsupportedValue = errors.New("unsupported property value")
)

// NodeError wraps node-related errors with additional context.
type NodeError struct {
	Op      string         // Operation being performed
	NodeRef models.NodeRef // Node reference if applicable
	Err     error          // Underlying error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s operation failed for node %s: %v", e.Op, e.NodeRef, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewNodeError creates a new node error with context.
func NewNodeError(op string, ref models.NodeRef, err error) *NodeError {
	return &NodeError{Op: op, NodeRef: ref, Err: err}
}

// ActionError wraps action persistence errors with the owning node and action involved.
type ActionError struct {
	Op         string         // Operation being performed (e.g., "SaveAction", "Actions")
	OwningNode models.NodeRef // Owning node if applicable
	ActionID   string         // Action ID if applicable
	Err        error          // Underlying error
	Message    string         // Additional context message
}

func (e *ActionError) Error() string {
	target := e.ActionID
	if !e.OwningNode.IsZero() {
		target = fmt.Sprintf("%s on node %s", e.ActionID, e.OwningNode)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for action %s: %s (%v)", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for action %s: %v", e.Op, target, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for action errors.
func (e *ActionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewActionError creates a new action error with context.
func NewActionError(op string, owningNode models.NodeRef, actionID string, err error) *ActionError {
	return &ActionError{
		Op:         op,
		OwningNode: owningNode,
		ActionID:   actionID,
		Err:        err,
	}
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsActionNotFound checks if an error indicates an action was not found.
func IsActionNotFound(err error) bool {
	return errors.Is(err, ErrActionNotFound)
}
