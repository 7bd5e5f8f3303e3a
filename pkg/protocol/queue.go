package protocol

import (
	"context"

	"github.com/dukex/actiond/pkg/models"
)

// AsyncActionFilter decides whether a newly queued action duplicates one
// that is already ongoing. It is selected by the definition name of the new
// action and compared against every ongoing action, whatever its type.
type AsyncActionFilter interface {
	ActionDefinitionName() string

	// Compare returns 0 when the two ongoing actions are equivalent.
	Compare(a, b models.OngoingAsyncAction) int
}

// AsyncActionExecutedHook runs after the worker transaction of an
// asynchronous execution has committed.
type AsyncActionExecutedHook func(ctx context.Context, action *models.Action, target models.NodeRef)

// Task is a unit of work handed to a worker pool.
type Task func(ctx context.Context)

// TaskExecutor runs submitted tasks on background workers.
type TaskExecutor interface {
	Submit(ctx context.Context, task Task) error
}
