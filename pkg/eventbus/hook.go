package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/actiond/pkg/events"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/protocol"
)

// AsyncExecutedHook publishes an AsyncActionExecuted event for every
// committed asynchronous execution. Publish failures are logged, never
// returned, since the execution has already committed.
func AsyncExecutedHook(publisher EventPublisher, runningOn string, logger *slog.Logger) protocol.AsyncActionExecutedHook {
	logger = logger.With("module", "async_executed_hook")

	return func(ctx context.Context, a *models.Action, target models.NodeRef) {
		event := events.NewAsyncActionExecuted(a, target)
		event.RunningOn = runningOn

		if err := publisher.Publish(ctx, a.ID(), event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish async action executed event", "action_id", a.ID(), "error", err)
		}
	}
}
