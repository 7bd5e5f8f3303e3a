// Package events defines the notifications published about action executions.
package events

import (
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "actiond.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// AsyncActionExecutedEvent is published after an asynchronous execution's
	// worker transaction commits.
	AsyncActionExecutedEvent EventType = "action.async.executed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunningOn string         `json:"running_on,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

type AsyncActionExecuted struct {
	BaseEvent

	ActionID       string              `json:"action_id"`
	ActionType     string              `json:"action_type"`
	ActionInstance int                 `json:"action_instance"`
	ActionNodeRef  string              `json:"action_node_ref,omitempty"`
	Target         string              `json:"target"`
	RunAsUser      string              `json:"run_as_user"`
	Status         models.ActionStatus `json:"status"`
	FailureMessage string              `json:"failure_message,omitempty"`
}

func (e AsyncActionExecuted) GetType() EventType {
	return AsyncActionExecutedEvent
}

// NewAsyncActionExecuted describes a committed asynchronous execution of a on target.
func NewAsyncActionExecuted(a *models.Action, target models.NodeRef) *AsyncActionExecuted {
	state := a.Execution()

	event := &AsyncActionExecuted{
		BaseEvent:      NewBaseEvent(AsyncActionExecutedEvent),
		ActionID:       a.ID(),
		ActionType:     a.DefinitionName(),
		ActionInstance: state.Instance,
		Target:         target.String(),
		RunAsUser:      a.RunAsUser,
		Status:         state.Status,
		FailureMessage: state.FailureMessage,
	}

	if !a.NodeRef.IsZero() {
		event.ActionNodeRef = a.NodeRef.String()
	}

	return event
}
