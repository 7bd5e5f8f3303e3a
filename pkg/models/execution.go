package models

import "time"

type ActionStatus string

const (
	ActionStatusNew       ActionStatus = "New"
	ActionStatusPending   ActionStatus = "Pending"
	ActionStatusRunning   ActionStatus = "Running"
	ActionStatusCompleted ActionStatus = "Completed"
	ActionStatusFailed    ActionStatus = "Failed"
	ActionStatusCancelled ActionStatus = "Cancelled"
	// ActionStatusDeclined marks an action that refused to run because of a transient condition.
	ActionStatusDeclined ActionStatus = "Declined"
)

// UnassignedInstance is the execution instance of an action that has not been tracked yet.
const UnassignedInstance = -1

// ExecutionState holds the tracking fields of an action.
type ExecutionState struct {
	Instance       int          `json:"instance"`
	StartedAt      time.Time    `json:"startedAt"`
	EndedAt        time.Time    `json:"endedAt"`
	Status         ActionStatus `json:"status"`
	FailureMessage string       `json:"failureMessage,omitempty"`
}

func newExecutionState() ExecutionState {
	return ExecutionState{Instance: UnassignedInstance, Status: ActionStatusNew}
}

// ExecutionSummary identifies one execution of one action.
type ExecutionSummary struct {
	ActionType        string `json:"actionType"`
	ActionID          string `json:"actionId"`
	ExecutionInstance int    `json:"actionInstance"`
}

func SummaryOf(a *Action) ExecutionSummary {
	return ExecutionSummary{
		ActionType:        a.DefinitionName(),
		ActionID:          a.ID(),
		ExecutionInstance: a.Execution().Instance,
	}
}

// ExecutionDetails is the cached record of a pending or running execution.
// Values are never mutated in place; use WithCancelRequested.
type ExecutionDetails struct {
	Summary            ExecutionSummary `json:"summary"`
	PersistedActionRef NodeRef          `json:"persistedActionRef"`
	RunningOn          string           `json:"runningOn,omitempty"`
	StartedAt          time.Time        `json:"startedAt"`
	CancelRequested    bool             `json:"cancelRequested"`
}

func (d ExecutionDetails) WithCancelRequested() ExecutionDetails {
	d.CancelRequested = true

	return d
}
