package models

import (
	"slices"
	"sync"
	"time"
)

// CompositeActionName is the definition name of every composite action.
const CompositeActionName = "composite-action"

type Audit struct {
	Creator  string    `json:"creator,omitempty"`
	Created  time.Time `json:"created"`
	Modifier string    `json:"modifier,omitempty"`
	Modified time.Time `json:"modified"`
}

// Action is a configured invocation of a registered action definition. A
// composite action carries child actions that run in order.
type Action struct {
	ParameterizedItem

	Title                 string
	Description           string
	ExecuteAsynchronously bool
	CompensatingAction    *Action

	// TrackStatus overrides the definition default when non-nil.
	TrackStatus *bool

	// RunAsUser is stamped when the action is queued for asynchronous execution.
	RunAsUser string

	// ExecutedRules is carried over to the worker transaction of an asynchronous execution.
	ExecutedRules []string

	// OwningNodeRef is the node the action is saved against. Zero for transient actions.
	OwningNodeRef NodeRef
	// NodeRef is the persisted action node. Zero for transient actions.
	NodeRef NodeRef

	Audit Audit

	definitionName string
	composite      bool
	conditions     []*ActionCondition
	actions        []*Action

	mu        sync.Mutex
	execution ExecutionState
}

func NewAction(id, definitionName string) *Action {
	return &Action{
		ParameterizedItem: newParameterizedItem(id),
		definitionName:    definitionName,
		execution:         newExecutionState(),
	}
}

func NewCompositeAction(id string) *Action {
	a := NewAction(id, CompositeActionName)
	a.composite = true

	return a
}

func (a *Action) DefinitionName() string {
	return a.definitionName
}

func (a *Action) IsComposite() bool {
	return a.composite
}

// Equal compares actions by id.
func (a *Action) Equal(other *Action) bool {
	if a == nil || other == nil {
		return a == other
	}

	return a.id == other.id
}

func (a *Action) HasConditions() bool {
	return len(a.conditions) > 0
}

func (a *Action) Conditions() []*ActionCondition {
	return slices.Clone(a.conditions)
}

func (a *Action) Condition(index int) *ActionCondition {
	if index < 0 || index >= len(a.conditions) {
		return nil
	}

	return a.conditions[index]
}

func (a *Action) AddCondition(c *ActionCondition) {
	a.conditions = append(a.conditions, c)
}

func (a *Action) InsertCondition(index int, c *ActionCondition) {
	index = max(0, min(index, len(a.conditions)))
	a.conditions = slices.Insert(a.conditions, index, c)
}

func (a *Action) RemoveCondition(c *ActionCondition) {
	a.conditions = slices.DeleteFunc(a.conditions, c.Equal)
}

func (a *Action) RemoveAllConditions() {
	a.conditions = nil
}

// Actions returns the children of a composite action.
func (a *Action) Actions() []*Action {
	return slices.Clone(a.actions)
}

func (a *Action) Action(index int) *Action {
	if index < 0 || index >= len(a.actions) {
		return nil
	}

	return a.actions[index]
}

func (a *Action) AddAction(child *Action) {
	a.actions = append(a.actions, child)
}

func (a *Action) InsertAction(index int, child *Action) {
	index = max(0, min(index, len(a.actions)))
	a.actions = slices.Insert(a.actions, index, child)
}

func (a *Action) RemoveAction(child *Action) {
	a.actions = slices.DeleteFunc(a.actions, child.Equal)
}

func (a *Action) RemoveAllActions() {
	a.actions = nil
}

// Execution returns a snapshot of the tracking fields.
func (a *Action) Execution() ExecutionState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.execution
}

// UpdateExecution mutates the tracking fields under the action's lock.
func (a *Action) UpdateExecution(fn func(*ExecutionState)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.execution)
}

func (a *Action) SetExecution(state ExecutionState) {
	a.UpdateExecution(func(s *ExecutionState) { *s = state })
}

// Copy returns a deep copy of the action tree. Tracking fields are carried
// over except the execution instance, which is reset.
func (a *Action) Copy() *Action {
	return a.copyAs(a.id, a.definitionName)
}

// CopyAs copies the action tree under a new id and definition name.
func (a *Action) CopyAs(id, definitionName string) *Action {
	return a.copyAs(id, definitionName)
}

func (a *Action) copyAs(id, definitionName string) *Action {
	c := &Action{
		ParameterizedItem:     ParameterizedItem{id: id, params: a.copyParameters()},
		Title:                 a.Title,
		Description:           a.Description,
		ExecuteAsynchronously: a.ExecuteAsynchronously,
		RunAsUser:             a.RunAsUser,
		ExecutedRules:         slices.Clone(a.ExecutedRules),
		OwningNodeRef:         a.OwningNodeRef,
		NodeRef:               a.NodeRef,
		Audit:                 a.Audit,
		definitionName:        definitionName,
		composite:             a.composite,
	}

	if a.TrackStatus != nil {
		track := *a.TrackStatus
		c.TrackStatus = &track
	}

	if a.CompensatingAction != nil {
		c.CompensatingAction = a.CompensatingAction.Copy()
	}

	for _, cond := range a.conditions {
		c.conditions = append(c.conditions, cond.Copy())
	}

	for _, child := range a.actions {
		c.actions = append(c.actions, child.Copy())
	}

	c.execution = a.Execution()
	c.execution.Instance = UnassignedInstance

	return c
}
