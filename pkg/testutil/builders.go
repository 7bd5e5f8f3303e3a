// Package testutil provides test data builders and shared store suites.
package testutil

import (
	"github.com/dukex/actiond/pkg/models"
	"github.com/google/uuid"
)

// CreateTestAction creates an action with default values that can be overridden.
func CreateTestAction(definitionName string, overrides ...func(*models.Action)) *models.Action {
	a := models.NewAction(uuid.NewString(), definitionName)
	a.Title = "Test Action"
	a.Description = "Created by testutil"

	for _, override := range overrides {
		override(a)
	}

	return a
}

// CreateTestCompositeAction creates a composite action holding children.
func CreateTestCompositeAction(children ...*models.Action) *models.Action {
	a := models.NewCompositeAction(uuid.NewString())
	a.Title = "Test Composite Action"

	for _, child := range children {
		a.AddAction(child)
	}

	return a
}

// CreateTestCondition creates a condition with default values that can be overridden.
func CreateTestCondition(definitionName string, overrides ...func(*models.ActionCondition)) *models.ActionCondition {
	c := models.NewActionCondition(uuid.NewString(), definitionName)

	for _, override := range overrides {
		override(c)
	}

	return c
}

// WithParameters sets the action parameters.
func WithParameters(params map[string]any) func(*models.Action) {
	return func(a *models.Action) {
		a.SetParameterValues(params)
	}
}

// WithConditions appends conditions to the action.
func WithConditions(conditions ...*models.ActionCondition) func(*models.Action) {
	return func(a *models.Action) {
		for _, c := range conditions {
			a.AddCondition(c)
		}
	}
}

// WithCompensatingAction sets the compensating action.
func WithCompensatingAction(compensating *models.Action) func(*models.Action) {
	return func(a *models.Action) {
		a.CompensatingAction = compensating
	}
}

// WithTrackStatus overrides the status tracking default.
func WithTrackStatus(track bool) func(*models.Action) {
	return func(a *models.Action) {
		a.TrackStatus = &track
	}
}

// WithAsync marks the action for asynchronous execution.
func WithAsync() func(*models.Action) {
	return func(a *models.Action) {
		a.ExecuteAsynchronously = true
	}
}

// WithConditionParameters sets the condition parameters.
func WithConditionParameters(params map[string]any) func(*models.ActionCondition) {
	return func(c *models.ActionCondition) {
		c.SetParameterValues(params)
	}
}

// Inverted negates the condition.
func Inverted() func(*models.ActionCondition) {
	return func(c *models.ActionCondition) {
		c.Invert = true
	}
}
