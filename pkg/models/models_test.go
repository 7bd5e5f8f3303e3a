package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeRef(t *testing.T) {
	ref, err := ParseNodeRef("workspace://SpacesStore/1234-abcd")
	require.NoError(t, err)
	assert.Equal(t, NewNodeRef(DefaultStore, "1234-abcd"), ref)
	assert.Equal(t, "workspace://SpacesStore/1234-abcd", ref.String())

	for _, bad := range []string{"", "abc", "workspace://SpacesStore/", "/abc", "store/abc"} {
		_, err := ParseNodeRef(bad)
		assert.ErrorIs(t, err, ErrInvalidNodeRef, bad)
	}

	assert.True(t, NodeRef{}.IsZero())
	assert.Empty(t, NodeRef{}.String())
}

func TestNewActionDefinition_DuplicateParameter(t *testing.T) {
	_, err := NewActionDefinition("add-features",
		ParameterDefinition{Name: "aspect-name", Type: ParameterTypeQName},
		ParameterDefinition{Name: "aspect-name", Type: ParameterTypeText},
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateParameter))
	assert.Contains(t, err.Error(), "aspect-name")
}

func TestNewActionDefinition_EmptyName(t *testing.T) {
	_, err := NewActionDefinition("")
	assert.ErrorIs(t, err, ErrEmptyDefinitionName)

	_, err = NewConditionDefinition("")
	assert.ErrorIs(t, err, ErrEmptyDefinitionName)
}

func TestActionDefinition_Parameters(t *testing.T) {
	def, err := NewActionDefinition("set-property-value",
		ParameterDefinition{Name: "property", Type: ParameterTypeQName, Mandatory: true},
		ParameterDefinition{Name: "value", Type: ParameterTypeAny},
	)
	require.NoError(t, err)

	params := def.ParameterDefinitions()
	require.Len(t, params, 2)
	assert.Equal(t, "property", params[0].Name)
	assert.Equal(t, "value", params[1].Name)

	p, ok := def.ParameterDefinition("property")
	assert.True(t, ok)
	assert.True(t, p.Mandatory)

	_, ok = def.ParameterDefinition("missing")
	assert.False(t, ok)

	// the returned slice is a copy
	params[0].Name = "changed"
	assert.Equal(t, "property", def.ParameterDefinitions()[0].Name)

	err = validator.New().Struct(params[1])
	assert.NoError(t, err)
}

func TestActionDefinition_AppliesTo(t *testing.T) {
	def, err := NewActionDefinition("any")
	require.NoError(t, err)
	assert.True(t, def.AppliesTo("cm:content"))

	def.ApplicableTypes = []string{"cm:folder"}
	assert.True(t, def.AppliesTo("cm:folder"))
	assert.False(t, def.AppliesTo("cm:content"))
}

func TestParameterDefinition_Validation(t *testing.T) {
	err := validator.New().Struct(ParameterDefinition{Name: "x", Type: "blob"})
	assert.Error(t, err)

	err = validator.New().Struct(ParameterDefinition{Type: ParameterTypeText})
	assert.Error(t, err)
}

func TestAction_Parameters(t *testing.T) {
	a := NewAction("a1", "set-property-value")

	assert.Nil(t, a.ParameterValue("property"))

	a.SetParameterValue("property", "cm:title")
	assert.Equal(t, "cm:title", a.ParameterValue("property"))

	values := a.ParameterValues()
	values["property"] = "changed"
	assert.Equal(t, "cm:title", a.ParameterValue("property"))

	a.SetParameterValues(map[string]any{"value": 42})
	assert.Nil(t, a.ParameterValue("property"))
	assert.Equal(t, 42, a.ParameterValue("value"))
}

func TestAction_NewDefaults(t *testing.T) {
	a := NewAction("a1", "sleep-action")

	assert.Equal(t, "a1", a.ID())
	assert.Equal(t, "sleep-action", a.DefinitionName())
	assert.False(t, a.IsComposite())
	assert.Equal(t, UnassignedInstance, a.Execution().Instance)
	assert.Equal(t, ActionStatusNew, a.Execution().Status)
	assert.True(t, a.Execution().StartedAt.IsZero())
	assert.Nil(t, a.TrackStatus)
}

func TestAction_Conditions(t *testing.T) {
	a := NewAction("a1", "add-features")
	assert.False(t, a.HasConditions())

	c1 := NewActionCondition("c1", "no-condition")
	c2 := NewActionCondition("c2", "has-aspect")
	c3 := NewActionCondition("c3", "no-condition")

	a.AddCondition(c1)
	a.AddCondition(c3)
	a.InsertCondition(1, c2)

	assert.True(t, a.HasConditions())
	require.Len(t, a.Conditions(), 3)
	assert.Same(t, c2, a.Condition(1))
	assert.Nil(t, a.Condition(5))

	a.RemoveCondition(NewActionCondition("c2", "other"))
	require.Len(t, a.Conditions(), 2)
	assert.Same(t, c3, a.Condition(1))

	a.RemoveAllConditions()
	assert.False(t, a.HasConditions())
}

func TestCompositeAction_Children(t *testing.T) {
	composite := NewCompositeAction("comp")
	assert.True(t, composite.IsComposite())
	assert.Equal(t, CompositeActionName, composite.DefinitionName())

	a1 := NewAction("a1", "add-features")
	a2 := NewAction("a2", "set-property-value")

	composite.AddAction(a2)
	composite.InsertAction(0, a1)

	require.Len(t, composite.Actions(), 2)
	assert.Same(t, a1, composite.Action(0))
	assert.Same(t, a2, composite.Action(1))

	composite.RemoveAction(a1)
	require.Len(t, composite.Actions(), 1)
	assert.Same(t, a2, composite.Action(0))

	composite.RemoveAllActions()
	assert.Empty(t, composite.Actions())
}

func TestAction_Copy(t *testing.T) {
	track := true
	a := NewCompositeAction("comp")
	a.Title = "title"
	a.TrackStatus = &track
	a.SetParameterValue("list", []string{"x", "y"})
	a.SetParameterValue("when", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	a.AddCondition(NewActionCondition("c1", "no-condition"))
	a.AddAction(NewAction("child", "add-features"))
	a.CompensatingAction = NewAction("comp-undo", "set-property-value")
	a.UpdateExecution(func(s *ExecutionState) {
		s.Instance = 12
		s.Status = ActionStatusCompleted
	})

	c := a.Copy()

	assert.Equal(t, "comp", c.ID())
	assert.True(t, c.IsComposite())
	assert.Equal(t, "title", c.Title)
	assert.Equal(t, UnassignedInstance, c.Execution().Instance)
	assert.Equal(t, ActionStatusCompleted, c.Execution().Status)
	require.NotNil(t, c.TrackStatus)
	assert.NotSame(t, a.TrackStatus, c.TrackStatus)
	assert.Equal(t, a.ParameterValue("when"), c.ParameterValue("when"))
	require.Len(t, c.Conditions(), 1)
	assert.NotSame(t, a.Condition(0), c.Condition(0))
	require.Len(t, c.Actions(), 1)
	assert.NotSame(t, a.Action(0), c.Action(0))
	require.NotNil(t, c.CompensatingAction)
	assert.Equal(t, "comp-undo", c.CompensatingAction.ID())

	list, ok := c.ParameterValue("list").([]string)
	require.True(t, ok)
	list[0] = "changed"
	assert.Equal(t, []string{"x", "y"}, a.ParameterValue("list"))

	renamed := a.CopyAs("other", "composite-action")
	assert.Equal(t, "other", renamed.ID())
}

func TestCompositeActionCondition(t *testing.T) {
	c := NewCompositeActionCondition("cc")
	assert.True(t, c.IsComposite())
	assert.Equal(t, CompositeConditionName, c.DefinitionName())
	assert.False(t, c.OrCombine)

	child := NewActionCondition("c1", "no-condition")
	c.AddCondition(child)
	c.AddCondition(NewActionCondition("c2", "no-condition"))
	require.Len(t, c.Conditions(), 2)

	c.RemoveCondition(child)
	require.Len(t, c.Conditions(), 1)
	assert.Equal(t, "c2", c.Conditions()[0].ID())

	cp := c.Copy()
	assert.True(t, cp.IsComposite())
	require.Len(t, cp.Conditions(), 1)

	c.RemoveAllConditions()
	assert.Empty(t, c.Conditions())
	assert.Len(t, cp.Conditions(), 1)
}

func TestActionChain(t *testing.T) {
	var absent ActionChain
	assert.False(t, absent.Present())
	assert.False(t, absent.Contains("a"))

	empty := NewActionChain()
	assert.True(t, empty.Present())
	assert.Equal(t, 0, empty.Len())

	withA := absent.With("a")
	assert.True(t, withA.Present())
	assert.True(t, withA.Contains("a"))
	assert.False(t, absent.Present())

	withAB := withA.With("b")
	assert.Equal(t, []string{"a", "b"}, withAB.IDs())
	assert.False(t, withA.Contains("b"))
}

func TestActionChain_Context(t *testing.T) {
	ctx := context.Background()
	assert.False(t, ActionChainFromContext(ctx).Present())

	inner := WithActionChain(ctx, NewActionChain("x"))
	assert.True(t, ActionChainFromContext(inner).Contains("x"))
	assert.False(t, ActionChainFromContext(ctx).Present())
}

func TestExecutionDetails_WithCancelRequested(t *testing.T) {
	d := ExecutionDetails{Summary: ExecutionSummary{ActionType: "t", ActionID: "id", ExecutionInstance: 1}}

	cancelled := d.WithCancelRequested()

	assert.True(t, cancelled.CancelRequested)
	assert.False(t, d.CancelRequested)
	assert.Equal(t, d.Summary, cancelled.Summary)
}

func TestSummaryOf(t *testing.T) {
	a := NewAction("id-1", "sleep-action")
	a.UpdateExecution(func(s *ExecutionState) { s.Instance = 3 })

	assert.Equal(t, ExecutionSummary{ActionType: "sleep-action", ActionID: "id-1", ExecutionInstance: 3}, SummaryOf(a))
}

func TestOngoingAsyncAction_Equal(t *testing.T) {
	target := NewNodeRef(DefaultStore, "n1")
	a := NewOngoingAsyncAction(target, NewAction("a1", "transform"))
	b := NewOngoingAsyncAction(target, NewAction("a2", "transform"))
	c := NewOngoingAsyncAction(target, NewAction("a3", "other"))
	d := NewOngoingAsyncAction(NewNodeRef(DefaultStore, "n2"), NewAction("a4", "transform"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.Contains(t, a.String(), "transform")
}
