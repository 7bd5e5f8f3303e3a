package models

import "slices"

// CompositeConditionName is the definition name of every composite condition.
const CompositeConditionName = "composite-condition"

// ActionCondition is a predicate guarding an action. A composite condition
// combines its children with AND, or with OR when OrCombine is set.
type ActionCondition struct {
	ParameterizedItem

	// Invert negates the result after evaluation.
	Invert    bool
	OrCombine bool

	definitionName string
	composite      bool
	conditions     []*ActionCondition
}

func NewActionCondition(id, definitionName string) *ActionCondition {
	return &ActionCondition{
		ParameterizedItem: newParameterizedItem(id),
		definitionName:    definitionName,
	}
}

func NewCompositeActionCondition(id string) *ActionCondition {
	c := NewActionCondition(id, CompositeConditionName)
	c.composite = true

	return c
}

func (c *ActionCondition) DefinitionName() string {
	return c.definitionName
}

func (c *ActionCondition) IsComposite() bool {
	return c.composite
}

func (c *ActionCondition) Equal(other *ActionCondition) bool {
	if c == nil || other == nil {
		return c == other
	}

	return c.id == other.id
}

func (c *ActionCondition) Conditions() []*ActionCondition {
	return slices.Clone(c.conditions)
}

func (c *ActionCondition) AddCondition(child *ActionCondition) {
	c.conditions = append(c.conditions, child)
}

func (c *ActionCondition) RemoveCondition(child *ActionCondition) {
	c.conditions = slices.DeleteFunc(c.conditions, child.Equal)
}

func (c *ActionCondition) RemoveAllConditions() {
	c.conditions = nil
}

func (c *ActionCondition) Copy() *ActionCondition {
	out := &ActionCondition{
		ParameterizedItem: ParameterizedItem{id: c.id, params: c.copyParameters()},
		Invert:            c.Invert,
		OrCombine:         c.OrCombine,
		definitionName:    c.definitionName,
		composite:         c.composite,
	}

	for _, child := range c.conditions {
		out.conditions = append(out.conditions, child.Copy())
	}

	return out
}
