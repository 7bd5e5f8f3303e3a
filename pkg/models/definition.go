package models

import (
	"fmt"
	"slices"
)

// ParameterType names the data type a parameter value must conform to.
type ParameterType string

const (
	ParameterTypeText    ParameterType = "text"
	ParameterTypeInt     ParameterType = "int"
	ParameterTypeLong    ParameterType = "long"
	ParameterTypeFloat   ParameterType = "float"
	ParameterTypeDouble  ParameterType = "double"
	ParameterTypeBoolean ParameterType = "boolean"
	ParameterTypeDate    ParameterType = "date"
	ParameterTypeNodeRef ParameterType = "noderef"
	ParameterTypeQName   ParameterType = "qname"
	ParameterTypeAny     ParameterType = "any"
)

type ParameterDefinition struct {
	Name           string        `json:"name" validate:"required"`
	Type           ParameterType `json:"type" validate:"required,oneof=text int long float double boolean date noderef qname any"`
	Mandatory      bool          `json:"mandatory"`
	MultiValued    bool          `json:"multiValued"`
	DisplayLabel   string        `json:"displayLabel,omitempty"`
	ConstraintName string        `json:"constraintName,omitempty"`
}

// ParameterizedItemDefinition describes the parameters an action or condition accepts.
type ParameterizedItemDefinition struct {
	Name                   string `json:"name" validate:"required"`
	Title                  string `json:"title,omitempty"`
	Description            string `json:"description,omitempty"`
	AdhocPropertiesAllowed bool   `json:"adhocPropertiesAllowed"`

	parameters []ParameterDefinition
	byName     map[string]ParameterDefinition
}

func newParameterizedItemDefinition(name string, params []ParameterDefinition) (ParameterizedItemDefinition, error) {
	if name == "" {
		return ParameterizedItemDefinition{}, ErrEmptyDefinitionName
	}

	d := ParameterizedItemDefinition{
		Name:       name,
		parameters: make([]ParameterDefinition, 0, len(params)),
		byName:     make(map[string]ParameterDefinition, len(params)),
	}

	for _, p := range params {
		if _, exists := d.byName[p.Name]; exists {
			return ParameterizedItemDefinition{}, fmt.Errorf("definition '%s' parameter '%s': %w", name, p.Name, ErrDuplicateParameter)
		}

		d.byName[p.Name] = p
		d.parameters = append(d.parameters, p)
	}

	return d, nil
}

// ParameterDefinitions returns the declared parameters in declaration order.
func (d *ParameterizedItemDefinition) ParameterDefinitions() []ParameterDefinition {
	return slices.Clone(d.parameters)
}

func (d *ParameterizedItemDefinition) ParameterDefinition(name string) (ParameterDefinition, bool) {
	p, ok := d.byName[name]

	return p, ok
}

func (d *ParameterizedItemDefinition) HasParameterDefinitions() bool {
	return len(d.parameters) > 0
}

// ActionDefinition describes a registered action type.
type ActionDefinition struct {
	ParameterizedItemDefinition

	// ApplicableTypes restricts the node types the action may run against. Empty means any.
	ApplicableTypes []string `json:"applicableTypes,omitempty"`

	// QueueName selects the asynchronous execution queue. Empty means the default queue.
	QueueName string `json:"queueName,omitempty"`

	// TrackStatus is the status tracking default for actions that do not say otherwise.
	TrackStatus bool `json:"trackStatus"`
}

func NewActionDefinition(name string, params ...ParameterDefinition) (*ActionDefinition, error) {
	base, err := newParameterizedItemDefinition(name, params)
	if err != nil {
		return nil, err
	}

	return &ActionDefinition{ParameterizedItemDefinition: base}, nil
}

// AppliesTo reports whether the action may run against nodes of the given type.
func (d *ActionDefinition) AppliesTo(nodeType string) bool {
	return len(d.ApplicableTypes) == 0 || slices.Contains(d.ApplicableTypes, nodeType)
}

type ConditionDefinition struct {
	ParameterizedItemDefinition
}

func NewConditionDefinition(name string, params ...ParameterDefinition) (*ConditionDefinition, error) {
	base, err := newParameterizedItemDefinition(name, params)
	if err != nil {
		return nil, err
	}

	return &ConditionDefinition{ParameterizedItemDefinition: base}, nil
}
