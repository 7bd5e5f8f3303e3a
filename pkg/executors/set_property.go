package executors

import (
	"context"
	"log/slog"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
)

const (
	SetPropertyValueName = "set-property-value"
	ParamProperty        = "property"
	ParamValue           = "value"
)

// SetPropertyValue sets one property on the target node. A missing value
// clears the property.
type SetPropertyValue struct {
	nodes      persistence.NodeService
	logger     *slog.Logger
	definition *models.ActionDefinition
}

func NewSetPropertyValue(nodes persistence.NodeService, logger *slog.Logger) *SetPropertyValue {
	return &SetPropertyValue{
		nodes:  nodes,
		logger: logger.With("module", "set_property_value_action"),
		definition: mustDefinition(SetPropertyValueName, "Set property value", "Sets a property value on the node.",
			models.ParameterDefinition{Name: ParamProperty, Type: models.ParameterTypeQName, Mandatory: true, DisplayLabel: "Property"},
			models.ParameterDefinition{Name: ParamValue, Type: models.ParameterTypeAny, DisplayLabel: "Value"},
		),
	}
}

func (e *SetPropertyValue) Definition() *models.ActionDefinition {
	return e.definition
}

func (e *SetPropertyValue) Execute(ctx context.Context, a *models.Action, target models.NodeRef) error {
	property, err := stringParam(a, ParamProperty)
	if err != nil {
		return err
	}

	value := a.ParameterValue(ParamValue)

	e.logger.DebugContext(ctx, "Setting property", "target", target.String(), "property", property)

	return e.nodes.SetProperty(ctx, target, property, persistence.CopyValue(value))
}
