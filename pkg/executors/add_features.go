package executors

import (
	"context"
	"log/slog"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
)

const (
	AddFeaturesName = "add-features"
	ParamAspectName = "aspect-name"
)

// AddFeatures adds an aspect to the target node.
type AddFeatures struct {
	nodes      persistence.NodeService
	logger     *slog.Logger
	definition *models.ActionDefinition
}

func NewAddFeatures(nodes persistence.NodeService, logger *slog.Logger) *AddFeatures {
	return &AddFeatures{
		nodes:  nodes,
		logger: logger.With("module", "add_features_action"),
		definition: mustDefinition(AddFeaturesName, "Add aspect", "Adds an aspect to the node.",
			models.ParameterDefinition{Name: ParamAspectName, Type: models.ParameterTypeQName, Mandatory: true, DisplayLabel: "Aspect"},
		),
	}
}

func (e *AddFeatures) Definition() *models.ActionDefinition {
	return e.definition
}

func (e *AddFeatures) Execute(ctx context.Context, a *models.Action, target models.NodeRef) error {
	aspect, err := stringParam(a, ParamAspectName)
	if err != nil {
		return err
	}

	has, err := e.nodes.HasAspect(ctx, target, aspect)
	if err != nil {
		return err
	}

	if has {
		return nil
	}

	e.logger.DebugContext(ctx, "Adding aspect", "target", target.String(), "aspect", aspect)

	return e.nodes.AddAspect(ctx, target, aspect)
}
