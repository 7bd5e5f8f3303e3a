// Package evaluators holds the built-in condition evaluators.
package evaluators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/protocol"
	"github.com/dukex/actiond/pkg/registry"
)

const (
	NoConditionName = "no-condition"
	HasAspectName   = "has-aspect"

	ParamAspect = "aspect"
)

var (
	ErrInvalidParameter   = errors.New("invalid condition parameter")
	ErrUnsupportedCompare = errors.New("values cannot be compared")
)

// Register adds every built-in evaluator to reg.
func Register(reg *registry.Registry, nodes persistence.NodeService, logger *slog.Logger) error {
	all := []protocol.ConditionEvaluator{
		NewNoCondition(),
		NewHasAspect(nodes),
		NewComparePropertyValue(nodes, logger),
	}

	for _, evaluator := range all {
		if err := reg.RegisterEvaluator(evaluator); err != nil {
			return fmt.Errorf("register evaluator '%s': %w", evaluator.Definition().Name, err)
		}
	}

	return nil
}

func mustDefinition(name, title string, params ...models.ParameterDefinition) *models.ConditionDefinition {
	def, err := models.NewConditionDefinition(name, params...)
	if err != nil {
		panic(err)
	}

	def.Title = title

	return def
}

// NoCondition always holds.
type NoCondition struct {
	definition *models.ConditionDefinition
}

func NewNoCondition() *NoCondition {
	return &NoCondition{definition: mustDefinition(NoConditionName, "All items")}
}

func (e *NoCondition) Definition() *models.ConditionDefinition {
	return e.definition
}

func (e *NoCondition) Evaluate(_ context.Context, _ *models.ActionCondition, _ models.NodeRef) (bool, error) {
	return true, nil
}

// HasAspect holds when the target carries the named aspect.
type HasAspect struct {
	nodes      persistence.NodeService
	definition *models.ConditionDefinition
}

func NewHasAspect(nodes persistence.NodeService) *HasAspect {
	return &HasAspect{
		nodes: nodes,
		definition: mustDefinition(HasAspectName, "Has aspect",
			models.ParameterDefinition{Name: ParamAspect, Type: models.ParameterTypeQName, Mandatory: true, DisplayLabel: "Aspect"},
		),
	}
}

func (e *HasAspect) Definition() *models.ConditionDefinition {
	return e.definition
}

func (e *HasAspect) Evaluate(ctx context.Context, c *models.ActionCondition, target models.NodeRef) (bool, error) {
	aspect, ok := c.ParameterValue(ParamAspect).(string)
	if !ok || aspect == "" {
		return false, fmt.Errorf("%w: '%s' must be a non-empty string", ErrInvalidParameter, ParamAspect)
	}

	return e.nodes.HasAspect(ctx, target, aspect)
}
