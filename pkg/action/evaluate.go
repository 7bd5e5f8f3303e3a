package action

import (
	"context"
	"fmt"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// EvaluateAction reports whether every condition of the action holds for
// target. An action without conditions always runs.
func (s *Service) EvaluateAction(ctx context.Context, a *models.Action, target models.NodeRef) (bool, error) {
	for _, condition := range a.Conditions() {
		ok, err := s.EvaluateActionCondition(ctx, condition, target)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// EvaluateActionCondition evaluates a single condition. Composite conditions
// combine their children with AND, or OR when OrCombine is set, stopping at
// the first child that decides the result. Invert is applied last.
func (s *Service) EvaluateActionCondition(ctx context.Context, c *models.ActionCondition, target models.NodeRef) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "action.condition.evaluate",
		attribute.String(otelhelper.ConditionIDKey, c.ID()),
		attribute.String(otelhelper.ConditionTypeKey, c.DefinitionName()),
		attribute.String(otelhelper.TargetNodeKey, target.String()),
	)
	defer span.End()

	var (
		result bool
		err    error
	)

	if c.IsComposite() {
		result, err = s.evaluateComposite(ctx, c, target)
	} else {
		result, err = s.evaluateSimple(ctx, c, target)
	}

	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.ConditionIDKey, c.ID()))

		return false, err
	}

	if c.Invert {
		result = !result
	}

	span.SetAttributes(attribute.Bool("condition.result", result))

	return result, nil
}

func (s *Service) evaluateComposite(ctx context.Context, c *models.ActionCondition, target models.NodeRef) (bool, error) {
	children := c.Conditions()
	if len(children) == 0 {
		return false, &ServiceError{Op: "EvaluateActionCondition", ActionID: c.ID(), Err: ErrEmptyCompositeCondition}
	}

	for _, child := range children {
		ok, err := s.EvaluateActionCondition(ctx, child, target)
		if err != nil {
			return false, err
		}

		if c.OrCombine && ok {
			return true, nil
		}

		if !c.OrCombine && !ok {
			return false, nil
		}
	}

	// every child agreed: all true for AND, all false for OR
	return !c.OrCombine, nil
}

func (s *Service) evaluateSimple(ctx context.Context, c *models.ActionCondition, target models.NodeRef) (bool, error) {
	evaluator, err := s.registry.Evaluator(c.DefinitionName())
	if err != nil {
		return false, &ServiceError{Op: "EvaluateActionCondition", ActionID: c.ID(), Err: err}
	}

	if s.validator != nil {
		def := evaluator.Definition()
		if err := s.validator.ValidateParameters(&def.ParameterizedItemDefinition, c.ParameterValues()); err != nil {
			return false, &ServiceError{Op: "EvaluateActionCondition", ActionID: c.ID(), Err: err}
		}
	}

	ok, err := evaluator.Evaluate(ctx, c, target)
	if err != nil {
		return false, &ServiceError{Op: "EvaluateActionCondition", ActionID: c.ID(), Err: fmt.Errorf("evaluate %s: %w", c.DefinitionName(), err)}
	}

	return ok, nil
}
