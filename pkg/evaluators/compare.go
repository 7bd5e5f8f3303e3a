package evaluators

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
)

const (
	ComparePropertyValueName = "compare-property-value"

	ParamProperty  = "property"
	ParamValue     = "value"
	ParamOperation = "operation"

	// DefaultProperty is compared when the condition names no property.
	DefaultProperty = "cm:name"
)

// Operation is a comparison applied between the node value and the condition value.
type Operation string

const (
	OperationEquals      Operation = "EQUALS"
	OperationContains    Operation = "CONTAINS"
	OperationBegins      Operation = "BEGINS"
	OperationEnds        Operation = "ENDS"
	OperationGreaterThan Operation = "GREATER_THAN"
	OperationLessThan    Operation = "LESS_THAN"
)

// ComparePropertyValue compares a node property with the condition value.
// Text operations ignore case. Ordering operations take numbers or times.
// A node without the property never matches.
type ComparePropertyValue struct {
	nodes      persistence.NodeService
	logger     *slog.Logger
	definition *models.ConditionDefinition
}

func NewComparePropertyValue(nodes persistence.NodeService, logger *slog.Logger) *ComparePropertyValue {
	return &ComparePropertyValue{
		nodes:  nodes,
		logger: logger.With("module", "compare_property_value_condition"),
		definition: mustDefinition(ComparePropertyValueName, "Compare property value",
			models.ParameterDefinition{Name: ParamProperty, Type: models.ParameterTypeQName, DisplayLabel: "Property"},
			models.ParameterDefinition{Name: ParamValue, Type: models.ParameterTypeAny, Mandatory: true, DisplayLabel: "Value"},
			models.ParameterDefinition{Name: ParamOperation, Type: models.ParameterTypeText, DisplayLabel: "Operation"},
		),
	}
}

func (e *ComparePropertyValue) Definition() *models.ConditionDefinition {
	return e.definition
}

func (e *ComparePropertyValue) Evaluate(ctx context.Context, c *models.ActionCondition, target models.NodeRef) (bool, error) {
	property := DefaultProperty
	if name, ok := c.ParameterValue(ParamProperty).(string); ok && name != "" {
		property = name
	}

	op := OperationEquals
	if name, ok := c.ParameterValue(ParamOperation).(string); ok && name != "" {
		op = Operation(strings.ToUpper(name))
	}

	actual, err := e.nodes.Property(ctx, target, property)
	if err != nil {
		return false, err
	}

	if actual == nil {
		return false, nil
	}

	matched, err := Compare(op, actual, c.ParameterValue(ParamValue))
	if err != nil {
		return false, fmt.Errorf("property '%s': %w", property, err)
	}

	e.logger.DebugContext(ctx, "Compared property", "target", target.String(), "property", property, "operation", op, "matched", matched)

	return matched, nil
}

// Compare applies op to the node value actual and the condition value expected.
func Compare(op Operation, actual, expected any) (bool, error) {
	switch op {
	case OperationEquals:
		if a, b, ok := texts(actual, expected); ok {
			return strings.EqualFold(a, b), nil
		}

		order, err := ordering(actual, expected)
		if err != nil {
			return false, err
		}

		return order == 0, nil
	case OperationContains, OperationBegins, OperationEnds:
		a, b, ok := texts(actual, expected)
		if !ok {
			return false, fmt.Errorf("%w: %s needs text, got %T and %T", ErrUnsupportedCompare, op, actual, expected)
		}

		a, b = strings.ToLower(a), strings.ToLower(b)

		switch op {
		case OperationContains:
			return strings.Contains(a, b), nil
		case OperationBegins:
			return strings.HasPrefix(a, b), nil
		default:
			return strings.HasSuffix(a, b), nil
		}
	case OperationGreaterThan, OperationLessThan:
		order, err := ordering(actual, expected)
		if err != nil {
			return false, err
		}

		if op == OperationGreaterThan {
			return order > 0, nil
		}

		return order < 0, nil
	default:
		return false, fmt.Errorf("%w: operation '%s'", ErrInvalidParameter, op)
	}
}

func texts(a, b any) (string, string, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)

	return as, bs, aok && bok
}

func ordering(a, b any) (int, error) {
	if at, ok := a.(time.Time); ok {
		bt, err := asTime(b)
		if err != nil {
			return 0, err
		}

		return at.Compare(bt), nil
	}

	af, aok := asFloat(a)
	bf, bok := asFloat(b)

	if !aok || !bok {
		return 0, fmt.Errorf("%w: %T and %T", ErrUnsupportedCompare, a, b)
	}

	return cmp.Compare(af, bf), nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %w", ErrUnsupportedCompare, err)
		}

		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("%w: time and %T", ErrUnsupportedCompare, v)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
