// Package validation checks definitions and the parameter values supplied
// for them before an action or condition runs.
package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrMandatoryParameter = errors.New("mandatory parameter not set")
	ErrInvalidParameter   = errors.New("invalid parameter value")
	ErrUnknownParameter   = errors.New("parameter not declared")
)

// ParameterError names the parameter that failed validation.
type ParameterError struct {
	Definition string
	Parameter  string
	Err        error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s parameter '%s': %v", e.Definition, e.Parameter, e.Err)
}

func (e *ParameterError) Unwrap() error {
	return e.Err
}

type Validator struct {
	structs *validator.Validate
}

func New() *Validator {
	return &Validator{structs: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateDefinition checks the definition and each declared parameter.
func (v *Validator) ValidateDefinition(def *models.ParameterizedItemDefinition) error {
	if err := v.structs.Struct(def); err != nil {
		return fmt.Errorf("definition %s: %w", def.Name, err)
	}

	for _, p := range def.ParameterDefinitions() {
		if err := v.structs.Struct(p); err != nil {
			return fmt.Errorf("definition %s parameter %s: %w", def.Name, p.Name, err)
		}
	}

	return nil
}

// ValidateParameters checks values against def. Mandatory parameters must be
// set, values must match their declared type and undeclared parameters are
// rejected unless the definition allows ad hoc properties.
func (v *Validator) ValidateParameters(def *models.ParameterizedItemDefinition, values map[string]any) error {
	for _, p := range def.ParameterDefinitions() {
		if p.Mandatory && isEmpty(values[p.Name]) {
			return &ParameterError{Definition: def.Name, Parameter: p.Name, Err: ErrMandatoryParameter}
		}
	}

	if !def.AdhocPropertiesAllowed {
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}

		slices.Sort(names)

		for _, name := range names {
			if _, ok := def.ParameterDefinition(name); !ok {
				return &ParameterError{Definition: def.Name, Parameter: name, Err: ErrUnknownParameter}
			}
		}
	}

	document := make(map[string]any, len(values))
	for name, value := range values {
		if value != nil {
			document[name] = normalize(value)
		}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(Schema(def)), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("validate %s parameters: %w", def.Name, err)
	}

	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		field := ""
		if errs := result.Errors(); len(errs) > 0 {
			field = errs[0].Field()
		}

		return &ParameterError{
			Definition: def.Name,
			Parameter:  field,
			Err:        fmt.Errorf("%w: %s", ErrInvalidParameter, strings.Join(problems, "; ")),
		}
	}

	return nil
}

// Schema renders the JSON schema of the parameters accepted by def.
func Schema(def *models.ParameterizedItemDefinition) map[string]any {
	properties := make(map[string]any)

	for _, p := range def.ParameterDefinitions() {
		prop := typeSchema(p.Type)
		if p.MultiValued {
			prop = map[string]any{"type": "array", "items": prop}
		}

		if p.DisplayLabel != "" {
			prop["title"] = p.DisplayLabel
		}

		properties[p.Name] = prop
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": def.AdhocPropertiesAllowed,
	}
}

func typeSchema(t models.ParameterType) map[string]any {
	switch t {
	case models.ParameterTypeText, models.ParameterTypeQName:
		return map[string]any{"type": "string"}
	case models.ParameterTypeInt, models.ParameterTypeLong:
		return map[string]any{"type": "integer"}
	case models.ParameterTypeFloat, models.ParameterTypeDouble:
		return map[string]any{"type": "number"}
	case models.ParameterTypeBoolean:
		return map[string]any{"type": "boolean"}
	case models.ParameterTypeDate:
		return map[string]any{"type": "string", "format": "date-time"}
	case models.ParameterTypeNodeRef:
		return map[string]any{"type": "string", "pattern": "^[a-z]+://[^/]+/.+$"}
	default:
		return map[string]any{}
	}
}

// normalize turns repository values into their JSON representation.
func normalize(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case models.NodeRef:
		return v.String()
	case []models.NodeRef:
		out := make([]any, len(v))
		for i, ref := range v {
			out[i] = ref.String()
		}

		return out
	case []time.Time:
		out := make([]any, len(v))
		for i, ts := range v {
			out[i] = ts.Format(time.RFC3339Nano)
		}

		return out
	default:
		return value
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}
