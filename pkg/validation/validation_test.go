package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition(t *testing.T) *models.ParameterizedItemDefinition {
	t.Helper()

	def, err := models.NewActionDefinition("test-action",
		models.ParameterDefinition{Name: "title", Type: models.ParameterTypeText, Mandatory: true},
		models.ParameterDefinition{Name: "count", Type: models.ParameterTypeInt},
		models.ParameterDefinition{Name: "ratio", Type: models.ParameterTypeDouble},
		models.ParameterDefinition{Name: "enabled", Type: models.ParameterTypeBoolean},
		models.ParameterDefinition{Name: "when", Type: models.ParameterTypeDate},
		models.ParameterDefinition{Name: "destination", Type: models.ParameterTypeNodeRef},
		models.ParameterDefinition{Name: "tags", Type: models.ParameterTypeText, MultiValued: true},
		models.ParameterDefinition{Name: "anything", Type: models.ParameterTypeAny},
	)
	require.NoError(t, err)

	return &def.ParameterizedItemDefinition
}

func TestValidateParameters_Valid(t *testing.T) {
	v := New()

	err := v.ValidateParameters(testDefinition(t), map[string]any{
		"title":       "hello",
		"count":       3,
		"ratio":       0.5,
		"enabled":     true,
		"when":        time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		"destination": models.NewNodeRef(models.DefaultStore, "abc"),
		"tags":        []string{"a", "b"},
		"anything":    map[string]any{"nested": 1},
	})

	assert.NoError(t, err)
}

func TestValidateParameters_MissingMandatory(t *testing.T) {
	v := New()

	for _, values := range []map[string]any{{}, {"title": ""}, {"title": nil}} {
		err := v.ValidateParameters(testDefinition(t), values)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMandatoryParameter)

		var pe *ParameterError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "title", pe.Parameter)
		assert.Equal(t, "test-action", pe.Definition)
	}
}

func TestValidateParameters_WrongType(t *testing.T) {
	v := New()

	tests := map[string]any{
		"count":       "three",
		"enabled":     "yes",
		"when":        "yesterday",
		"destination": "not a node",
		"tags":        "single",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			err := v.ValidateParameters(testDefinition(t), map[string]any{"title": "x", name: value})
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestValidateParameters_Undeclared(t *testing.T) {
	v := New()
	def := testDefinition(t)

	err := v.ValidateParameters(def, map[string]any{"title": "x", "extra": 1})
	assert.ErrorIs(t, err, ErrUnknownParameter)

	def.AdhocPropertiesAllowed = true
	assert.NoError(t, v.ValidateParameters(def, map[string]any{"title": "x", "extra": 1}))
}

func TestValidateDefinition(t *testing.T) {
	v := New()

	assert.NoError(t, v.ValidateDefinition(testDefinition(t)))

	def, err := models.NewActionDefinition("bad", models.ParameterDefinition{Name: "p", Type: "blob"})
	require.NoError(t, err)
	assert.Error(t, v.ValidateDefinition(&def.ParameterizedItemDefinition))
}

func TestSchema(t *testing.T) {
	schema := Schema(testDefinition(t))

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "integer"}, props["count"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])
}
