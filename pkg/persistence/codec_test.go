package persistence_test

import (
	"testing"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesCodecKeepsTypes(t *testing.T) {
	when := time.Date(2026, 7, 8, 9, 10, 11, 12, time.UTC)
	ref := models.NewNodeRef(models.DefaultStore, "abc")

	data, err := persistence.EncodeProperties(map[string]any{
		"int":     7,
		"int64":   int64(7),
		"float":   float32(1.5),
		"when":    when,
		"ref":     ref,
		"refs":    []models.NodeRef{ref},
		"nothing": nil,
	})
	require.NoError(t, err)

	props, err := persistence.DecodeProperties(data)
	require.NoError(t, err)

	assert.Equal(t, 7, props["int"])
	assert.Equal(t, int64(7), props["int64"])
	assert.Equal(t, 1.5, props["float"])
	assert.True(t, when.Equal(props["when"].(time.Time)))
	assert.Equal(t, ref, props["ref"])
	assert.Equal(t, []any{ref}, props["refs"], "typed slices come back as lists")
	assert.Contains(t, props, "nothing")
	assert.Nil(t, props["nothing"])
}

func TestPropertiesCodecRejectsUnknownTypes(t *testing.T) {
	_, err := persistence.EncodeProperties(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, persistence.ErrUnsupportedValue)

	_, err = persistence.DecodeProperties([]byte(`{"x":{"t":"blob","v":1}}`))
	assert.ErrorIs(t, err, persistence.ErrUnsupportedValue)
}

func TestCopyProperties(t *testing.T) {
	original := map[string]any{"list": []any{"a", []string{"b"}}, "map": map[string]any{"k": []string{"v"}}}
	copied := persistence.CopyProperties(original)

	copied["list"].([]any)[1].([]string)[0] = "changed"
	copied["map"].(map[string]any)["k"].([]string)[0] = "changed"

	assert.Equal(t, "b", original["list"].([]any)[1].([]string)[0])
	assert.Equal(t, "v", original["map"].(map[string]any)["k"].([]string)[0])
	assert.Nil(t, persistence.CopyProperties(nil))
}
