package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema(t *testing.T) {
	type args struct {
		Names []string `json:"device_names" description:"Devices to query"`
		State string   `json:"state,omitempty"`
		Level *int     `json:"level"`
		skip  bool
	}

	schema := CreateSchema(args{})
	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	require.Len(t, props, 3)
	assert.Equal(t, "array", props["device_names"].(map[string]any)["type"])
	assert.Equal(t, "Devices to query", props["device_names"].(map[string]any)["description"])
	assert.Equal(t, "integer", props["level"].(map[string]any)["type"])
	assert.Equal(t, []string{"device_names"}, schema["required"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"state":      map[string]any{"type": "string", "enum": []string{"ON", "OFF"}},
			"brightness": map[string]any{"type": "integer"},
		},
		"required": []string{"state"},
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateParameters(map[string]any{"state": "ON", "brightness": float64(200)}, schema))
	})

	t.Run("missing required", func(t *testing.T) {
		err := ValidateParameters(map[string]any{}, schema)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "state", verr.Field)
	})

	t.Run("wrong type", func(t *testing.T) {
		err := ValidateParameters(map[string]any{"state": "ON", "brightness": "high"}, schema)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "brightness", verr.Field)
		assert.Equal(t, "high", verr.Value)
	})

	t.Run("enum", func(t *testing.T) {
		assert.Error(t, ValidateParameters(map[string]any{"state": "DIM"}, schema))
	})

	t.Run("empty schema accepts anything", func(t *testing.T) {
		assert.NoError(t, ValidateParameters(map[string]any{"x": 1}, nil))
	})

	t.Run("nil params treated as empty object", func(t *testing.T) {
		assert.NoError(t, ValidateParameters(nil, map[string]any{"type": "object"}))
	})
}
