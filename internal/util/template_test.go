package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	t.Run("no markers", func(t *testing.T) {
		out, err := RenderTemplate("plain {prompt}", nil)
		require.NoError(t, err)
		assert.Equal(t, "plain {prompt}", out)
	})

	t.Run("values are not escaped", func(t *testing.T) {
		out, err := RenderTemplate("Bedroom is {{.bedroom_temp}}. {{upper .mode}}", map[string]any{
			"bedroom_temp": "71.6°F",
			"mode":         "quiet & dark",
		})
		require.NoError(t, err)
		assert.Equal(t, "Bedroom is 71.6°F. QUIET & DARK", out)
	})

	t.Run("default and missing keys", func(t *testing.T) {
		out, err := RenderTemplate(`[{{default "unknown" .temp}}][{{.missing}}]`, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "[unknown][]", out)
	})

	t.Run("join", func(t *testing.T) {
		out, err := RenderTemplate(`{{join ", " .names}}`, map[string]any{"names": []string{"Lamp", "Fan"}})
		require.NoError(t, err)
		assert.Equal(t, "Lamp, Fan", out)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := RenderTemplate("{{.broken", nil)
		assert.ErrorContains(t, err, "parse prompt template")
	})
}
