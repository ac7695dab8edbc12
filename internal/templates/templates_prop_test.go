package templates

import (
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

// Property: text without an opening delimiter renders to itself.
func TestRenderPlainTextProperty(t *testing.T) {
	property := func(text string) bool {
		if strings.Contains(text, openDelim) {
			return true
		}
		got, err := RenderString(text, map[string]any{}, false)
		return err == nil && got == text
	}

	err := quick.Check(property, &quick.Config{MaxCount: 1000})
	assert.NoError(t, err)
}

// Property: rendering an object of templated strings preserves its key set.
func TestRenderPreservesKeysProperty(t *testing.T) {
	property := func(keys []string, value string) bool {
		if strings.Contains(value, openDelim) {
			return true
		}
		template := make(map[string]any, len(keys))
		for _, key := range keys {
			template[key] = "{{v}}"
		}
		rendered, err := Render(template, map[string]any{"v": value}, false)
		if err != nil {
			return false
		}
		out, ok := rendered.(map[string]any)
		if !ok || len(out) != len(template) {
			return false
		}
		for key := range template {
			if _, ok := out[key]; !ok {
				return false
			}
		}
		return true
	}

	err := quick.Check(property, &quick.Config{MaxCount: 500})
	assert.NoError(t, err)
}
