package templates

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webis-de/GenIRSim/internal/domain"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template any
		context  any
		want     any
	}{
		{
			name:     "dotted path",
			template: "{{a.b}}",
			context:  map[string]any{"a": map[string]any{"b": "x"}},
			want:     "x",
		},
		{
			name:     "multiple placeholders",
			template: "{{x}} and {{ y }}!",
			context:  map[string]any{"x": "one", "y": "two"},
			want:     "one and two!",
		},
		{
			name:     "multi-line value",
			template: "Q: {{q}}\nA:",
			context:  map[string]any{"q": "line 1\nline 2"},
			want:     "Q: line 1\nline 2\nA:",
		},
		{
			name:     "sequence as bullet list",
			template: "{{a}}",
			context:  map[string]any{"a": []any{"x", "y"}},
			want:     `- x\n- y`,
		},
		{
			name:     "empty sequence",
			template: "{{a}}",
			context:  map[string]any{"a": []any{}},
			want:     "",
		},
		{
			name:     "numbers and booleans",
			template: "{{n}}/{{f}}/{{b}}",
			context:  map[string]any{"n": 3.0, "f": 0.25, "b": true},
			want:     "3/0.25/true",
		},
		{
			name:     "null value",
			template: "[{{n}}]",
			context:  map[string]any{"n": nil},
			want:     "[]",
		},
		{
			name:     "slice index",
			template: "{{items.1}}",
			context:  map[string]any{"items": []any{"a", "b"}},
			want:     "b",
		},
		{
			name:     "resolved value is rendered again",
			template: "{{prompt}}",
			context:  map[string]any{"prompt": "Hello {{name}}", "name": "Ada"},
			want:     "Hello Ada",
		},
		{
			name:     "unterminated placeholder is literal",
			template: "a {{b",
			context:  map[string]any{},
			want:     "a {{b",
		},
		{
			name:     "scalars pass through",
			template: map[string]any{"n": 1, "ok": false, "s": "{{v}}"},
			context:  map[string]any{"v": "w"},
			want:     map[string]any{"n": 1, "ok": false, "s": "w"},
		},
		{
			name:     "nested structures",
			template: map[string]any{"list": []any{"{{a}}", map[string]any{"b": "{{b}}"}}},
			context:  map[string]any{"a": "1", "b": "2"},
			want:     map[string]any{"list": []any{"1", map[string]any{"b": "2"}}},
		},
		{
			name:     "struct context",
			template: "{{utterance}}",
			context:  domain.UserTurn{Utterance: "hi"},
			want:     "hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given a template and a context
			// When rendering
			got, err := Render(tt.template, tt.context, false)

			// Then every placeholder is resolved
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderObjectValue(t *testing.T) {
	context := map[string]any{
		"topic": map[string]any{"description": "{{d}}"},
		"d":     "cats",
	}

	got, err := RenderString("{{topic}}", context, false)

	require.NoError(t, err)
	assert.Equal(t, "{\n  \"description\": \"cats\"\n}", got)
}

func TestRenderMissing(t *testing.T) {
	t.Run("fails by default", func(t *testing.T) {
		_, err := Render("{{a.b}}", map[string]any{}, false)

		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrMissingVariable))
		var missing *domain.MissingVariableError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "a.b", missing.Path)
		assert.Equal(t, 0, missing.Position)
		assert.Equal(t, "a", missing.Segment)
	})

	t.Run("reports the first missing segment", func(t *testing.T) {
		_, err := Render("{{a.b.c}}", map[string]any{"a": map[string]any{}}, false)

		var missing *domain.MissingVariableError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, 1, missing.Position)
		assert.Equal(t, "b", missing.Segment)
	})

	t.Run("kept when ignored", func(t *testing.T) {
		got, err := Render("{{a.b}} and {{c}}", map[string]any{"c": "x"}, true)

		require.NoError(t, err)
		assert.Equal(t, "{{a.b}} and x", got)
	})

	t.Run("path through a scalar", func(t *testing.T) {
		_, err := Render("{{a.b}}", map[string]any{"a": "text"}, false)
		assert.ErrorIs(t, err, domain.ErrMissingVariable)
	})
}

func TestRenderRecursionLimit(t *testing.T) {
	context := map[string]any{"loop": "{{loop}}"}

	_, err := Render("{{loop}}", context, false)

	assert.ErrorIs(t, err, ErrRecursionLimit)
}

func TestRenderDoesNotModifyTemplate(t *testing.T) {
	template := map[string]any{"a": "{{x}}", "b": []any{"{{x}}"}}

	_, err := Render(template, map[string]any{"x": "y"}, false)

	require.NoError(t, err)
	assert.Equal(t, "{{x}}", template["a"])
	assert.Equal(t, []any{"{{x}}"}, template["b"])
}

func TestRenderEach(t *testing.T) {
	contexts := []any{
		map[string]any{"q": "one"},
		map[string]any{"q": "two"},
	}

	got, err := RenderEach("query: {{q}}", contexts, false)

	require.NoError(t, err)
	assert.Equal(t, []any{"query: one", "query: two"}, got)

	_, err = RenderEach("{{q}}", []any{map[string]any{}}, false)
	assert.ErrorIs(t, err, domain.ErrMissingVariable)
}

func TestJoinMessages(t *testing.T) {
	got := JoinMessages([]domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	})

	assert.Equal(t, "user: hi\nassistant: hello", got)
	assert.Empty(t, JoinMessages(nil))
}

func TestJoinProperties(t *testing.T) {
	properties := map[string]any{"title": "A", "score": 1.5, "id": "d1"}

	assert.Equal(t, "id: d1\nscore: 1.5\ntitle: A", JoinProperties(properties))
	assert.Equal(t, "title: A\nid: d1", JoinProperties(properties, "title", "missing", "id"))
}

func TestTSVToContexts(t *testing.T) {
	tests := []struct {
		name    string
		tsv     string
		want    []map[string]any
		wantErr bool
	}{
		{
			name: "header and rows",
			tsv:  "topic\tlang\ncats\ten\r\ndogs\tde\n",
			want: []map[string]any{
				{"topic": "cats", "lang": "en"},
				{"topic": "dogs", "lang": "de"},
			},
		},
		{
			name: "short row",
			tsv:  "a\tb\nx",
			want: []map[string]any{{"a": "x", "b": ""}},
		},
		{
			name: "header only",
			tsv:  "a\tb\n",
			want: []map[string]any{},
		},
		{name: "empty", tsv: "", wantErr: true},
		{name: "too many cells", tsv: "a\nx\ty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TSVToContexts(tt.tsv)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
