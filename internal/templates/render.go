// Package templates renders the {{path}} placeholders used in every prompt,
// query, and configuration template.
//
// A placeholder is a dotted path looked up in a context of nested maps and
// slices. Resolved strings are rendered again, so configuration values can
// themselves contain placeholders. Resolved slices become a bullet list
// whose items are joined by the two characters `\n` (an escaped newline for
// prompts embedded in JSON), and resolved objects are rendered and encoded
// as indented JSON.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/webis-de/GenIRSim/internal/domain"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"

	// itemSeparator joins bullet list items.
	itemSeparator = `\n- `

	maxDepth = 64
)

// ErrRecursionLimit indicates that resolved values kept expanding into new
// placeholders beyond the nesting limit.
var ErrRecursionLimit = errors.New("template recursion limit exceeded")

// Render returns a copy of template with every placeholder in every string
// replaced by its value in context. Maps and slices are cloned recursively;
// other values pass through unchanged.
//
// A path that does not resolve fails with a *domain.MissingVariableError
// unless ignoreMissing is set, in which case the placeholder text is kept.
func Render(template, context any, ignoreMissing bool) (any, error) {
	r := renderer{context: context, ignoreMissing: ignoreMissing}
	return r.value(template, 0)
}

// RenderString renders a single text template.
func RenderString(text string, context any, ignoreMissing bool) (string, error) {
	r := renderer{context: context, ignoreMissing: ignoreMissing}
	return r.text(text, 0)
}

// RenderEach renders template once per context, in order.
func RenderEach(template any, contexts []any, ignoreMissing bool) ([]any, error) {
	out := make([]any, len(contexts))
	for i, context := range contexts {
		rendered, err := Render(template, context, ignoreMissing)
		if err != nil {
			return nil, fmt.Errorf("context %d: %w", i, err)
		}
		out[i] = rendered
	}
	return out, nil
}

type renderer struct {
	context       any
	ignoreMissing bool
}

func (r *renderer) value(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrRecursionLimit
	}

	switch t := v.(type) {
	case string:
		return r.text(t, depth)
	case map[string]any:
		clone := make(map[string]any, len(t))
		for key, entry := range t {
			rendered, err := r.value(entry, depth+1)
			if err != nil {
				return nil, err
			}
			clone[key] = rendered
		}
		return clone, nil
	case []any:
		clone := make([]any, len(t))
		for i, entry := range t {
			rendered, err := r.value(entry, depth+1)
			if err != nil {
				return nil, err
			}
			clone[i] = rendered
		}
		return clone, nil
	case map[string]string:
		clone := make(map[string]string, len(t))
		for key, entry := range t {
			rendered, err := r.text(entry, depth+1)
			if err != nil {
				return nil, err
			}
			clone[key] = rendered
		}
		return clone, nil
	case []string:
		clone := make([]string, len(t))
		for i, entry := range t {
			rendered, err := r.text(entry, depth+1)
			if err != nil {
				return nil, err
			}
			clone[i] = rendered
		}
		return clone, nil
	default:
		return v, nil
	}
}

func (r *renderer) text(text string, depth int) (string, error) {
	if depth > maxDepth {
		return "", ErrRecursionLimit
	}

	var out strings.Builder
	remaining := text
	for {
		start := strings.Index(remaining, openDelim)
		if start < 0 {
			out.WriteString(remaining)
			return out.String(), nil
		}
		out.WriteString(remaining[:start])
		remaining = remaining[start+len(openDelim):]

		end := strings.Index(remaining, closeDelim)
		if end < 0 {
			// Unterminated placeholders are literal text.
			out.WriteString(openDelim)
			out.WriteString(remaining)
			return out.String(), nil
		}
		inner := remaining[:end]
		remaining = remaining[end+len(closeDelim):]

		path := strings.Split(strings.TrimSpace(inner), ".")
		resolved, err := lookup(r.context, path)
		if err != nil {
			if r.ignoreMissing && errors.Is(err, domain.ErrMissingVariable) {
				out.WriteString(openDelim + inner + closeDelim)
				continue
			}
			return "", err
		}

		rendered, err := r.resolved(resolved, depth+1)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
	}
}

// resolved renders the value a placeholder resolved to.
func (r *renderer) resolved(v any, depth int) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return r.text(t, depth)
	case []any:
		if len(t) == 0 {
			return "", nil
		}
		items := make([]string, len(t))
		for i, item := range t {
			items[i] = stringify(item)
		}
		return r.text("- "+strings.Join(items, itemSeparator), depth)
	case map[string]any:
		rendered, err := r.value(t, depth)
		if err != nil {
			return "", err
		}
		encoded, err := json.MarshalIndent(rendered, "", "  ")
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	case bool, float64, float32, int, int64, int32, uint, uint64, uint32, json.Number:
		return stringify(t), nil
	default:
		normalized, err := Normalize(v)
		if err != nil {
			return "", err
		}
		return r.resolved(normalized, depth)
	}
}

// lookup follows path through nested maps and slices.
func lookup(context any, path []string) (any, error) {
	scope := context
	for position, segment := range path {
		next, ok := step(scope, segment)
		if !ok {
			return nil, domain.NewMissingVariableError(strings.Join(path, "."), position, segment)
		}
		scope = next
	}
	return scope, nil
}

func step(scope any, segment string) (any, bool) {
	switch s := scope.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := s[segment]
		return v, ok
	case map[string]string:
		v, ok := s[segment]
		return v, ok
	case []any:
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= len(s) {
			return nil, false
		}
		return s[i], true
	case string, bool, float64, int, json.Number:
		return nil, false
	default:
		normalized, err := Normalize(scope)
		if err != nil || reflect.TypeOf(normalized) == reflect.TypeOf(scope) {
			return nil, false
		}
		return step(normalized, segment)
	}
}

// Normalize converts structs, typed maps, and typed slices into the generic
// map[string]any and []any shapes templates operate on, using their JSON
// encoding.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalizing %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalizing %T: %w", v, err)
	}
	return out, nil
}

// stringify renders a scalar or structure as it appears inside text.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool, int, int64, int32, uint, uint64, uint32, json.Number:
		return fmt.Sprint(t)
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(encoded)
	}
}
