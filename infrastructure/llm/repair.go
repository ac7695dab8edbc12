package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// ErrNoJSONObject indicates that no repair produced a JSON object.
var ErrNoJSONObject = errors.New("no JSON object in model output")

var (
	leadingFence  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")

	// {key="utterance": "..."} -> {"utterance": "..."}
	pseudoKey = regexp.MustCompile(`\bkey\s*=\s*"((?:[^"\\]|\\.)*)"\s*:`)

	// {"key": "utterance", "value": "..."} -> {"utterance": "..."}
	keyValuePair = regexp.MustCompile(`"key"\s*:\s*("(?:[^"\\]|\\.)*")\s*,\s*"value"\s*:`)
)

// repairStep rewrites model output in one way. Steps are applied
// cumulatively, least destructive first, and parsing is attempted after
// each of them.
type repairStep struct {
	name   string
	repair func(string) (string, error)
}

var repairSteps = []repairStep{
	{name: "trim trailing content", repair: cutTrailingContent},
	{name: "quote pseudo keys", repair: regexpRepair(pseudoKey, `"$1":`)},
	{name: "collapse key value pairs", repair: regexpRepair(keyValuePair, `$1:`)},
	{name: "merge sibling objects", repair: mergeSiblingObjects},
	{name: "general repair", repair: jsonrepair.JSONRepair},
}

// ParseJSONObject extracts a JSON object from model output. Code fences and
// prose before the first brace are stripped; further repairs are only
// applied while the text does not parse, so well-formed output is never
// rewritten.
func ParseJSONObject(text string) (map[string]any, error) {
	candidate := stripFences(text)
	if object, ok := decodeObject(candidate); ok {
		return object, nil
	}

	for _, step := range repairSteps {
		repaired, err := step.repair(candidate)
		if err != nil {
			continue
		}
		candidate = repaired
		if object, ok := decodeObject(candidate); ok {
			return object, nil
		}
	}
	return nil, ErrNoJSONObject
}

// MissingKey returns the first required key that object lacks. Keys are
// gjson paths, so nested keys can be required with dotted notation.
func MissingKey(object map[string]any, requiredKeys []string) (string, bool) {
	if len(requiredKeys) == 0 {
		return "", false
	}
	raw, err := json.Marshal(object)
	if err != nil {
		return requiredKeys[0], true
	}
	for _, key := range requiredKeys {
		if !gjson.GetBytes(raw, key).Exists() {
			return key, true
		}
	}
	return "", false
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	return s
}

// decodeObject parses s as one JSON object. An object that consists of
// exactly a string "key" and a "value" is collapsed into {key: value}.
func decodeObject(s string) (map[string]any, bool) {
	var object map[string]any
	if err := json.Unmarshal([]byte(s), &object); err != nil || object == nil {
		return nil, false
	}
	return collapseKeyValue(object), true
}

func collapseKeyValue(object map[string]any) map[string]any {
	if len(object) != 2 {
		return object
	}
	key, ok := object["key"].(string)
	value, hasValue := object["value"]
	if !ok || !hasValue {
		return object
	}
	return map[string]any{key: value}
}

// cutTrailingContent drops everything after the last top-level object of
// the leading run of objects, so braces in trailing prose do not count.
// Text whose first object never closes falls back to the last brace.
func cutTrailingContent(s string) (string, error) {
	spans, end := scanObjects(s)
	if len(spans) > 0 {
		return s[:end], nil
	}
	if i := strings.LastIndexByte(s, '}'); i >= 0 {
		return s[:i+1], nil
	}
	return s, nil
}

func regexpRepair(re *regexp.Regexp, replacement string) func(string) (string, error) {
	return func(s string) (string, error) {
		return re.ReplaceAllString(s, replacement), nil
	}
}

// mergeSiblingObjects joins top-level objects separated by whitespace or
// commas into one object. Later keys win.
func mergeSiblingObjects(s string) (string, error) {
	spans := topLevelObjects(s)
	if len(spans) < 2 {
		return s, nil
	}

	merged := make(map[string]any)
	for _, span := range spans {
		object, ok := decodeObject(span)
		if !ok {
			return s, nil
		}
		for k, v := range object {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return s, err
	}
	return string(out), nil
}

// topLevelObjects splits s into its top-level {...} spans. It returns nil
// if anything other than whitespace or commas separates or follows them.
func topLevelObjects(s string) []string {
	spans, end := scanObjects(s)
	if strings.TrimRight(s[end:], " \t\n\r,") != "" {
		return nil
	}
	return spans
}

// scanObjects reads the leading run of top-level {...} spans of s,
// separated by whitespace or commas, and returns them together with the
// offset just past the last complete span. Braces inside strings are
// ignored. Scanning stops at the first other character outside an object.
func scanObjects(s string) ([]string, int) {
	var (
		spans    []string
		end      int
		depth    int
		start    int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"' && depth > 0:
			inString = true
		case c == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case c == '}' && depth > 0:
			depth--
			if depth == 0 {
				spans = append(spans, s[start:i+1])
				end = i + 1
			}
		case depth > 0:
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
		default:
			return spans, end
		}
	}
	return spans, end
}
