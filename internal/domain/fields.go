package domain

import (
	"encoding/json"
	"maps"
)

// marshalWithFields encodes known properties together with open-ended
// extra fields into one JSON object. Known properties win on collision.
func marshalWithFields(fields map[string]any, known map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+len(known))
	maps.Copy(out, fields)
	maps.Copy(out, known)
	return json.Marshal(out)
}

// unmarshalWithFields decodes a JSON object, storing every key present in
// known into its target pointer and returning the remaining keys.
func unmarshalWithFields(data []byte, known map[string]any) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	for key, target := range known {
		value, ok := raw[key]
		if !ok {
			continue
		}
		delete(raw, key)
		if err := json.Unmarshal(value, target); err != nil {
			return nil, err
		}
	}

	if len(raw) == 0 {
		return nil, nil
	}

	fields := make(map[string]any, len(raw))
	for key, value := range raw {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, err
		}
		fields[key] = v
	}
	return fields, nil
}
