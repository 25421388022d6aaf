package scim

import (
	"encoding/json"
	"strconv"
	"strings"
)

// setPath writes value at the dotted path in m, creating intermediate maps as
// needed. Existing non-map values on the way are replaced by maps.
func setPath(m map[string]any, path string, value any) {
	if path == "" {
		return
	}
	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// flatten converts nested maps and slices into dotted-path leaf keys,
// array elements indexed numerically (emails.0.type).
func flatten(prefix string, v any, out map[string]any) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			if prefix != "" {
				out[prefix] = val
			}
			return
		}
		for k, sub := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, sub, out)
		}
	case []any:
		if len(val) == 0 {
			if prefix != "" {
				out[prefix] = val
			}
			return
		}
		for i, sub := range val {
			flatten(prefix+"."+strconv.Itoa(i), sub, out)
		}
	default:
		out[prefix] = v
	}
}

// deepCopy clones a JSON-shaped value.
func deepCopy[T any](v T) T {
	raw, _ := json.Marshal(v)
	var out T
	_ = json.Unmarshal(raw, &out)
	return out
}
