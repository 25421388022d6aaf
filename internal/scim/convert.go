package scim

import "strings"

// Normalize converts a full SCIM representation into the normalized shape
// passed to backend connectors. Multi-valued attributes carrying a `type`
// discriminator are rewritten from arrays into objects keyed by lower-cased
// type, e.g.
//
//	{"emails":[{"value":"bjensen@example.com","type":"work"}]}
//	  => {"emails":{"work":{"value":"bjensen@example.com","type":"work"}}}
//
// Type-less multi-valued attributes (groups, x509Certificates) stay arrays.
// An element marked operation=delete that is the sole element of its
// attribute array keeps its entry with value cleared, signaling "clear this
// attribute" to the connector. Paths listed under meta.attributes are set to
// empty string and meta itself is dropped, as is the schemas array.
func Normalize(obj map[string]any) map[string]any {
	data := deepCopy(obj)
	if data == nil {
		data = map[string]any{}
	}
	delete(data, "schemas")

	newMulti := map[string]map[string]any{}
	for key, val := range data {
		arr, ok := val.([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		first, ok := arr[0].(map[string]any)
		if !ok || first["type"] == nil {
			continue // type-less multivalue, keep as ordered sequence
		}
		for _, el := range arr {
			elm, ok := el.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := elm["type"].(string)
			if typ == "" {
				continue
			}
			op, _ := elm["operation"].(string)
			if op == "delete" {
				if len(arr) != 1 {
					continue // deletes within a multi-element set are dropped
				}
				entry := deepCopy(elm)
				entry["value"] = ""
				if newMulti[key] == nil {
					newMulti[key] = map[string]any{}
				}
				newMulti[key][strings.ToLower(typ)] = entry
				continue
			}
			if newMulti[key] == nil {
				newMulti[key] = map[string]any{}
			}
			newMulti[key][strings.ToLower(typ)] = deepCopy(elm)
		}
		delete(data, key)
	}

	if meta, ok := data["meta"].(map[string]any); ok {
		if attrs, ok := meta["attributes"].([]any); ok {
			for _, a := range attrs {
				if path, ok := a.(string); ok {
					setPath(data, path, "")
				}
			}
		}
		delete(data, "meta")
	}

	for key, m := range newMulti {
		data[key] = m
	}
	return data
}

// Expand is the inverse of Normalize for type-keyed multi-valued attributes:
// an object keyed by type becomes an array of the attribute objects. Used
// when re-serializing connector output that kept the normalized shape.
func Expand(val any) (any, bool) {
	m, ok := val.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(m))
	for typ, entry := range m {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, false
		}
		if _, ok := obj["type"]; !ok {
			obj = deepCopy(obj)
			obj["type"] = typ
		}
		out = append(out, obj)
	}
	return out, true
}
