package scim

import (
	"fmt"
	"strings"
)

// attrPath is the parsed form of a SCIM 2.0 patch path. The supported grammar
// is intentionally small:
//
//	<root>
//	<root>[type eq "<type>"]
//	<root>[type eq "<type>"].<sub>
//	<root>.<sub>
type attrPath struct {
	Root string // emails, addresses, name, ...
	Type string // filter value, lower case not applied (endpoint types are used as-is)
	Sub  string // sub-attribute after the filter segment
	// Dotted reconstruction incorporating the resolved type, e.g.
	// "addresses.work.streetAddress". Empty when the path has no filter.
	Resolved string
}

// parseAttrPath tokenizes a patch path. A malformed filter segment (missing
// "type eq", unterminated bracket, unquoted value) is an error; a path with
// no bracket at all parses with Root set to the full path.
func parseAttrPath(path string) (attrPath, error) {
	open := strings.IndexByte(path, '[')
	if open < 0 {
		return attrPath{Root: path}, nil
	}
	p := attrPath{Root: path[:open]}
	if p.Root == "" {
		return p, fmt.Errorf("invalid path %q: missing attribute before filter", path)
	}
	rest := path[open+1:]
	closing := strings.IndexByte(rest, ']')
	if closing < 0 {
		return p, fmt.Errorf("invalid path %q: unterminated filter segment", path)
	}
	filter := strings.TrimSpace(rest[:closing])
	const prefix = "type eq "
	if !strings.HasPrefix(filter, prefix) {
		return p, fmt.Errorf("invalid path %q: only [type eq ...] filters are supported", path)
	}
	value := strings.TrimSpace(strings.TrimPrefix(filter, prefix))
	value = strings.ReplaceAll(value, `"`, "")
	if value == "" {
		return p, fmt.Errorf("invalid path %q: empty filter value", path)
	}
	p.Type = value

	tail := rest[closing+1:]
	if tail != "" {
		if !strings.HasPrefix(tail, ".") {
			return p, fmt.Errorf("invalid path %q: expected '.' after filter segment", path)
		}
		p.Sub = tail[1:]
	}
	p.Resolved = p.Root + "." + p.Type
	if p.Sub != "" {
		p.Resolved += "." + p.Sub
	}
	return p, nil
}

// ReducePatch deterministically reduces a SCIM 2.0 Operations list to one
// normalized resource. Operations addressing "members" (Group) or "groups"
// (User) are diverted into an ordered membership delta list surfaced under
// the "members" key: adds keep the operation value objects as-is, removes
// become {"operation":"delete","value":...}, and a remove without a value
// means "clear all memberships". isMulti answers whether a root attribute is
// multi-valued, deciding between object-by-type and scalar-path writes.
func ReducePatch(ops []PatchOperation, isMulti func(attr string) bool) map[string]any {
	data := map[string]any{}
	var deltas []map[string]any

	for _, op := range ops {
		verb := strings.ToLower(op.Op)
		if op.Path == "" {
			reduceNoPath(data, op.Value)
			continue
		}
		if op.Path == "members" || op.Path == "groups" {
			deltas = reduceMembership(deltas, verb, op.Value)
			continue
		}

		p, err := parseAttrPath(op.Path)
		if err != nil {
			// tolerate partial/malformed input: treat the raw path as scalar
			p = attrPath{Root: op.Path}
		}

		switch verb {
		case "add", "replace":
			if isMulti(p.Root) {
				writeMulti(data, p, op.Value)
				continue
			}
			if arr, ok := op.Value.([]any); ok && len(arr) > 0 {
				if obj, ok := arr[0].(map[string]any); ok {
					setPath(data, op.Path, obj["value"])
					continue
				}
			}
			setPath(data, op.Path, op.Value)
		case "remove":
			if isMulti(p.Root) && p.Type != "" {
				setPath(data, p.Root+"."+p.Type+".value", "")
				continue
			}
			if p.Resolved != "" {
				setPath(data, p.Resolved, "")
			} else {
				setPath(data, op.Path, "")
			}
		}
	}

	if len(deltas) > 0 {
		data["members"] = deltas
	}
	return data
}

// writeMulti applies an add/replace to a multi-valued, type-discriminated
// attribute, producing the object-by-type normalized shape.
func writeMulti(data map[string]any, p attrPath, value any) {
	arr, isArr := value.([]any)
	if !isArr || p.Type == "" {
		// entire set or sub-attribute assignment
		path := p.Resolved
		if path == "" {
			path = p.Root
			if p.Sub != "" {
				path += "." + p.Sub
			}
		}
		setPath(data, path, value)
		return
	}
	root, ok := data[p.Root].(map[string]any)
	if !ok {
		root = map[string]any{}
		data[p.Root] = root
	}
	entry, ok := root[p.Type].(map[string]any)
	if !ok {
		entry = map[string]any{}
		root[p.Type] = entry
	}
	if _, ok := entry["type"]; !ok {
		entry["type"] = p.Type
	}
	if len(arr) == 0 {
		return
	}
	switch {
	case p.Sub == "":
		if obj, ok := arr[0].(map[string]any); ok {
			for k, v := range obj {
				entry[k] = v
			}
		}
	default:
		if obj, ok := arr[0].(map[string]any); ok {
			entry[p.Sub] = obj["value"]
		} else {
			entry[p.Sub] = arr[0]
		}
	}
}

// reduceMembership folds one membership operation into the delta list.
func reduceMembership(deltas []map[string]any, verb string, value any) []map[string]any {
	switch verb {
	case "add", "replace":
		switch v := value.(type) {
		case []any:
			for _, el := range v {
				if obj, ok := el.(map[string]any); ok {
					deltas = append(deltas, deepCopy(obj))
				}
			}
		case map[string]any:
			deltas = append(deltas, deepCopy(v))
		}
	case "remove":
		switch v := value.(type) {
		case []any:
			for _, el := range v {
				if obj, ok := el.(map[string]any); ok {
					deltas = append(deltas, map[string]any{"operation": "delete", "value": obj["value"]})
				}
			}
		case map[string]any:
			if val, ok := v["value"]; ok {
				deltas = append(deltas, map[string]any{"operation": "delete", "value": val})
			}
		case nil:
			// no value => clear all memberships
			deltas = append(deltas, map[string]any{"operation": "delete"})
		}
	}
	return deltas
}

// reduceNoPath applies an operation without a path: the value map is iterated
// directly, applying the type-array-to-object rule per key.
func reduceNoPath(data map[string]any, value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}
	for key, v := range obj {
		arr, isArr := v.([]any)
		if !isArr {
			setPath(data, key, v)
			continue
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
			setPath(data, key+"."+typ, deepCopy(elm))
		}
	}
}
