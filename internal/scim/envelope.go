package scim

// BuildList wraps zero or more resources in a ListResponse. A connector that
// does its own pagination may pass totalResults > 0; otherwise totalResults
// falls back to the page size. startIndex < 1 is coerced to 1. When the
// requested startIndex lies beyond totalResults the page is forced empty,
// which is also how a SCIM 2.0 lookup miss surfaces as 200 with no Resources.
// The password attribute is stripped from every returned resource.
func BuildList(resources []map[string]any, totalResults, startIndex int) ListResponse {
	res := ListResponse{Resources: resources}
	if res.Resources == nil {
		res.Resources = []map[string]any{}
	}
	res.TotalResults = totalResults
	if res.TotalResults == 0 {
		res.TotalResults = len(res.Resources)
	}
	res.ItemsPerPage = len(res.Resources)
	res.StartIndex = startIndex
	if res.StartIndex < 1 {
		res.StartIndex = 1
	}
	if res.StartIndex > res.TotalResults {
		res.Resources = []map[string]any{}
		res.ItemsPerPage = 0
	}
	for _, r := range res.Resources {
		delete(r, "password")
	}
	return res
}

// ApplyListSchemas stamps the version-specific schemas URNs onto a list
// envelope and returns it as a generic map ready for serialization.
func ApplyListSchemas(list ListResponse, v Version) map[string]any {
	out := map[string]any{
		"Resources":    list.Resources,
		"totalResults": list.TotalResults,
		"itemsPerPage": list.ItemsPerPage,
		"startIndex":   list.StartIndex,
	}
	if v.IsV2() {
		out["schemas"] = []string{V2ListResponseSchema}
	} else {
		out["schemas"] = []string{V1CoreSchema, V1EnterpriseSchema}
	}
	return out
}

// ApplySchemas stamps the version- and resource-specific schemas URNs onto a
// single resource, adding meta.resourceType for SCIM 2.0. resourceType is
// "User" or "Group"; anything else leaves the object untouched.
func ApplySchemas(obj map[string]any, resourceType string, v Version) map[string]any {
	if obj == nil {
		return obj
	}
	if !v.IsV2() {
		switch resourceType {
		case "User":
			obj["schemas"] = []string{V1CoreSchema, V1EnterpriseSchema}
		case "Group":
			obj["schemas"] = []string{V1CoreSchema}
		}
		return obj
	}
	switch resourceType {
	case "User":
		obj["schemas"] = []string{V2UserSchema, V2UserEnterpriseSchema}
	case "Group":
		obj["schemas"] = []string{V2GroupSchema}
	default:
		return obj
	}
	meta, ok := obj["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		obj["meta"] = meta
	}
	meta["resourceType"] = resourceType
	return obj
}

// Prune removes top-level nulls, empty objects and empty arrays from a
// resource and drops any attribute named in excluded. Nested values are left
// untouched.
func Prune(obj map[string]any, excluded []string) map[string]any {
	for _, attr := range excluded {
		delete(obj, attr)
	}
	for k, v := range obj {
		switch vv := v.(type) {
		case nil:
			delete(obj, k)
		case map[string]any:
			if len(vv) == 0 {
				delete(obj, k)
			}
		case []any:
			if len(vv) == 0 {
				delete(obj, k)
			}
		}
	}
	return obj
}
