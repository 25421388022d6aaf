package scim

import "strings"

// NotValidAttributes returns the dotted attribute paths in obj that are not
// covered by the supported list. Paths deeper than two segments are truncated
// to their first two (emails.work.value is checked as emails.work), and
// anything under meta.attributes or schemas is exempt. A nil return means
// every attribute is supported; an empty supported list disables the check.
func NotValidAttributes(obj map[string]any, supported []string) []string {
	if len(supported) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		set[s] = struct{}{}
	}
	leaves := map[string]any{}
	flatten("", obj, leaves)

	var invalid []string
	seen := map[string]struct{}{}
	for key := range leaves {
		parts := strings.Split(key, ".")
		if len(parts) > 2 {
			key = parts[0] + "." + parts[1]
		}
		if strings.HasPrefix(key, "meta.attributes") || strings.HasPrefix(key, "schemas.") {
			continue
		}
		if _, ok := set[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		invalid = append(invalid, key)
	}
	if len(invalid) == 0 {
		return nil
	}
	return invalid
}
