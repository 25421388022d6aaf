package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userIsMulti(attr string) bool {
	switch attr {
	case "emails", "phoneNumbers", "ims", "photos", "addresses", "entitlements", "roles":
		return true
	}
	return false
}

func TestParseAttrPath(t *testing.T) {
	p, err := parseAttrPath(`addresses[type eq "work"].streetAddress`)
	require.NoError(t, err)
	assert.Equal(t, "addresses", p.Root)
	assert.Equal(t, "work", p.Type)
	assert.Equal(t, "streetAddress", p.Sub)
	assert.Equal(t, "addresses.work.streetAddress", p.Resolved)

	p, err = parseAttrPath(`emails[type eq "home"]`)
	require.NoError(t, err)
	assert.Equal(t, "emails", p.Root)
	assert.Equal(t, "home", p.Type)
	assert.Empty(t, p.Sub)
	assert.Equal(t, "emails.home", p.Resolved)

	p, err = parseAttrPath("name.familyName")
	require.NoError(t, err)
	assert.Equal(t, "name.familyName", p.Root)
	assert.Empty(t, p.Type)
}

func TestParseAttrPathErrors(t *testing.T) {
	for _, bad := range []string{
		`[type eq "work"].value`,
		`emails[type eq "work"`,
		`emails[value eq "x"]`,
		`emails[type eq ]`,
		`emails[type eq "work"]value`,
	} {
		_, err := parseAttrPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestReducePatchTypedReplace(t *testing.T) {
	ops := []PatchOperation{
		{Op: "replace", Path: `emails[type eq "work"].value`, Value: []any{map[string]any{"value": "a@b.com"}}},
	}
	out := ReducePatch(ops, userIsMulti)
	assert.Equal(t, map[string]any{
		"emails": map[string]any{
			"work": map[string]any{"type": "work", "value": "a@b.com"},
		},
	}, out)
}

func TestReducePatchMembersRemove(t *testing.T) {
	ops := []PatchOperation{
		{Op: "remove", Path: "members", Value: []any{map[string]any{"value": "bjensen"}}},
	}
	out := ReducePatch(ops, func(string) bool { return false })
	assert.Equal(t, []map[string]any{{"operation": "delete", "value": "bjensen"}}, out["members"])
}

func TestReducePatchMembersAdd(t *testing.T) {
	ops := []PatchOperation{
		{Op: "add", Path: "members", Value: []any{
			map[string]any{"value": "bjensen", "display": "Babs Jensen"},
			map[string]any{"value": "jsmith"},
		}},
	}
	out := ReducePatch(ops, func(string) bool { return false })
	deltas := out["members"].([]map[string]any)
	require.Len(t, deltas, 2)
	assert.Equal(t, "bjensen", deltas[0]["value"])
	assert.Equal(t, "jsmith", deltas[1]["value"])
}

func TestReducePatchMembersRemoveAll(t *testing.T) {
	ops := []PatchOperation{{Op: "remove", Path: "groups"}}
	out := ReducePatch(ops, func(string) bool { return false })
	assert.Equal(t, []map[string]any{{"operation": "delete"}}, out["members"])
}

func TestReducePatchScalarFromWrappedValue(t *testing.T) {
	ops := []PatchOperation{
		{Op: "replace", Path: "name.familyName", Value: []any{map[string]any{"$ref": nil, "value": "Hansen"}}},
		{Op: "replace", Path: "displayName", Value: "Peter Hansen"},
	}
	out := ReducePatch(ops, userIsMulti)
	assert.Equal(t, "Peter Hansen", out["displayName"])
	name := out["name"].(map[string]any)
	assert.Equal(t, "Hansen", name["familyName"])
}

func TestReducePatchRemoveTypedMulti(t *testing.T) {
	ops := []PatchOperation{
		{Op: "remove", Path: `phoneNumbers[type eq "work"]`},
	}
	out := ReducePatch(ops, userIsMulti)
	nums := out["phoneNumbers"].(map[string]any)
	work := nums["work"].(map[string]any)
	assert.Equal(t, "", work["value"])
}

func TestReducePatchRemoveScalar(t *testing.T) {
	ops := []PatchOperation{{Op: "remove", Path: "title"}}
	out := ReducePatch(ops, userIsMulti)
	assert.Equal(t, "", out["title"])
}

func TestReducePatchNoPath(t *testing.T) {
	ops := []PatchOperation{
		{Op: "replace", Value: map[string]any{
			"active": false,
			"emails": []any{map[string]any{"type": "work", "value": "w@example.com"}},
		}},
	}
	out := ReducePatch(ops, userIsMulti)
	assert.Equal(t, false, out["active"])
	emails := out["emails"].(map[string]any)
	work := emails["work"].(map[string]any)
	assert.Equal(t, "w@example.com", work["value"])
}

func TestReducePatchAddressSubAttribute(t *testing.T) {
	ops := []PatchOperation{
		{Op: "add", Path: `addresses[type eq "work"].country`, Value: []any{map[string]any{"value": "Norway"}}},
		{Op: "add", Path: `addresses[type eq "work"].streetAddress`, Value: []any{map[string]any{"value": "Main St 1"}}},
	}
	out := ReducePatch(ops, userIsMulti)
	work := out["addresses"].(map[string]any)["work"].(map[string]any)
	assert.Equal(t, "work", work["type"])
	assert.Equal(t, "Norway", work["country"])
	assert.Equal(t, "Main St 1", work["streetAddress"])
}
