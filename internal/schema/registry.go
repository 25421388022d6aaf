// Package schema loads the built-in SCIM 1.1/2.0 definition documents and
// answers attribute queries for the version adapter.
package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed scimdef_v1.json scimdef_v2.json testmode.json
var defFS embed.FS

// Version selects which SCIM wire protocol the gateway speaks.
type Version string

const (
	Version11 Version = "1.1"
	Version20 Version = "2.0"
)

// IsV2 reports whether v is SCIM 2.0.
func (v Version) IsV2() bool { return v == Version20 || v == "2" }

// Attribute describes a single schema attribute.
type Attribute struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	MultiValued bool   `json:"multiValued"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema,omitempty"`
}

// Resource is one named schema (User or Group) with its attribute list.
type Resource struct {
	ID         string      `json:"id,omitempty"`
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
}

// definition mirrors the embedded scimdef documents.
type definition struct {
	Schemas struct {
		Resources []*Resource `json:"Resources"`
	} `json:"Schemas"`
	ServiceProviderConfig map[string]any `json:"ServiceProviderConfigs"`
	ResourceTypes         map[string]any `json:"ResourceTypes"`
}

type testmode struct {
	Users  []map[string]any `json:"Users"`
	Groups []map[string]any `json:"Groups"`
}

// Registry holds the loaded, merged schema set for one gateway instance.
// It is built once at startup and read-only afterwards.
type Registry struct {
	version Version
	def     definition
	fixture testmode
}

// Load reads the built-in definition for the configured SCIM version and,
// when customSchemaPath is non-empty, merges the custom attribute extension.
func Load(version Version, customSchemaPath string) (*Registry, error) {
	name := "scimdef_v1.json"
	if version.IsV2() {
		name = "scimdef_v2.json"
	}
	raw, err := defFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading built-in schema definition: %w", err)
	}
	r := &Registry{version: version}
	if err := json.Unmarshal(raw, &r.def); err != nil {
		return nil, fmt.Errorf("parsing built-in schema definition: %w", err)
	}
	raw, err = defFS.ReadFile("testmode.json")
	if err != nil {
		return nil, fmt.Errorf("reading testmode fixtures: %w", err)
	}
	if err := json.Unmarshal(raw, &r.fixture); err != nil {
		return nil, fmt.Errorf("parsing testmode fixtures: %w", err)
	}
	if customSchemaPath != "" {
		if err := r.mergeCustomFile(customSchemaPath); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// mergeCustomFile merges a custom schema file into the core User/Group schemas.
func (r *Registry) mergeCustomFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed reading file defined in configuration scim.customSchema: %w", err)
	}
	var custom []*Resource
	if err := json.Unmarshal(raw, &custom); err != nil {
		var single Resource
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return fmt.Errorf("failed parsing custom schema %s: %w", path, err)
		}
		custom = []*Resource{&single}
	}
	return r.MergeCustom(custom)
}

// MergeCustom merges custom attributes into the core User and Group schemas.
// Only attributes whose names do not already exist in the core schema are
// taken; they are prepended so core attributes keep precedence. Merging
// nothing is a configuration error, not a silent no-op.
func (r *Registry) MergeCustom(custom []*Resource) error {
	merged := false
	for _, name := range []string{"User", "Group"} {
		core := r.resource(name)
		if core == nil {
			continue
		}
		var cust *Resource
		for _, c := range custom {
			if c != nil && c.Name == name {
				cust = c
				break
			}
		}
		if cust == nil {
			continue
		}
		var add []Attribute
		for _, attr := range cust.Attributes {
			if r.hasAttribute(core, attr.Name) {
				continue
			}
			if !r.version.IsV2() {
				attr.Schema = "urn:scim:schemas:core:1.0"
			}
			add = append(add, attr)
			merged = true
		}
		core.Attributes = append(add, core.Attributes...)
	}
	if !merged {
		return errors.New(`no custom SCIM schema attributes have been merged - make sure using correct format e.g. [{"name": "User", "attributes": [...]}] and that attribute names do not conflict with core schema attribute names`)
	}
	return nil
}

func (r *Registry) resource(name string) *Resource {
	for _, res := range r.def.Schemas.Resources {
		if res.Name == name {
			return res
		}
	}
	return nil
}

func (r *Registry) hasAttribute(res *Resource, name string) bool {
	for _, a := range res.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Version returns the configured SCIM version.
func (r *Registry) Version() Version { return r.version }

// IsMultiValued reports whether attr is a multi-valued attribute of the named
// resource ("User" or "Group").
func (r *Registry) IsMultiValued(resourceName, attr string) bool {
	res := r.resource(resourceName)
	if res == nil {
		return false
	}
	for _, a := range res.Attributes {
		if a.Name == attr && a.MultiValued {
			return true
		}
	}
	return false
}

// ServiceProviderConfig returns the static capability document.
func (r *Registry) ServiceProviderConfig() map[string]any {
	return copyMap(r.def.ServiceProviderConfig)
}

// SchemasDocument returns the full schema list document.
func (r *Registry) SchemasDocument() map[string]any {
	resources := make([]any, 0, len(r.def.Schemas.Resources))
	for _, res := range r.def.Schemas.Resources {
		resources = append(resources, resourceToMap(res))
	}
	return map[string]any{"Resources": resources}
}

// SchemaByName returns the schema for one resource, accepting either the bare
// name or its plural route form (Users, Groups).
func (r *Registry) SchemaByName(name string) (map[string]any, bool) {
	name = strings.TrimSuffix(name, "s")
	res := r.resource(name)
	if res == nil {
		return nil, false
	}
	return resourceToMap(res), true
}

// ResourceTypes returns the SCIM 2.0 resource type document.
func (r *Registry) ResourceTypes() map[string]any {
	return copyMap(r.def.ResourceTypes)
}

// TestmodeUsers returns deep copies of the built-in sample users.
func (r *Registry) TestmodeUsers() []map[string]any { return copySlice(r.fixture.Users) }

// TestmodeGroups returns deep copies of the built-in sample groups.
func (r *Registry) TestmodeGroups() []map[string]any { return copySlice(r.fixture.Groups) }

func resourceToMap(res *Resource) map[string]any {
	raw, _ := json.Marshal(res)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func copySlice(s []map[string]any) []map[string]any {
	raw, _ := json.Marshal(s)
	var out []map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
