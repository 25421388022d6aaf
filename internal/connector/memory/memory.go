// Package memory is the built-in test-mode connector: an in-memory user and
// group store seeded from the bundled fixtures. Every baseEntity gets its own
// isolated copy of the seed data.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dhawalhost/scimgate/internal/connector"
	"github.com/dhawalhost/scimgate/internal/schema"
)

// Connector implements connector.Connector and connector.API against
// process-local state.
type Connector struct {
	registry *schema.Registry

	mu      sync.RWMutex
	tenants map[string]*store
	apiDocs map[string]map[string]any
}

type store struct {
	users  []map[string]any
	groups []map[string]any
}

// New builds a memory connector seeded from the registry's fixtures.
func New(registry *schema.Registry) *Connector {
	return &Connector{
		registry: registry,
		tenants:  map[string]*store{},
		apiDocs:  map[string]map[string]any{},
	}
}

func (c *Connector) Name() string { return "memory" }

// tenant returns the store for baseEntity, seeding it on first use.
// Callers must hold mu.
func (c *Connector) tenant(baseEntity string) *store {
	s, ok := c.tenants[baseEntity]
	if !ok {
		s = &store{
			users:  c.registry.TestmodeUsers(),
			groups: c.registry.TestmodeGroups(),
		}
		c.tenants[baseEntity] = s
	}
	return s
}

func (c *Connector) ExploreUsers(ctx context.Context, baseEntity, attributes string, startIndex, count int) (connector.ListResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return page(c.tenant(baseEntity).users, startIndex, count), nil
}

func (c *Connector) ExploreGroups(ctx context.Context, baseEntity, attributes string, startIndex, count int) (connector.ListResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return page(c.tenant(baseEntity).groups, startIndex, count), nil
}

func page(all []map[string]any, startIndex, count int) connector.ListResult {
	res := connector.ListResult{TotalResults: len(all)}
	if startIndex < 1 {
		startIndex = 1
	}
	from := startIndex - 1
	if from >= len(all) {
		res.Resources = []map[string]any{}
		return res
	}
	to := len(all)
	if count > 0 && from+count < to {
		to = from + count
	}
	for _, r := range all[from:to] {
		res.Resources = append(res.Resources, copyMap(r))
	}
	return res
}

func (c *Connector) GetUser(ctx context.Context, baseEntity string, lookup connector.Lookup, attributes string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.tenant(baseEntity).users {
		if matchAttr(u, lookup.Filter, lookup.Identifier) {
			return copyMap(u), nil
		}
	}
	return nil, nil
}

func (c *Connector) GetGroup(ctx context.Context, baseEntity string, lookup connector.Lookup, attributes string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.tenant(baseEntity).groups {
		if matchAttr(g, lookup.Filter, lookup.Identifier) {
			return copyMap(g), nil
		}
	}
	return nil, nil
}

// GetGroupUsers returns the users whose groups attribute references the named
// group ("group member of user").
func (c *Connector) GetGroupUsers(ctx context.Context, baseEntity, groupName, attributes string) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, u := range c.tenant(baseEntity).users {
		if matchAttr(u, "groups.value", groupName) {
			out = append(out, map[string]any{"userName": u["userName"]})
		}
	}
	return out, nil
}

// GetGroupMembers returns the groups having userID among their members.
func (c *Connector) GetGroupMembers(ctx context.Context, baseEntity, userID, attributes string) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, g := range c.tenant(baseEntity).groups {
		if matchAttr(g, "members.value", userID) {
			out = append(out, copyMap(g))
		}
	}
	return out, nil
}

func (c *Connector) CreateUser(ctx context.Context, baseEntity string, attrs map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tenant(baseEntity)
	id, _ := attrs["userName"].(string)
	if id == "" {
		id, _ = attrs["externalId"].(string)
	}
	for _, u := range s.users {
		if matchAttr(u, "id", id) || matchAttr(u, "userName", id) {
			return nil, &connector.DuplicateKeyError{Resource: "User", Key: id}
		}
	}
	u := denormalize(attrs)
	u["id"] = id
	if _, ok := u["userName"]; !ok {
		u["userName"] = id
	}
	s.users = append(s.users, u)
	return map[string]any{"id": id}, nil
}

func (c *Connector) CreateGroup(ctx context.Context, baseEntity string, attrs map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tenant(baseEntity)
	id, _ := attrs["displayName"].(string)
	if id == "" {
		id, _ = attrs["externalId"].(string)
	}
	for _, g := range s.groups {
		if matchAttr(g, "id", id) || matchAttr(g, "displayName", id) {
			return nil, &connector.DuplicateKeyError{Resource: "Group", Key: id}
		}
	}
	g := denormalize(attrs)
	g["id"] = id
	if _, ok := g["displayName"]; !ok {
		g["displayName"] = id
	}
	s.groups = append(s.groups, g)
	return map[string]any{"id": id}, nil
}

func (c *Connector) ModifyUser(ctx context.Context, baseEntity, id string, attrs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.tenant(baseEntity).users {
		if matchAttr(u, "id", id) {
			c.apply(u, "User", attrs)
			return nil
		}
	}
	return fmt.Errorf("user %s not found", id)
}

func (c *Connector) ModifyGroup(ctx context.Context, baseEntity, id string, attrs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.tenant(baseEntity).groups {
		if matchAttr(g, "id", id) {
			if deltas, ok := memberDeltas(attrs["members"]); ok {
				applyMemberDeltas(g, deltas)
				delete(attrs, "members")
			}
			c.apply(g, "Group", attrs)
			return nil
		}
	}
	return fmt.Errorf("group %s not found", id)
}

func (c *Connector) DeleteUser(ctx context.Context, baseEntity, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tenant(baseEntity)
	for i, u := range s.users {
		if matchAttr(u, "id", id) {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("user %s not found", id)
}

func (c *Connector) DeleteGroup(ctx context.Context, baseEntity, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tenant(baseEntity)
	for i, g := range s.groups {
		if matchAttr(g, "id", id) {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("group %s not found", id)
}

// apply folds a normalized attribute map into a stored resource.
func (c *Connector) apply(res map[string]any, resourceName string, attrs map[string]any) {
	for key, val := range attrs {
		switch v := val.(type) {
		case string:
			if v == "" {
				delete(res, key)
			} else {
				res[key] = v
			}
		case map[string]any:
			if c.registry.IsMultiValued(resourceName, key) {
				applyTyped(res, key, v)
				continue
			}
			sub, ok := res[key].(map[string]any)
			if !ok {
				sub = map[string]any{}
			}
			for sk, sv := range v {
				if s, isStr := sv.(string); isStr && s == "" {
					delete(sub, sk)
				} else {
					sub[sk] = sv
				}
			}
			if len(sub) == 0 {
				delete(res, key)
			} else {
				res[key] = sub
			}
		default:
			res[key] = val
		}
	}
}

// applyTyped upserts or removes typed elements of a multi-valued attribute.
func applyTyped(res map[string]any, key string, byType map[string]any) {
	arr, _ := res[key].([]any)
	for typ, entry := range byType {
		elm, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		op, _ := elm["operation"].(string)
		value, _ := elm["value"].(string)
		remove := op == "delete" || value == ""
		idx := -1
		for i, el := range arr {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := obj["type"].(string); strings.EqualFold(t, typ) {
				idx = i
				break
			}
		}
		if remove {
			if idx >= 0 {
				arr = append(arr[:idx], arr[idx+1:]...)
			}
			continue
		}
		add := copyMap(elm)
		if _, ok := add["type"]; !ok {
			add["type"] = typ
		}
		if idx >= 0 {
			arr[idx] = any(add)
		} else {
			arr = append(arr, any(add))
		}
	}
	if len(arr) == 0 {
		delete(res, key)
	} else {
		res[key] = arr
	}
}

// memberDeltas recognizes the ordered membership delta list shape.
func memberDeltas(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, el := range list {
			obj, ok := el.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, obj)
		}
		return out, true
	}
	return nil, false
}

func applyMemberDeltas(group map[string]any, deltas []map[string]any) {
	members, _ := group["members"].([]any)
	for _, d := range deltas {
		op, _ := d["operation"].(string)
		if op == "delete" {
			val, hasVal := d["value"]
			if !hasVal || val == nil {
				members = nil
				continue
			}
			for i, el := range members {
				obj, ok := el.(map[string]any)
				if ok && obj["value"] == val {
					members = append(members[:i], members[i+1:]...)
					break
				}
			}
			continue
		}
		exists := false
		for _, el := range members {
			obj, ok := el.(map[string]any)
			if ok && obj["value"] == d["value"] {
				exists = true
				break
			}
		}
		if !exists {
			members = append(members, any(copyMap(d)))
		}
	}
	if len(members) == 0 {
		delete(group, "members")
	} else {
		group["members"] = members
	}
}

// denormalize turns type-keyed multi-valued objects back into arrays for
// storage, so reads return wire-shaped resources.
func denormalize(attrs map[string]any) map[string]any {
	out := map[string]any{}
	for key, val := range attrs {
		m, ok := val.(map[string]any)
		if !ok {
			out[key] = val
			continue
		}
		if typed, ok := expandTyped(m); ok {
			out[key] = typed
			continue
		}
		out[key] = copyMap(m)
	}
	return out
}

// expandTyped converts {"work":{"type":"work",...}} to [{"type":"work",...}].
// It only fires when every entry is an object; nested structs like name stay
// as maps.
func expandTyped(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	out := make([]any, 0, len(m))
	for typ, entry := range m {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, false
		}
		if _, hasType := obj["type"]; !hasType {
			return nil, false
		}
		obj = copyMap(obj)
		if obj["type"] == "" {
			obj["type"] = typ
		}
		out = append(out, any(obj))
	}
	return out, true
}

// matchAttr reports whether the dotted path equals want. Arrays along the
// path match if any element matches.
func matchAttr(res map[string]any, path, want string) bool {
	return matchValue(res, strings.Split(path, "."), want)
}

func matchValue(v any, segs []string, want string) bool {
	if len(segs) == 0 {
		s, ok := v.(string)
		return ok && s == want
	}
	switch vv := v.(type) {
	case map[string]any:
		return matchValue(vv[segs[0]], segs[1:], want)
	case []any:
		for _, el := range vv {
			if matchValue(el, segs, want) {
				return true
			}
		}
	}
	return false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = copyMap(vv)
		case []any:
			arr := make([]any, len(vv))
			for i, el := range vv {
				if obj, ok := el.(map[string]any); ok {
					arr[i] = copyMap(obj)
				} else {
					arr[i] = el
				}
			}
			out[k] = arr
		default:
			out[k] = v
		}
	}
	return out
}

// API passthrough backed by a process-local document store.

func (c *Connector) GetAPI(ctx context.Context, baseEntity, id string, query url.Values) (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id == "" {
		docs := map[string]any{}
		for k, v := range c.apiDocs {
			docs[k] = v
		}
		return map[string]any{"documents": docs}, nil
	}
	doc, ok := c.apiDocs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return copyMap(doc), nil
}

func (c *Connector) PostAPI(ctx context.Context, baseEntity string, body map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _ := body["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	c.apiDocs[id] = copyMap(body)
	return map[string]any{"id": id}, nil
}

func (c *Connector) PutAPI(ctx context.Context, baseEntity, id string, body map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiDocs[id] = copyMap(body)
	return map[string]any{"id": id}, nil
}

func (c *Connector) PatchAPI(ctx context.Context, baseEntity, id string, body map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.apiDocs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	for k, v := range body {
		doc[k] = v
	}
	return copyMap(doc), nil
}

func (c *Connector) DeleteAPI(ctx context.Context, baseEntity, id string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.apiDocs[id]; !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	delete(c.apiDocs, id)
	return nil, nil
}
