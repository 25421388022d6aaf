// Package connector defines the contract between the gateway and backend
// identity stores. Connectors only ever see the normalized attribute
// representation, never raw SCIM wire JSON.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Lookup addresses a single resource by an eq match on one attribute,
// e.g. {Filter: "userName", Identifier: "bjensen"}.
type Lookup struct {
	Filter     string
	Identifier string
}

// ListResult is a page of resources. A connector that paginates sets
// TotalResults to the full match count; leaving it zero makes the gateway
// fall back to the page length.
type ListResult struct {
	Resources    []map[string]any
	TotalResults int
}

// Connector is the capability surface a backend must provide. A lookup miss
// is (nil, nil), not an error; errors are reserved for backend failures.
// Modify payloads follow the normalized shape: multi-valued attributes keyed
// by type, an empty string value meaning "clear", and group membership
// changes arriving as an ordered delta list under the members attribute.
type Connector interface {
	Name() string

	ExploreUsers(ctx context.Context, baseEntity, attributes string, startIndex, count int) (ListResult, error)
	GetUser(ctx context.Context, baseEntity string, lookup Lookup, attributes string) (map[string]any, error)
	GetGroupUsers(ctx context.Context, baseEntity, groupName, attributes string) ([]map[string]any, error)
	CreateUser(ctx context.Context, baseEntity string, attrs map[string]any) (map[string]any, error)
	ModifyUser(ctx context.Context, baseEntity, id string, attrs map[string]any) error
	DeleteUser(ctx context.Context, baseEntity, id string) error

	ExploreGroups(ctx context.Context, baseEntity, attributes string, startIndex, count int) (ListResult, error)
	GetGroup(ctx context.Context, baseEntity string, lookup Lookup, attributes string) (map[string]any, error)
	GetGroupMembers(ctx context.Context, baseEntity, userID, attributes string) ([]map[string]any, error)
	CreateGroup(ctx context.Context, baseEntity string, attrs map[string]any) (map[string]any, error)
	ModifyGroup(ctx context.Context, baseEntity, id string, attrs map[string]any) error
	DeleteGroup(ctx context.Context, baseEntity, id string) error
}

// API is the optional non-SCIM passthrough surface. The gateway forwards
// bodies as-is and wraps results in a minimal success/error envelope.
type API interface {
	GetAPI(ctx context.Context, baseEntity, id string, query url.Values) (map[string]any, error)
	PostAPI(ctx context.Context, baseEntity string, body map[string]any) (any, error)
	PutAPI(ctx context.Context, baseEntity, id string, body map[string]any) (any, error)
	PatchAPI(ctx context.Context, baseEntity, id string, body map[string]any) (any, error)
	DeleteAPI(ctx context.Context, baseEntity, id string) (any, error)
}

// DuplicateKeyError signals a create against an already existing unique key.
// The gateway maps it to HTTP 409.
type DuplicateKeyError struct {
	Resource string
	Key      string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Resource, e.Key)
}

// IsDuplicateKey reports whether err wraps a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}
