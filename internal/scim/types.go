// Package scim implements the version adapter between SCIM 1.1/2.0 wire
// format and the normalized attribute representation exchanged with backend
// connectors, plus the response envelope and error formatting for both
// protocol versions.
package scim

import "github.com/dhawalhost/scimgate/internal/schema"

// Version aliases the registry's protocol selector so callers pass one type
// through both layers.
type Version = schema.Version

// SCIM schema URNs.
const (
	V1CoreSchema       = "urn:scim:schemas:core:1.0"
	V1EnterpriseSchema = "urn:scim:schemas:extension:enterprise:1.0"

	V2UserSchema           = "urn:ietf:params:scim:schemas:core:2.0:User"
	V2UserEnterpriseSchema = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
	V2GroupSchema          = "urn:ietf:params:scim:schemas:core:2.0:Group"
	V2ListResponseSchema   = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	V2ErrorSchema          = "urn:ietf:params:scim:api:messages:2.0:Error"
	V2PatchOpSchema        = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
)

// PatchRequest is a SCIM 2.0 PATCH request body.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is a single SCIM 2.0 PATCH operation. Path may carry a
// `[type eq "<value>"]` filter segment.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ListResponse is the collection envelope for explore, inclusion and
// filtered-get responses.
type ListResponse struct {
	Schemas      []string         `json:"schemas,omitempty"`
	TotalResults int              `json:"totalResults"`
	ItemsPerPage int              `json:"itemsPerPage"`
	StartIndex   int              `json:"startIndex"`
	Resources    []map[string]any `json:"Resources"`
}
