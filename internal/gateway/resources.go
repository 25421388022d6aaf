package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimgate/internal/connector"
	"github.com/dhawalhost/scimgate/internal/scim"
)

// list answers both the filtered lookup and the unfiltered explore form of
// GET /<resource>.
func (h *Handler) list(resource string) gin.HandlerFunc {
	ops := h.resources[resource]
	return func(c *gin.Context) {
		if filter := c.Query("filter"); filter != "" {
			h.listFiltered(c, ops, filter)
			return
		}
		h.explore(c, ops)
	}
}

func (h *Handler) explore(c *gin.Context, ops *resourceOps) {
	startIndex := queryInt(c, "startIndex")
	count := queryInt(c, "count")
	if startIndex > 0 && count == 0 {
		count = 200 // provisioning engines sending startIndex without count expect a page
	}
	h.log.Debug("explore", zap.String("resource", ops.description))
	result, err := ops.explore(c.Request.Context(), BaseEntity(c.Request), c.Query("attributes"), startIndex, count)
	if err != nil {
		h.scimError(c, http.StatusInternalServerError, err)
		return
	}
	list := scim.BuildList(result.Resources, result.TotalResults, startIndex)
	c.JSON(http.StatusOK, scim.ApplyListSchemas(list, h.version()))
}

func (h *Handler) listFiltered(c *gin.Context, ops *resourceOps, filter string) {
	lookup, ok := parseEqFilter(filter)
	if !ok {
		h.scimError(c, http.StatusBadRequest, scim.NewGatewayError(http.StatusBadRequest,
			`GET /%s having incorrect filter query syntax - only supporting eq - example: ?filter=userName eq "bjensen"`,
			ops.description))
		return
	}

	if lookup.Filter == "groups.value" || lookup.Filter == "members.value" {
		// inclusion query: all users of a group, or all groups having a member
		h.log.Debug("inclusion lookup",
			zap.String("resource", ops.description),
			zap.String("identifier", lookup.Identifier))
		data, err := ops.inclusion(c.Request.Context(), BaseEntity(c.Request), lookup.Identifier, c.Query("attributes"))
		if err != nil {
			h.scimError(c, http.StatusInternalServerError, err)
			return
		}
		list := scim.BuildList(data, 0, queryInt(c, "startIndex"))
		c.JSON(http.StatusOK, scim.ApplyListSchemas(list, h.version()))
		return
	}

	h.log.Debug("filtered lookup",
		zap.String("resource", ops.description),
		zap.String("filter", lookup.Filter),
		zap.String("identifier", lookup.Identifier))
	data, err := ops.get(c.Request.Context(), BaseEntity(c.Request), lookup, c.Query("attributes"))
	if err != nil {
		h.scimError(c, http.StatusNotFound, err)
		return
	}
	if len(data) == 0 && !h.version().IsV2() {
		// SCIM 1.1 answers a lookup miss with 404; 2.0 with an empty list
		h.scimError(c, http.StatusNotFound, notFoundError(ops.description, lookup))
		return
	}
	var resources []map[string]any
	if len(data) > 0 {
		data = scim.Prune(data, splitExcluded(c.Query("excludedAttributes")))
		resources = append(resources, data)
	}
	list := scim.BuildList(resources, 0, queryInt(c, "startIndex"))
	c.JSON(http.StatusOK, scim.ApplyListSchemas(list, h.version()))
}

func (h *Handler) getByID(resource string) gin.HandlerFunc {
	ops := h.resources[resource]
	return func(c *gin.Context) {
		// only excludedAttributes is accepted as a lone query parameter
		if q := c.Request.URL.Query(); len(q) > 0 {
			if _, ok := q["excludedAttributes"]; !ok || len(q) > 1 {
				h.scimError(c, http.StatusBadRequest, scim.NewGatewayError(http.StatusBadRequest,
					"incorrect syntax - using query only supports excludedAttributes"))
				return
			}
		}
		id := strings.TrimSuffix(c.Param("id"), ".json")
		lookup := connector.Lookup{Filter: "id", Identifier: id}
		data, err := ops.get(c.Request.Context(), BaseEntity(c.Request), lookup, c.Query("attributes"))
		if err != nil || len(data) == 0 {
			if err == nil {
				err = notFoundError(ops.description, lookup)
			}
			h.scimError(c, http.StatusNotFound, err)
			return
		}
		data = scim.Prune(data, splitExcluded(c.Query("excludedAttributes")))
		delete(data, "password")
		data = scim.ApplySchemas(data, ops.description, h.version())
		setMetaLocation(data, origin(c.Request)+c.Request.URL.Path)
		c.JSON(http.StatusOK, data)
	}
}

func (h *Handler) create(resource string) gin.HandlerFunc {
	ops := h.resources[resource]
	return func(c *gin.Context) {
		body, ok := decodeBody(c)
		if !ok {
			// malformed and empty creates answer 500, kept for client compatibility
			h.scimError(c, http.StatusInternalServerError, errEmptyBody("POST"))
			return
		}
		identity := firstString(body, "userName", "displayName", "externalId")
		switch ops.description {
		case "User":
			if firstString(body, "userName", "externalId") == "" {
				h.scimError(c, http.StatusInternalServerError,
					scim.NewGatewayError(http.StatusInternalServerError, "userName or externalId is mandatory"))
				return
			}
		case "Group":
			if firstString(body, "displayName", "externalId") == "" {
				h.scimError(c, http.StatusInternalServerError,
					scim.NewGatewayError(http.StatusInternalServerError, "displayName or externalId is mandatory"))
				return
			}
		}

		attrs := scim.Normalize(body)
		h.log.Debug("create", zap.String("resource", ops.description), zap.String("identity", identity))
		result, err := ops.create(c.Request.Context(), BaseEntity(c.Request), attrs)
		if err != nil {
			status := http.StatusInternalServerError
			if connector.IsDuplicateKey(err) {
				status = http.StatusConflict
			}
			h.scimError(c, status, err)
			return
		}
		location := fmt.Sprintf("%s%s/%s", origin(c.Request), c.Request.URL.Path, identity)
		c.Header("Location", location)
		c.JSON(http.StatusCreated, result)
	}
}

func (h *Handler) patch(resource string) gin.HandlerFunc {
	ops := h.resources[resource]
	return func(c *gin.Context) {
		raw, body, ok := decodeRawBody(c)
		if !ok {
			h.scimError(c, http.StatusInternalServerError, errEmptyBody("PATCH"))
			return
		}
		id := c.Param("id")

		var attrs map[string]any
		if h.version().IsV2() {
			var req scim.PatchRequest
			if err := json.Unmarshal(raw, &req); err != nil || len(req.Operations) == 0 {
				h.scimError(c, http.StatusInternalServerError, errEmptyBody("PATCH"))
				return
			}
			attrs = scim.ReducePatch(req.Operations, func(attr string) bool {
				return h.registry.IsMultiValued(ops.description, attr)
			})
		} else {
			attrs = scim.Normalize(body)
		}

		h.log.Debug("modify", zap.String("resource", ops.description), zap.String("id", id))
		if err := ops.modify(c.Request.Context(), BaseEntity(c.Request), id, attrs); err != nil {
			h.scimError(c, http.StatusInternalServerError, err)
			return
		}
		h.respondModified(c, body, id)
	}
}

func (h *Handler) put(resource string) gin.HandlerFunc {
	ops := h.resources[resource]
	return func(c *gin.Context) {
		_, body, ok := decodeRawBody(c)
		if !ok {
			h.scimError(c, http.StatusInternalServerError, errEmptyBody("PUT"))
			return
		}
		id := c.Param("id")

		attrs := scim.Normalize(body)
		// a replace carrying members is reduced to the membership delta alone
		if members, ok := attrs["members"]; ok {
			attrs = map[string]any{"members": members}
		}
		h.log.Debug("replace", zap.String("resource", ops.description), zap.String("id", id))
		if err := ops.modify(c.Request.Context(), BaseEntity(c.Request), id, attrs); err != nil {
			h.scimError(c, http.StatusInternalServerError, err)
			return
		}
		h.respondModified(c, body, id)
	}
}

// respondModified echoes the request body back rather than re-reading the
// resource, matching what provisioning engines expect after PATCH/PUT.
func (h *Handler) respondModified(c *gin.Context, body map[string]any, id string) {
	body["id"] = id
	delete(body, "password")
	c.Header("Location", origin(c.Request)+c.Request.URL.Path)
	c.JSON(http.StatusOK, body)
}

func (h *Handler) remove(resource string) gin.HandlerFunc {
	ops := h.resources[resource]
	return func(c *gin.Context) {
		id := c.Param("id")
		h.log.Debug("delete", zap.String("resource", ops.description), zap.String("id", id))
		if err := ops.remove(c.Request.Context(), BaseEntity(c.Request), id); err != nil {
			h.scimError(c, http.StatusInternalServerError, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// parseEqFilter accepts the eq-only filter grammar: `attr eq "value"`.
func parseEqFilter(filter string) (connector.Lookup, bool) {
	parts := strings.Split(filter, " ")
	if len(parts) < 3 || parts[1] != "eq" {
		return connector.Lookup{}, false
	}
	quote := strings.IndexByte(filter, '"')
	if quote < 0 {
		return connector.Lookup{}, false
	}
	identifier := strings.ReplaceAll(filter[quote:], `"`, "")
	return connector.Lookup{Filter: parts[0], Identifier: identifier}, true
}

func notFoundError(description string, lookup connector.Lookup) error {
	switch lookup.Filter {
	case "userName", "externalId", "id":
		return scim.NewGatewayError(http.StatusNotFound, "%s %s not found", description, lookup.Identifier)
	}
	return scim.NewGatewayError(http.StatusNotFound, "%s having %s=%s not found",
		description, lookup.Filter, lookup.Identifier)
}

func errEmptyBody(method string) error {
	return scim.NewGatewayError(http.StatusInternalServerError,
		"Not accepting empty or none JSON formatted %s requests", method)
}

func splitExcluded(excluded string) []string {
	if excluded == "" {
		return nil
	}
	return strings.Split(excluded, ",")
}

func setMetaLocation(data map[string]any, location string) {
	meta, ok := data["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		data["meta"] = meta
	}
	meta["location"] = location
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// decodeBody parses the request body as a JSON object, failing on empty or
// non-object payloads.
func decodeBody(c *gin.Context) (map[string]any, bool) {
	_, body, ok := decodeRawBody(c)
	return body, ok
}

func decodeRawBody(c *gin.Context) ([]byte, map[string]any, bool) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		return nil, nil, false
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || len(body) == 0 {
		return nil, nil, false
	}
	return raw, body, true
}
