package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimgate/internal/connector/memory"
	"github.com/dhawalhost/scimgate/internal/schema"
)

func newTestHandler(t *testing.T, version schema.Version) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry, err := schema.Load(version, "")
	require.NoError(t, err)
	backend := memory.New(registry)
	return NewHandler(registry, backend, zap.NewNop()).Routes(nil)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/scim+json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// filterTarget percent-encodes a filter expression into a request target,
// the way a SCIM client would send it on the wire.
func filterTarget(path, filter string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("filter", filter)
	return path + "?" + params.Encode()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestPing(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestServiceProviderConfig(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	for _, path := range []string{"/ServiceProviderConfig", "/ServiceProviderConfigs", "/scim/ServiceProviderConfig"} {
		w := do(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		doc := decode(t, w)
		meta := doc["meta"].(map[string]any)
		assert.Contains(t, meta["location"], "/ServiceProviderConfig")
	}
}

func TestSchemasAndResourceTypes(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodGet, "/Schemas", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	resources := doc["Resources"].([]any)
	assert.NotEmpty(t, resources)
	assert.EqualValues(t, len(resources), doc["itemsPerPage"])

	w = do(t, h, http.MethodGet, "/Schemas/Users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User", decode(t, w)["name"])

	w = do(t, h, http.MethodGet, "/Schemas/Nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/ResourceTypes", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExploreUsers(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, "/Users", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	resources := doc["Resources"].([]any)
	assert.EqualValues(t, len(resources), doc["itemsPerPage"])
	assert.EqualValues(t, 2, doc["totalResults"])
	assert.Contains(t, doc["schemas"], "urn:ietf:params:scim:api:messages:2.0:ListResponse")
}

func TestExplorePaging(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, "/Users?startIndex=1&count=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.EqualValues(t, 1, doc["itemsPerPage"])
	assert.EqualValues(t, 2, doc["totalResults"])

	w = do(t, h, http.MethodGet, "/Users?startIndex=10&count=1", "")
	doc = decode(t, w)
	assert.Empty(t, doc["Resources"])
	assert.EqualValues(t, 0, doc["itemsPerPage"])
}

func TestFilterLookupHit(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, filterTarget("/Users", `userName eq "bjensen"`, url.Values{"attributes": {"id,userName"}}), "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	resources := doc["Resources"].([]any)
	require.Len(t, resources, 1)
	assert.Equal(t, "bjensen", resources[0].(map[string]any)["userName"])
}

func TestFilterLookupMissVersionAsymmetry(t *testing.T) {
	v2 := newTestHandler(t, schema.Version20)
	w := do(t, v2, http.MethodGet, filterTarget("/Users", `userName eq "nosuch"`, nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.EqualValues(t, 0, doc["totalResults"])
	assert.Empty(t, doc["Resources"])

	v1 := newTestHandler(t, schema.Version11)
	w = do(t, v1, http.MethodGet, filterTarget("/Users", `userName eq "nosuch"`, nil), "")
	require.Equal(t, http.StatusNotFound, w.Code)
	doc = decode(t, w)
	errs := doc["Errors"].([]any)
	desc := errs[0].(map[string]any)["description"].(string)
	assert.Contains(t, desc, "User nosuch not found")
}

func TestFilterBadSyntax(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, filterTarget("/Users", `userName co "b"`, nil), "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	doc := decode(t, w)
	assert.Contains(t, doc["detail"], "only supporting eq")
}

func TestInclusionQueries(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodGet, filterTarget("/Users", `groups.value eq "Employees"`, nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.EqualValues(t, 2, doc["totalResults"])

	w = do(t, h, http.MethodGet, filterTarget("/Groups", `members.value eq "bjensen"`, nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	doc = decode(t, w)
	resources := doc["Resources"].([]any)
	require.Len(t, resources, 1)
	assert.Equal(t, "Employees", resources[0].(map[string]any)["displayName"])
}

func TestGetByID(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, "/Users/bjensen", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.Equal(t, "bjensen", doc["userName"])
	assert.Contains(t, doc["schemas"], "urn:ietf:params:scim:schemas:core:2.0:User")
	meta := doc["meta"].(map[string]any)
	assert.Equal(t, "User", meta["resourceType"])
	assert.Contains(t, meta["location"], "/Users/bjensen")

	w = do(t, h, http.MethodGet, "/Users/nosuch", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetByIDQueryGuard(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodGet, "/Users/bjensen?attributes=userName", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/Users/bjensen?excludedAttributes=emails", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "emails")
}

func TestCreateUser(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	body := `{"userName":"ahansen","active":true,"emails":[{"type":"work","value":"ah@example.com"}]}`

	w := do(t, h, http.MethodPost, "/Users", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Location"), "/Users/ahansen")
	assert.Equal(t, "ahansen", decode(t, w)["id"])

	w = do(t, h, http.MethodPost, "/Users", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateUserCompatibilityStatuses(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodPost, "/Users", "{}")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, h, http.MethodPost, "/Users", `{"active":true}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "userName or externalId is mandatory")

	w = do(t, h, http.MethodPost, "/Groups", `{"x":1}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "displayName or externalId is mandatory")
}

func TestContentTypeGate(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	req := httptest.NewRequest(http.MethodPost, "/Users", strings.NewReader(`{"userName":"x"}`))
	req.Header.Set("Content-Type", "text/xml")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Contains(t, w.Body.String(), "Content-Type header must be")
}

func TestPatchV2MembershipAndEcho(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	body := `{"schemas":["urn:ietf:params:scim:api:messages:2.0:PatchOp"],"Operations":[{"op":"add","path":"members","value":[{"value":"jsmith"}]}]}`

	w := do(t, h, http.MethodPatch, "/Groups/Admins", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode(t, w)
	assert.Equal(t, "Admins", doc["id"])
	assert.Contains(t, w.Header().Get("Location"), "/Groups/Admins")

	w = do(t, h, http.MethodGet, filterTarget("/Groups", `members.value eq "jsmith"`, nil), "")
	doc = decode(t, w)
	names := []string{}
	for _, r := range doc["Resources"].([]any) {
		names = append(names, r.(map[string]any)["displayName"].(string))
	}
	assert.Contains(t, names, "Admins")
}

func TestPatchV2AttributeReplace(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	body := `{"Operations":[{"op":"replace","path":"name.familyName","value":[{"value":"Hansen"}]}]}`

	w := do(t, h, http.MethodPatch, "/Users/bjensen", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/Users/bjensen", "")
	doc := decode(t, w)
	name := doc["name"].(map[string]any)
	assert.Equal(t, "Hansen", name["familyName"])
}

func TestPatchV1NormalizesBody(t *testing.T) {
	h := newTestHandler(t, schema.Version11)
	body := `{"schemas":["urn:scim:schemas:core:1.0"],"title":"Director"}`

	w := do(t, h, http.MethodPatch, "/Users/bjensen", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/Users/bjensen", "")
	assert.Equal(t, "Director", decode(t, w)["title"])
}

func TestPutGroupUsesMemberDeltaOnly(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	body := `{"displayName":"Admins","members":[{"value":"bjensen"}]}`

	w := do(t, h, http.MethodPut, "/Groups/Admins", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, filterTarget("/Groups", `members.value eq "bjensen"`, nil), "")
	doc := decode(t, w)
	names := []string{}
	for _, r := range doc["Resources"].([]any) {
		names = append(names, r.(map[string]any)["displayName"].(string))
	}
	assert.Contains(t, names, "Admins")
}

func TestDeleteUser(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodDelete, "/Users/jsmith", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodDelete, "/Users/jsmith", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBaseEntityRouting(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodDelete, "/clientA/Users/bjensen", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	// default tenant unaffected
	w = do(t, h, http.MethodGet, "/Users/bjensen", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/clientA/scim/Users/bjensen", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIPassthrough(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodPost, "/api", `{"id":"cfg1","eventName":"AssignRole"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	doc := decode(t, w)
	meta := doc["meta"].(map[string]any)
	assert.Equal(t, "success", meta["result"])

	w = do(t, h, http.MethodPatch, "/api/cfg1", `{"subjectName":"System-B"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodDelete, "/api/cfg1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDirectoryConfigs(t *testing.T) {
	h := newTestHandler(t, schema.Version20)
	w := do(t, h, http.MethodGet, "/connectormanagement/directoryconfigs", "")
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode(t, w)["meta"].(map[string]any)
	assert.Equal(t, "success", meta["result"])
	assert.Contains(t, meta["location"], "/connectormanagement/directoryconfigs")
}

func TestServicePlansSharesUserSurface(t *testing.T) {
	h := newTestHandler(t, schema.Version20)

	w := do(t, h, http.MethodGet, "/servicePlans?startIndex=1&count=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.EqualValues(t, 2, doc["totalResults"])

	w = do(t, h, http.MethodGet, "/servicePlans/bjensen", "")
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode(t, w)
	assert.Equal(t, "bjensen", plan["id"])
}
