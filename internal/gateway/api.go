package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/scimgate/internal/scim"
)

var errAPIUnsupported = errors.New("connector does not implement the api extension")

// apiError serializes err in the API envelope, distinct from the SCIM one.
func (h *Handler) apiError(c *gin.Context, status int, err error) {
	c.JSON(status, scim.FormatAPIError(h.backend.Name(), err))
}

// apiSuccess wraps a passthrough result with the success meta block. Results
// that are not objects are nested under a result key.
func apiSuccess(result any, location string) map[string]any {
	var out map[string]any
	switch v := result.(type) {
	case nil:
		out = map[string]any{}
	case map[string]any:
		out = map[string]any{"result": v}
	default:
		out = map[string]any{"result": v}
	}
	meta, ok := out["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		out["meta"] = meta
	}
	meta["result"] = "success"
	if location != "" {
		meta["location"] = location
	}
	return out
}

// apiGet serves the directory-config read used by provisioning engines to
// probe the endpoint.
func (h *Handler) apiGet(c *gin.Context) {
	if h.api == nil {
		h.apiError(c, http.StatusNotFound, errAPIUnsupported)
		return
	}
	result, err := h.api.GetAPI(c.Request.Context(), BaseEntity(c.Request), c.Query("id"), c.Request.URL.Query())
	if err != nil {
		h.apiError(c, http.StatusNotFound, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	meta, ok := result["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		result["meta"] = meta
	}
	meta["result"] = "success"
	meta["location"] = origin(c.Request) + c.Request.URL.Path
	c.JSON(http.StatusOK, result)
}

func (h *Handler) apiPostDirectoryConfigs(c *gin.Context) {
	if h.api == nil {
		h.apiError(c, http.StatusInternalServerError, errAPIUnsupported)
		return
	}
	body, ok := decodeBody(c)
	if !ok {
		h.apiError(c, http.StatusInternalServerError, errEmptyBody("POST"))
		return
	}
	result, err := h.api.PostAPI(c.Request.Context(), BaseEntity(c.Request), body)
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, apiSuccess(result, origin(c.Request)+c.Request.URL.Path))
}

func (h *Handler) apiPost(c *gin.Context) {
	if h.api == nil {
		h.apiError(c, http.StatusInternalServerError, errAPIUnsupported)
		return
	}
	body, ok := decodeBody(c)
	if !ok {
		h.apiError(c, http.StatusInternalServerError, errEmptyBody("POST"))
		return
	}
	result, err := h.api.PostAPI(c.Request.Context(), BaseEntity(c.Request), body)
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, apiSuccess(result, origin(c.Request)+c.Request.URL.Path))
}

func (h *Handler) apiPut(c *gin.Context) {
	if h.api == nil {
		h.apiError(c, http.StatusInternalServerError, errAPIUnsupported)
		return
	}
	body, ok := decodeBody(c)
	if !ok {
		h.apiError(c, http.StatusInternalServerError, errEmptyBody("PUT"))
		return
	}
	result, err := h.api.PutAPI(c.Request.Context(), BaseEntity(c.Request), c.Param("id"), body)
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, apiSuccess(result, origin(c.Request)+c.Request.URL.Path))
}

func (h *Handler) apiPatch(c *gin.Context) {
	if h.api == nil {
		h.apiError(c, http.StatusInternalServerError, errAPIUnsupported)
		return
	}
	body, ok := decodeBody(c)
	if !ok {
		h.apiError(c, http.StatusInternalServerError, errEmptyBody("PATCH"))
		return
	}
	result, err := h.api.PatchAPI(c.Request.Context(), BaseEntity(c.Request), c.Param("id"), body)
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, apiSuccess(result, origin(c.Request)+c.Request.URL.Path))
}

func (h *Handler) apiDelete(c *gin.Context) {
	if h.api == nil {
		h.apiError(c, http.StatusInternalServerError, errAPIUnsupported)
		return
	}
	result, err := h.api.DeleteAPI(c.Request.Context(), BaseEntity(c.Request), c.Param("id"))
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, apiSuccess(result, ""))
}
