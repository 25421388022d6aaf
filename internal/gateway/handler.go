// Package gateway wires the SCIM route surface: discovery documents,
// resource CRUD for Users and Groups, and the non-SCIM API passthrough.
// Request handling translates between wire JSON and the normalized shape the
// backend connector understands.
package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimgate/internal/authn"
	"github.com/dhawalhost/scimgate/internal/connector"
	"github.com/dhawalhost/scimgate/internal/scim"
	"github.com/dhawalhost/scimgate/internal/schema"
)

// Handler serves the SCIM protocol against one backend connector.
type Handler struct {
	log      *zap.Logger
	registry *schema.Registry
	backend  connector.Connector
	api      connector.API

	resources map[string]*resourceOps
}

// NewHandler builds the handler and its capability table. If the backend
// also implements the API surface, the passthrough routes are served too.
func NewHandler(registry *schema.Registry, backend connector.Connector, log *zap.Logger) *Handler {
	h := &Handler{
		log:      log,
		registry: registry,
		backend:  backend,
	}
	if api, ok := backend.(connector.API); ok {
		h.api = api
	}
	h.resources = map[string]*resourceOps{
		"Users": {
			description: "User",
			explore:     backend.ExploreUsers,
			get:         backend.GetUser,
			inclusion:   backend.GetGroupUsers,
			create:      backend.CreateUser,
			modify:      backend.ModifyUser,
			remove:      backend.DeleteUser,
		},
		"Groups": {
			description: "Group",
			explore:     backend.ExploreGroups,
			get:         backend.GetGroup,
			inclusion:   backend.GetGroupMembers,
			create:      backend.CreateGroup,
			modify:      backend.ModifyGroup,
			remove:      backend.DeleteGroup,
		},
	}
	// servicePlans has no connector surface of its own; it reads and writes
	// through the user operations.
	h.resources["servicePlans"] = &resourceOps{
		description: "ServicePlan",
		explore:     backend.ExploreUsers,
		get:         backend.GetUser,
		inclusion:   backend.GetGroupUsers,
		create:      backend.CreateUser,
		modify:      backend.ModifyUser,
		remove:      backend.DeleteUser,
	}
	return h
}

// Routes assembles the full middleware stack and route table, returning the
// outer handler with path normalization applied ahead of routing.
func (h *Handler) Routes(chain *authn.Chain, extra ...gin.HandlerFunc) http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	for _, mw := range extra {
		engine.Use(mw)
	}
	if chain != nil {
		engine.Use(chain.Middleware())
	}
	engine.Use(verifyContentType())
	h.RegisterRoutes(engine)
	return normalizer{next: engine}
}

// RegisterRoutes attaches every SCIM and API route to the engine. Paths are
// canonical: baseEntity and /scim prefixes are already stripped by the
// normalizer.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/ping", h.ping)

	engine.GET("/ServiceProviderConfig", h.serviceProviderConfig)
	engine.GET("/ServiceProviderConfigs", h.serviceProviderConfig)
	engine.GET("/Schemas", h.schemas)
	engine.GET("/Schemas/:id", h.schemaByID)
	engine.GET("/ResourceTypes", h.resourceTypes)
	engine.GET("/ResourceType", h.resourceTypes)

	for name := range h.resources {
		group := engine.Group("/" + name)
		group.GET("", h.list(name))
		group.GET("/:id", h.getByID(name))
		group.POST("", h.create(name))
		group.PATCH("/:id", h.patch(name))
		group.PUT("/:id", h.put(name))
		group.DELETE("/:id", h.remove(name))
	}

	engine.GET("/connectormanagement/directoryconfigs", h.apiGet)
	engine.POST("/connectormanagement/directoryconfigs", h.apiPostDirectoryConfigs)
	engine.POST("/api", h.apiPost)
	engine.PUT("/api/:id", h.apiPut)
	engine.PATCH("/api/:id", h.apiPatch)
	engine.DELETE("/api/:id", h.apiDelete)
}

// resourceOps is the capability table entry for one resource type, bound to
// the connector at startup.
type resourceOps struct {
	description string
	explore     func(ctx context.Context, baseEntity, attributes string, startIndex, count int) (connector.ListResult, error)
	get         func(ctx context.Context, baseEntity string, lookup connector.Lookup, attributes string) (map[string]any, error)
	inclusion   func(ctx context.Context, baseEntity, identifier, attributes string) ([]map[string]any, error)
	create      func(ctx context.Context, baseEntity string, attrs map[string]any) (map[string]any, error)
	modify      func(ctx context.Context, baseEntity, id string, attrs map[string]any) error
	remove      func(ctx context.Context, baseEntity, id string) error
}

func (h *Handler) version() scim.Version { return h.registry.Version() }

func (h *Handler) ping(c *gin.Context) {
	c.String(http.StatusOK, "hello")
}

func (h *Handler) serviceProviderConfig(c *gin.Context) {
	doc := h.registry.ServiceProviderConfig()
	meta, ok := doc["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		doc["meta"] = meta
	}
	meta["location"] = origin(c.Request) + c.Request.URL.Path
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) schemas(c *gin.Context) {
	doc := h.registry.SchemasDocument()
	var resources []map[string]any
	if raw, ok := doc["Resources"].([]any); ok {
		for _, el := range raw {
			if m, ok := el.(map[string]any); ok {
				resources = append(resources, m)
			}
		}
	}
	list := scim.BuildList(resources, 0, 1)
	c.JSON(http.StatusOK, scim.ApplyListSchemas(list, h.version()))
}

func (h *Handler) schemaByID(c *gin.Context) {
	res, ok := h.registry.SchemaByName(c.Param("id"))
	if !ok {
		h.scimError(c, http.StatusNotFound,
			scim.NewGatewayError(http.StatusNotFound, "schema '%s' not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) resourceTypes(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ResourceTypes())
}

// scimError serializes err as the version-specific error envelope.
func (h *Handler) scimError(c *gin.Context, status int, err error) {
	c.JSON(status, scim.FormatError(h.version(), h.backend.Name(), status, err))
}

func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
