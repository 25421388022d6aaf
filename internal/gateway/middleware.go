package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type baseEntityKey struct{}

// knownRoots are the first path segments belonging to the canonical route
// surface. Any other leading segment is treated as a baseEntity selector.
var knownRoots = map[string]struct{}{
	"ping":                  {},
	"favicon.ico":           {},
	"scim":                  {},
	"Users":                 {},
	"Groups":                {},
	"servicePlans":          {},
	"Schemas":               {},
	"ServiceProviderConfig": {},
	"ServiceProviderConfigs": {},
	"ResourceTypes":          {},
	"ResourceType":           {},
	"api":                    {},
	"connectormanagement":    {},
	"metrics":                {},
	"healthz":                {},
}

// normalizer rewrites incoming paths before routing: an optional leading
// baseEntity segment is captured into the request context and an optional
// /scim prefix is stripped, so /clientA/scim/Users and /Users reach the same
// route.
type normalizer struct {
	next http.Handler
}

func (n normalizer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	trimmed := strings.TrimPrefix(path, "/")
	if seg, rest, _ := strings.Cut(trimmed, "/"); seg != "" {
		if _, known := knownRoots[seg]; !known && rest != "" {
			r = r.WithContext(context.WithValue(r.Context(), baseEntityKey{}, seg))
			path = "/" + rest
		}
	}
	path = strings.TrimPrefix(path, "/scim/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	r.URL.Path = path
	n.next.ServeHTTP(w, r)
}

// BaseEntity returns the tenant selector captured from the request path, or
// the empty string for the default tenant.
func BaseEntity(r *http.Request) string {
	if v, ok := r.Context().Value(baseEntityKey{}).(string); ok {
		return v
	}
	return ""
}

// verifyContentType rejects request bodies that are not JSON. Requests
// without a body pass through untouched.
func verifyContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > 0 {
			ct := c.ContentType()
			if ct != "application/json" && ct != "application/scim+json" {
				c.String(http.StatusUnsupportedMediaType,
					"Content-Type header must be 'application/json' or 'application/scim+json'")
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
