package authn

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Middleware authenticates every request through the chain. Failures answer
// 401 with a constant body so the response never reveals which strategies
// are configured; past the brute-force threshold the answer is additionally
// held back for the configured cooldown.
func (c *Chain) Middleware() gin.HandlerFunc {
	return func(g *gin.Context) {
		err := c.Evaluate(g.Request.Context(), g.Request)
		if err == nil {
			g.Header("Content-Type", "application/scim+json; charset=utf-8")
			g.Next()
			return
		}
		if delay := c.Delay(); delay > 0 {
			c.log.Error("authentication failed, delaying response to prevent brute force",
				zap.String("url", g.Request.URL.Path),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-g.Request.Context().Done():
			}
		} else if g.Request.URL.Path != "/favicon.ico" {
			c.log.Error("authentication failed",
				zap.String("url", g.Request.URL.Path),
				zap.Error(err))
		}
		g.Header("WWW-Authenticate", `Basic realm=""`)
		g.String(http.StatusUnauthorized, "Access denied")
		g.Abort()
	}
}
