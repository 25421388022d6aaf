package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleEviction is how long a client may stay quiet before its limiter state
// is dropped.
const idleEviction = 10 * time.Minute

// IPRateLimiter keeps one token bucket per client IP. Provisioning engines
// hit the gateway from a small set of addresses, so the map stays small;
// idle entries are evicted so an address scan cannot grow it unbounded.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	r       rate.Limit
	b       int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter allowing r requests per second with
// burst b per client IP.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		clients: make(map[string]*client),
		r:       r,
		b:       b,
	}
	go i.evictLoop()
	return i
}

func (i *IPRateLimiter) evictLoop() {
	for {
		time.Sleep(time.Minute)
		cutoff := time.Now().Add(-idleEviction)
		i.mu.Lock()
		for ip, c := range i.clients {
			if c.lastSeen.Before(cutoff) {
				delete(i.clients, ip)
			}
		}
		i.mu.Unlock()
	}
}

// GetLimiter returns the rate limiter for the given IP.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	c, ok := i.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(i.r, i.b)}
		i.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// RateLimitMiddleware creates a Gin middleware for per-IP rate limiting.
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(limit, burst)

	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
