package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type clientInfo struct {
	start time.Time
	count int
}

// SimpleRateLimit is the in-process fixed window limiter used when Redis is
// not configured. Counters live in the returned handler, so each call gets
// its own budget.
func SimpleRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	var mu sync.Mutex
	clients := make(map[string]*clientInfo)
	lastSweep := time.Now()

	return func(c *gin.Context) {
		ident := identity(c)
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > window {
			for k, ci := range clients {
				if now.Sub(ci.start) > window {
					delete(clients, k)
				}
			}
			lastSweep = now
		}
		ci, ok := clients[ident]
		if !ok || now.Sub(ci.start) > window {
			ci = &clientInfo{start: now}
			clients[ident] = ci
		}
		ci.count++
		count := ci.count
		mu.Unlock()

		if count > maxRequests {
			RLBlocked.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(window.Seconds()),
			})
			return
		}

		RLRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// identity keys limits per authenticated user, falling back to client IP.
func identity(c *gin.Context) string {
	if v, ok := c.Get(KeyUserID); ok {
		if id, ok := v.(int64); ok && id > 0 {
			return "u:" + strconv.FormatInt(id, 10)
		}
	}
	return "ip:" + c.ClientIP()
}
