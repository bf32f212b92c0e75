// Package admin provides the operator surface for the settlement engine:
// breaker control, nonce cache invalidation, blacklist management,
// on-demand fraud sweeps, stuck-payout recovery, and the security
// dashboard.
package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware guards admin routes with a shared secret passed in the
// X-Admin-Secret header. An empty configured secret disables the whole
// surface rather than leaving it open.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is disabled (no secret configured)",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret",
			})
			return
		}

		c.Next()
	}
}
