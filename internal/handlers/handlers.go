// Package handlers contains the gin HTTP handlers. There is no ambient
// auth context: every request must carry the acting user's id in the
// X-User-ID header, and handlers pass it down explicitly.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const userIDHeader = "X-User-ID"

// RequireUserID is middleware that rejects requests without a user id.
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(userIDHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-User-ID header is required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader(userIDHeader)
}
