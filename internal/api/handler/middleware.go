package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Auth authenticates the session bearer token and stashes the caller's
// identity on the context. The session system minting these tokens is an
// external collaborator; the API only verifies them.
func (h *Handler) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := h.Verifier.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set("userID", claims.Subject)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func sessionUser(c *gin.Context) (userID, username string) {
	return c.GetString("userID"), c.GetString("username")
}
