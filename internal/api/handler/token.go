package handler

import (
	"errors"
	"log"
	"net/http"

	"dmchat/backend/internal/token"

	"github.com/gin-gonic/gin"
)

// GetSocketToken mints a SocketToken for the authenticated session. The
// handle is required because the relay addresses users by handle and id.
func (h *Handler) GetSocketToken(c *gin.Context) {
	userID, username := sessionUser(c)

	signed, err := h.Issuer.Mint(userID, username)
	switch {
	case errors.Is(err, token.ErrIncompleteProfile):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Username not set"})
		return
	case errors.Is(err, token.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Not authenticated"})
		return
	case err != nil:
		log.Printf("ERROR: socket token mint failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Server misconfiguration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"token": signed}})
}
