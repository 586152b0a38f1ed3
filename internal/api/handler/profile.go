package handler

import (
	"errors"
	"log"
	"net/http"

	"dmchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// UpdateProfile assigns the caller's display handle during onboarding. The
// handle is set at most once; a user who already has one is rejected, and so
// is a handle another user owns. This is the only way out of the
// incomplete-profile state.
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, _ := sessionUser(c)

	var body struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid username provided"})
		return
	}

	err := h.Storage.SetUsername(userID, body.Username)
	switch {
	case errors.Is(err, storage.ErrUsernameSet):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "Username already set"})
		return
	case errors.Is(err, storage.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "This username is already taken."})
		return
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "User not found"})
		return
	case err != nil:
		log.Printf("ERROR: failed to set username for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Internal server error while setting username."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"username": body.Username}})
}
