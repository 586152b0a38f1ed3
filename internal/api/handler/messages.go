package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MarkRead flags the peer's messages in a conversation as read for the
// caller. This is the persistence-only half of the sent -> read transition;
// it is not wired through the socket layer.
func (h *Handler) MarkRead(c *gin.Context) {
	userID, _ := sessionUser(c)

	var body struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}

	if err := h.Storage.MarkRead(body.ConversationID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
