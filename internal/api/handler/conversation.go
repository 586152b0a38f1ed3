package handler

import (
	"errors"
	"log"
	"net/http"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// GetConversation returns the full ordered history between the caller and the
// named peer, ascending by creation time.
func (h *Handler) GetConversation(c *gin.Context) {
	userID, _ := sessionUser(c)

	peer, err := h.Storage.GetUserByUsername(c.Param("username"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recipient not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load peer"})
		return
	}

	history, err := h.Storage.GetHistoryBetween(userID, peer.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if history == nil {
		history = []models.Message{}
	}
	c.JSON(http.StatusOK, history)
}

// PostMessage is the durable write path. It records the message independently
// of the socket path (the client dedup key collapses the two) and notifies
// the relay so peers connected to another node still get the push.
func (h *Handler) PostMessage(c *gin.Context) {
	userID, _ := sessionUser(c)

	var body struct {
		Content     string `json:"content"`
		ClientMsgID string `json:"clientMsgId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	peer, err := h.Storage.GetUserByUsername(c.Param("username"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Receiver not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load peer"})
		return
	}

	msg := models.Message{
		FromUserID:  userID,
		ToUserID:    peer.ID,
		Content:     body.Content,
		ClientMsgID: body.ClientMsgID,
	}
	if err := h.Storage.RecordMessage(&msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record message"})
		return
	}

	// Best effort: the write is durable either way, and connected peers on
	// this node are reached through the socket path.
	if err := h.Notifier.Notify(msg); err != nil {
		log.Printf("WARNING: relay notify for message %s failed: %v", msg.ID, err)
	}

	c.JSON(http.StatusCreated, msg)
}

// ListConversations returns the caller's conversations with last-message
// previews and unread counts.
func (h *Handler) ListConversations(c *gin.Context) {
	userID, _ := sessionUser(c)

	summaries, err := h.Storage.ListConversations(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	if summaries == nil {
		summaries = []storage.ConversationSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}
