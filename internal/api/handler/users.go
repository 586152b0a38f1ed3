package handler

import (
	"errors"
	"net/http"

	"dmchat/backend/internal/models"
	"dmchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

const searchLimit = 10

// SearchUsers matches handles against a substring query, excluding the
// caller. An empty query returns an empty list rather than everyone.
func (h *Handler) SearchUsers(c *gin.Context) {
	userID, _ := sessionUser(c)

	users, err := h.Storage.SearchUsers(userID, c.Query("q"), searchLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}

	results := make([]models.PublicUser, 0, len(users))
	for _, u := range users {
		results = append(results, u.Public())
	}
	c.JSON(http.StatusOK, results)
}

// GetUser resolves a public profile by username, used for peer lookup before
// opening a conversation.
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.Storage.GetUserByUsername(c.Param("username"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, user.Public())
}
