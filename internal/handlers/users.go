package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync/internal/backend"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
)

type UserHandler struct {
	api backend.API
}

func NewUserHandler(api backend.API) *UserHandler {
	return &UserHandler{api: api}
}

// SearchUsers looks a user up by exact username; a miss is an empty list.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	user, err := h.api.SearchUser(c.Request.Context(), username)
	if err != nil {
		logger.Warn("user search failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to search users"})
		return
	}

	users := []models.Participant{}
	if user != nil {
		users = append(users, *user)
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
